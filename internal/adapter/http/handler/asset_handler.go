package handler

import (
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// AssetHandler serves balance and token metadata reads.
type AssetHandler struct {
	assetSvc ports.AssetService
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(assetSvc ports.AssetService) *AssetHandler {
	return &AssetHandler{assetSvc: assetSvc}
}

// Balance handles GET /api/v1/wallets/:id/balance. Without ?token= the native
// coin balance is returned.
func (h *AssetHandler) Balance(c *gin.Context) {
	userID, walletID, ok := walletParams(c)
	if !ok {
		return
	}

	bal, err := h.assetSvc.WalletBalance(c.Request.Context(), userID, walletID, c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toBalanceResponse(bal))
}

// TokenInfo handles GET /api/v1/tokens/:address.
func (h *AssetHandler) TokenInfo(c *gin.Context) {
	info, err := h.assetSvc.TokenInfo(c.Request.Context(), c.Param("address"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTokenInfoResponse(info))
}
