package handler

import (
	"strconv"

	"dex-trade-core/internal/adapter/http/dto"
	"dex-trade-core/internal/adapter/http/middleware"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"
	"dex-trade-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultOrderListLimit = 20
	maxOrderListLimit     = 100
)

// WalletHandler handles wallet endpoints.
type WalletHandler struct {
	walletSvc ports.WalletService
	ledgerSvc ports.LedgerService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(walletSvc ports.WalletService, ledgerSvc ports.LedgerService) *WalletHandler {
	return &WalletHandler{walletSvc: walletSvc, ledgerSvc: ledgerSvc}
}

// Create handles POST /api/v1/wallets.
func (h *WalletHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	w, err := h.walletSvc.CreateWallet(c.Request.Context(), userID, req.Label)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, w.ID.String())
	response.Created(c, toWalletResponse(w))
}

// Import handles POST /api/v1/wallets/import.
func (h *WalletHandler) Import(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.ImportWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// The binding error would echo the rejected field value.
		response.Error(c, apperror.Validation("private_key must be 32 bytes of hex"))
		return
	}

	// The service decodes the hex text itself and zeroes it.
	w, err := h.walletSvc.ImportWallet(c.Request.Context(), ports.ImportWalletRequest{
		UserID:          userID,
		RawPrivateKey:   []byte(req.PrivateKey),
		Label:           req.Label,
		ExpectedAddress: req.ExpectedAddress,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, w.ID.String())
	response.Created(c, toWalletResponse(w))
}

// List handles GET /api/v1/wallets.
func (h *WalletHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	wallets, err := h.walletSvc.ListWallets(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.WalletResponse, 0, len(wallets))
	for i := range wallets {
		items = append(items, toWalletResponse(&wallets[i]))
	}
	response.OK(c, items)
}

// Get handles GET /api/v1/wallets/:id.
func (h *WalletHandler) Get(c *gin.Context) {
	userID, walletID, ok := walletParams(c)
	if !ok {
		return
	}

	w, err := h.walletSvc.GetWallet(c.Request.Context(), userID, walletID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(w))
}

// RotateKey handles POST /api/v1/wallets/:id/rotate-key.
func (h *WalletHandler) RotateKey(c *gin.Context) {
	userID, walletID, ok := walletParams(c)
	if !ok {
		return
	}

	w, err := h.walletSvc.RotateWalletKey(c.Request.Context(), userID, walletID)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, w.ID.String())
	response.OK(c, toWalletResponse(w))
}

// ListOrders handles GET /api/v1/wallets/:id/orders.
func (h *WalletHandler) ListOrders(c *gin.Context) {
	userID, walletID, ok := walletParams(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultOrderListLimit)))
	if err != nil || limit < 1 || limit > maxOrderListLimit {
		limit = defaultOrderListLimit
	}

	// Ownership check.
	if _, err := h.walletSvc.GetWallet(c.Request.Context(), userID, walletID); err != nil {
		response.Error(c, err)
		return
	}

	orders, err := h.ledgerSvc.ListOrders(c.Request.Context(), walletID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.OrderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, toOrderResponse(&orders[i], nil))
	}
	response.OK(c, dto.OrderListResponse{Items: items, Limit: limit})
}

// walletParams reads the authenticated user and the :id path parameter.
// On failure the error response has already been written.
func walletParams(c *gin.Context) (string, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return "", uuid.Nil, false
	}
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("Wallet"))
		return "", uuid.Nil, false
	}
	return userID, walletID, true
}
