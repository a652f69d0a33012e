package handler

import (
	"dex-trade-core/internal/adapter/http/dto"
	"dex-trade-core/internal/adapter/http/middleware"
	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"
	"dex-trade-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TradeHandler handles trade execution.
type TradeHandler struct {
	tradeSvc ports.TradeService
}

// NewTradeHandler creates a new TradeHandler.
func NewTradeHandler(tradeSvc ports.TradeService) *TradeHandler {
	return &TradeHandler{tradeSvc: tradeSvc}
}

// Execute handles POST /api/v1/trades. The call blocks until the order is
// final or the executor's wait budget runs out; SUBMITTED is a valid result.
func (h *TradeHandler) Execute(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		response.Error(c, apperror.Validation("wallet_id must be a UUID"))
		return
	}

	tradeReq := ports.TradeRequest{
		UserID:         userID,
		WalletID:       walletID,
		TokenIn:        req.TokenIn,
		TokenOut:       req.TokenOut,
		AmountIn:       dto.ParseBaseUnits(req.AmountIn),
		AmountOut:      dto.ParseBaseUnits(req.AmountOut),
		Direction:      domain.Direction(req.Direction),
		MaxSlippageBps: req.MaxSlippageBps,
		ClientRef:      req.ClientRef,
	}
	if req.QuoteID != nil {
		id, err := uuid.Parse(*req.QuoteID)
		if err != nil {
			response.Error(c, apperror.Validation("quote_id must be a UUID"))
			return
		}
		tradeReq.QuoteID = &id
	}

	order, err := h.tradeSvc.ExecuteTrade(c.Request.Context(), tradeReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, order.ID.String())
	response.Created(c, toOrderResponse(order, nil))
}
