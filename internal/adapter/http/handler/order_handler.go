package handler

import (
	"dex-trade-core/internal/adapter/http/middleware"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"
	"dex-trade-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OrderHandler serves order lookups.
type OrderHandler struct {
	ledgerSvc ports.LedgerService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(ledgerSvc ports.LedgerService) *OrderHandler {
	return &OrderHandler{ledgerSvc: ledgerSvc}
}

// GetOrder handles GET /api/v1/orders/:id. Orders of other users read as not found.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("Order"))
		return
	}

	order, err := h.ledgerSvc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if order == nil || order.UserID != userID {
		response.Error(c, apperror.ErrNotFound("Order"))
		return
	}

	history, err := h.ledgerSvc.History(c.Request.Context(), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toOrderResponse(order, history))
}
