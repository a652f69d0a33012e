package handler

import (
	"dex-trade-core/internal/adapter/http/dto"
	"dex-trade-core/internal/adapter/http/middleware"
	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"
	"dex-trade-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// WarningHighPriceImpact is returned when a quote crosses the impact threshold.
const WarningHighPriceImpact = "HIGH_PRICE_IMPACT"

// QuoteHandler handles quote endpoints.
type QuoteHandler struct {
	quoteSvc ports.QuoteService
}

// NewQuoteHandler creates a new QuoteHandler.
func NewQuoteHandler(quoteSvc ports.QuoteService) *QuoteHandler {
	return &QuoteHandler{quoteSvc: quoteSvc}
}

// GetQuote handles POST /api/v1/quotes.
// The quote is issued to the caller; only they can later trade it by id.
func (h *QuoteHandler) GetQuote(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	q, err := h.quoteSvc.GetQuote(c.Request.Context(), ports.QuoteRequest{
		UserID:         userID,
		TokenIn:        req.TokenIn,
		TokenOut:       req.TokenOut,
		AmountIn:       dto.ParseBaseUnits(req.AmountIn),
		AmountOut:      dto.ParseBaseUnits(req.AmountOut),
		Direction:      domain.Direction(req.Direction),
		MaxSlippageBps: req.MaxSlippageBps,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if q.HighImpactWarning {
		response.OKWithWarnings(c, toQuoteResponse(q), []string{WarningHighPriceImpact})
		return
	}
	response.OK(c, toQuoteResponse(q))
}
