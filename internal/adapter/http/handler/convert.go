package handler

import (
	"math/big"
	"time"

	"dex-trade-core/internal/adapter/http/dto"
	"dex-trade-core/internal/core/domain"
)

func toWalletResponse(w *domain.Wallet) dto.WalletResponse {
	return dto.WalletResponse{
		ID:         w.ID.String(),
		Address:    w.Address,
		Label:      w.Label,
		Source:     string(w.Source),
		KeyVersion: w.Envelope.KeyVersion,
		CreatedAt:  formatTime(w.CreatedAt),
		UpdatedAt:  formatTime(w.UpdatedAt),
	}
}

func toBalanceResponse(b *domain.Balance) dto.BalanceResponse {
	return dto.BalanceResponse{
		WalletID:  b.WalletID.String(),
		Address:   b.Address,
		Token:     b.Token,
		Symbol:    b.Symbol,
		Decimals:  b.Decimals,
		Amount:    b.Amount.String(),
		Formatted: b.Formatted(),
		ReadAt:    formatTime(b.ReadAt),
	}
}

func toTokenInfoResponse(t *domain.TokenInfo) dto.TokenInfoResponse {
	return dto.TokenInfoResponse{
		Address:  t.Address,
		Name:     t.Name,
		Symbol:   t.Symbol,
		Decimals: t.Decimals,
	}
}

func toQuoteResponse(q *domain.Quote) dto.QuoteResponse {
	resp := dto.QuoteResponse{
		ID:                q.ID.String(),
		PoolID:            q.PoolID,
		TokenIn:           q.TokenIn,
		TokenOut:          q.TokenOut,
		Direction:         string(q.Direction),
		Mode:              string(q.Mode),
		AmountIn:          bigString(q.AmountIn),
		ExpectedAmountOut: bigString(q.ExpectedAmountOut),
		MinAmountOut:      bigString(q.MinAmountOut),
		MaxAmountIn:       bigString(q.MaxAmountIn),
		MaxSlippageBps:    q.MaxSlippageBps,
		PriceImpactBps:    q.PriceImpactBps,
		SpotPrice:         q.SpotPrice.String(),
		ExecutionPrice:    q.ExecutionPrice.String(),
		PoolSnapshotID:    q.PoolSnapshotID,
		ComputedAt:        formatTime(q.ComputedAt),
		ExpiresAt:         formatTime(q.ExpiresAt),
	}
	if q.Mode == domain.QuoteModeExactOut {
		resp.AmountOut = optBigString(q.AmountOut)
		resp.ExpectedAmountIn = optBigString(q.ExpectedAmountIn)
	}
	return resp
}

func toOrderResponse(o *domain.Order, history []domain.OrderEvent) dto.OrderResponse {
	resp := dto.OrderResponse{
		ID:                o.ID.String(),
		WalletID:          o.WalletID.String(),
		Direction:         string(o.Direction),
		QuoteID:           o.QuoteID.String(),
		TokenIn:           o.TokenIn,
		TokenOut:          o.TokenOut,
		AmountIn:          bigString(o.AmountIn),
		ExpectedAmountOut: bigString(o.ExpectedAmountOut),
		MinAmountOut:      optBigString(o.MinAmountOut),
		MaxAmountIn:       optBigString(o.MaxAmountIn),
		State:             string(o.State),
		TxHash:            o.TxHash,
		Nonce:             o.Nonce,
		FailureReason:     o.FailureReason,
		GasUsed:           o.GasUsed,
		BlockNumber:       o.BlockNumber,
		ClientRef:         o.ClientRef,
		CreatedAt:         formatTime(o.CreatedAt),
		SubmittedAt:       optTime(o.SubmittedAt),
		FinalizedAt:       optTime(o.FinalizedAt),
	}
	for _, e := range history {
		resp.History = append(resp.History, dto.OrderEventResponse{
			FromState: string(e.FromState),
			ToState:   string(e.ToState),
			Note:      e.Note,
			CreatedAt: formatTime(e.CreatedAt),
		})
	}
	return resp
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optBigString(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
