package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QuoteMode says which side of the trade is fixed.
type QuoteMode string

const (
	QuoteModeExactIn  QuoteMode = "exact_in"
	QuoteModeExactOut QuoteMode = "exact_out"
)

// Quote is an immutable priced view of a trade against one pool snapshot.
//
// For exact_in quotes AmountIn is the fixed input, ExpectedAmountOut the
// computed output, MinAmountOut its slippage floor and MaxAmountIn == AmountIn.
// For exact_out quotes AmountOut is the fixed output (== MinAmountOut),
// ExpectedAmountIn the computed input and MaxAmountIn its slippage ceiling.
type Quote struct {
	ID                uuid.UUID       `json:"id"`
	UserID            string          `json:"user_id,omitempty"`
	PoolID            string          `json:"pool_id"`
	TokenIn           string          `json:"token_in"`
	TokenOut          string          `json:"token_out"`
	Direction         Direction       `json:"direction"`
	Mode              QuoteMode       `json:"mode"`
	AmountIn          *big.Int        `json:"amount_in"`
	AmountOut         *big.Int        `json:"amount_out,omitempty"`
	ExpectedAmountOut *big.Int        `json:"expected_amount_out"`
	ExpectedAmountIn  *big.Int        `json:"expected_amount_in"`
	MinAmountOut      *big.Int        `json:"min_amount_out"`
	MaxAmountIn       *big.Int        `json:"max_amount_in"`
	MaxSlippageBps    int64           `json:"max_slippage_bps"`
	PriceImpactBps    int64           `json:"price_impact_bps"`
	HighImpactWarning bool            `json:"high_impact_warning"`
	SpotPrice         decimal.Decimal `json:"spot_price"`
	ExecutionPrice    decimal.Decimal `json:"execution_price"`
	PoolSnapshotID    string          `json:"pool_snapshot_id"`
	ComputedAt        time.Time       `json:"computed_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
}

// ValidAt reports whether the quote's validity window still covers now.
// Pure: no clock reads, no side effects.
func (q *Quote) ValidAt(now time.Time) bool {
	if q == nil {
		return false
	}
	return !now.Before(q.ComputedAt) && now.Before(q.ExpiresAt)
}

// InputBound is the most the trade may spend: AmountIn for exact_in, MaxAmountIn for exact_out.
func (q *Quote) InputBound() *big.Int {
	if q.Mode == QuoteModeExactOut {
		return q.MaxAmountIn
	}
	return q.AmountIn
}
