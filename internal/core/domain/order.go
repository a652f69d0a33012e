package domain

import (
	"bytes"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Direction is the trade side relative to the pool's quote asset (token0).
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// OrderState is a step of the trade lifecycle.
type OrderState string

const (
	OrderStateCreated   OrderState = "CREATED"
	OrderStateQuoted    OrderState = "QUOTED"
	OrderStateSigned    OrderState = "SIGNED"
	OrderStateSubmitted OrderState = "SUBMITTED"
	OrderStateConfirmed OrderState = "CONFIRMED"
	OrderStateFailed    OrderState = "FAILED"
	OrderStateExpired   OrderState = "EXPIRED"
)

// stateRank orders the non-terminal states; terminal states share the last rank.
var stateRank = map[OrderState]int{
	OrderStateCreated:   0,
	OrderStateQuoted:    1,
	OrderStateSigned:    2,
	OrderStateSubmitted: 3,
	OrderStateConfirmed: 4,
	OrderStateFailed:    4,
	OrderStateExpired:   4,
}

// Valid reports whether s is a known state.
func (s OrderState) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// IsTerminal returns true for CONFIRMED, FAILED and EXPIRED.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateConfirmed || s == OrderStateFailed || s == OrderStateExpired
}

// CanTransition reports whether from -> to is a single forward step of
// CREATED -> QUOTED -> SIGNED -> SUBMITTED -> {CONFIRMED | FAILED | EXPIRED}.
// Terminal states never move.
func CanTransition(from, to OrderState) bool {
	fr, ok := stateRank[from]
	if !ok {
		return false
	}
	tr, ok := stateRank[to]
	if !ok {
		return false
	}
	if from.IsTerminal() {
		return false
	}
	return tr == fr+1
}

// Order is one trade attempt. Amounts are base units of the respective token.
type Order struct {
	ID                uuid.UUID  `json:"id"`
	WalletID          uuid.UUID  `json:"wallet_id"`
	UserID            string     `json:"user_id"`
	Direction         Direction  `json:"direction"`
	QuoteID           uuid.UUID  `json:"quote_id"`
	TokenIn           string     `json:"token_in"`
	TokenOut          string     `json:"token_out"`
	AmountIn          *big.Int   `json:"amount_in"`
	ExpectedAmountOut *big.Int   `json:"expected_amount_out"`
	MinAmountOut      *big.Int   `json:"min_amount_out"`
	MaxAmountIn       *big.Int   `json:"max_amount_in"`
	TxHash            *string    `json:"tx_hash,omitempty"`
	Nonce             *uint64    `json:"nonce,omitempty"`
	State             OrderState `json:"state"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	GasUsed           *uint64    `json:"gas_used,omitempty"`
	BlockNumber       *uint64    `json:"block_number,omitempty"`
	ClientRef         string     `json:"client_ref,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
}

// IsTerminal returns true if the order reached a final state.
func (o *Order) IsTerminal() bool {
	return o.State.IsTerminal()
}

// TransitionDetails carries the facts recorded alongside a state change.
type TransitionDetails struct {
	TxHash        *string
	FailureReason *string
	GasUsed       *uint64
	BlockNumber   *uint64
	Note          string
	At            time.Time
}

// OrderEvent is an append-only history row. Corrections to terminal orders
// are events with FromState == ToState and a Note.
type OrderEvent struct {
	ID        uuid.UUID  `json:"id"`
	OrderID   uuid.UUID  `json:"order_id"`
	FromState OrderState `json:"from_state"`
	ToState   OrderState `json:"to_state"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// OrderCursor marks the last row of a page ordered by (SubmittedAt, ID).
type OrderCursor struct {
	SubmittedAt time.Time
	ID          uuid.UUID
}

// CursorOf returns the cursor positioned on o.
func CursorOf(o *Order) *OrderCursor {
	if o == nil || o.SubmittedAt == nil {
		return nil
	}
	return &OrderCursor{SubmittedAt: *o.SubmittedAt, ID: o.ID}
}

// OrderFilter selects orders by state and submission window. Results are
// ordered by (submitted_at, id) ascending.
type OrderFilter struct {
	State OrderState
	// Zero bounds are open. The window is [SubmittedAfter, SubmittedBefore).
	SubmittedAfter  time.Time
	SubmittedBefore time.Time
	// After resumes strictly past a previous page.
	After *OrderCursor
	// SkipNotePrefix drops orders whose history already has a correction
	// note starting with this prefix.
	SkipNotePrefix string
	Limit          int
}

// Matches reports whether o passes the filter. Note exclusion is left to the
// store because it needs the order's history.
func (f OrderFilter) Matches(o *Order) bool {
	if o.State != f.State || o.SubmittedAt == nil {
		return false
	}
	at := *o.SubmittedAt
	if !f.SubmittedAfter.IsZero() && at.Before(f.SubmittedAfter) {
		return false
	}
	if !f.SubmittedBefore.IsZero() && !at.Before(f.SubmittedBefore) {
		return false
	}
	if f.After != nil {
		if at.Before(f.After.SubmittedAt) {
			return false
		}
		if at.Equal(f.After.SubmittedAt) && bytes.Compare(o.ID[:], f.After.ID[:]) <= 0 {
			return false
		}
	}
	return true
}

// IsCorrection reports whether e is a note appended to an order without a state change.
func (e OrderEvent) IsCorrection() bool {
	return e.FromState == e.ToState
}

