package dto

// Token amounts are integer strings in the token's base units, so values
// above 2^53 survive JSON clients that parse numbers as doubles.

// CreateWalletRequest is the request body for wallet creation.
type CreateWalletRequest struct {
	Label string `json:"label" binding:"max=64"`
}

// ImportWalletRequest is the request body for importing an existing key.
type ImportWalletRequest struct {
	PrivateKey      string  `json:"private_key" binding:"required,private_key_hex"`
	Label           string  `json:"label" binding:"max=64"`
	ExpectedAddress *string `json:"expected_address,omitempty" binding:"omitempty,eth_addr"`
}

// WalletResponse is the public view of a wallet. Key material is never included.
type WalletResponse struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	Label      string `json:"label"`
	Source     string `json:"source"`
	KeyVersion int    `json:"key_version"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// BalanceResponse is one wallet holding. Token and Symbol are empty for the
// native coin.
type BalanceResponse struct {
	WalletID  string `json:"wallet_id"`
	Address   string `json:"address"`
	Token     string `json:"token,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Decimals  uint8  `json:"decimals"`
	Amount    string `json:"amount"`
	Formatted string `json:"formatted"`
	ReadAt    string `json:"read_at"`
}

// TokenInfoResponse is the ERC-20 metadata of a token.
type TokenInfoResponse struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// QuoteRequest is the request body for a price quote.
// Exactly one of AmountIn and AmountOut must be set.
type QuoteRequest struct {
	TokenIn        string  `json:"token_in" binding:"required,eth_addr"`
	TokenOut       string  `json:"token_out" binding:"required,eth_addr"`
	Direction      string  `json:"direction" binding:"required,oneof=buy sell"`
	AmountIn       *string `json:"amount_in,omitempty" binding:"omitempty,base_units"`
	AmountOut      *string `json:"amount_out,omitempty" binding:"omitempty,base_units"`
	MaxSlippageBps int64   `json:"max_slippage_bps" binding:"min=0"`
}

// QuoteResponse is the response body for a quote.
type QuoteResponse struct {
	ID                string  `json:"id"`
	PoolID            string  `json:"pool_id"`
	TokenIn           string  `json:"token_in"`
	TokenOut          string  `json:"token_out"`
	Direction         string  `json:"direction"`
	Mode              string  `json:"mode"`
	AmountIn          string  `json:"amount_in"`
	AmountOut         *string `json:"amount_out,omitempty"`
	ExpectedAmountOut string  `json:"expected_amount_out"`
	ExpectedAmountIn  *string `json:"expected_amount_in,omitempty"`
	MinAmountOut      string  `json:"min_amount_out"`
	MaxAmountIn       string  `json:"max_amount_in"`
	MaxSlippageBps    int64   `json:"max_slippage_bps"`
	PriceImpactBps    int64   `json:"price_impact_bps"`
	SpotPrice         string  `json:"spot_price"`
	ExecutionPrice    string  `json:"execution_price"`
	PoolSnapshotID    string  `json:"pool_snapshot_id"`
	ComputedAt        string  `json:"computed_at"`
	ExpiresAt         string  `json:"expires_at"`
}

// TradeRequest is the request body for trade execution. When QuoteID is set
// the stored quote is executed and the amount fields must match it.
type TradeRequest struct {
	WalletID       string  `json:"wallet_id" binding:"required,uuid"`
	TokenIn        string  `json:"token_in" binding:"required,eth_addr"`
	TokenOut       string  `json:"token_out" binding:"required,eth_addr"`
	Direction      string  `json:"direction" binding:"required,oneof=buy sell"`
	AmountIn       *string `json:"amount_in,omitempty" binding:"omitempty,base_units"`
	AmountOut      *string `json:"amount_out,omitempty" binding:"omitempty,base_units"`
	MaxSlippageBps int64   `json:"max_slippage_bps" binding:"min=0"`
	QuoteID        *string `json:"quote_id,omitempty" binding:"omitempty,uuid"`
	ClientRef      string  `json:"client_ref" binding:"omitempty,max=100,safe_id"`
}

// OrderResponse is the public view of an order.
type OrderResponse struct {
	ID                string               `json:"id"`
	WalletID          string               `json:"wallet_id"`
	Direction         string               `json:"direction"`
	QuoteID           string               `json:"quote_id"`
	TokenIn           string               `json:"token_in"`
	TokenOut          string               `json:"token_out"`
	AmountIn          string               `json:"amount_in"`
	ExpectedAmountOut string               `json:"expected_amount_out"`
	MinAmountOut      *string              `json:"min_amount_out,omitempty"`
	MaxAmountIn       *string              `json:"max_amount_in,omitempty"`
	State             string               `json:"state"`
	TxHash            *string              `json:"tx_hash,omitempty"`
	Nonce             *uint64              `json:"nonce,omitempty"`
	FailureReason     *string              `json:"failure_reason,omitempty"`
	GasUsed           *uint64              `json:"gas_used,omitempty"`
	BlockNumber       *uint64              `json:"block_number,omitempty"`
	ClientRef         string               `json:"client_ref,omitempty"`
	CreatedAt         string               `json:"created_at"`
	SubmittedAt       *string              `json:"submitted_at,omitempty"`
	FinalizedAt       *string              `json:"finalized_at,omitempty"`
	History           []OrderEventResponse `json:"history,omitempty"`
}

// OrderEventResponse is one history row.
type OrderEventResponse struct {
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

// OrderListResponse wraps a wallet's recent orders.
type OrderListResponse struct {
	Items []OrderResponse `json:"items"`
	Limit int             `json:"limit"`
}
