package ports

import (
	"context"
	"errors"
	"math/big"
	"time"

	"dex-trade-core/internal/core/domain"

	"github.com/google/uuid"
)

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(eventType string, timestamp int64, body string) string
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims. UserID is the front-end user identity.
type TokenClaims struct {
	UserID string
}

// IdempotencyCache maps a trade client reference to its recorded result.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached value or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// QuoteStore keeps issued quotes for their validity window and marks them used.
type QuoteStore interface {
	Save(ctx context.Context, quote *domain.Quote, ttl time.Duration) error
	// Get returns nil, nil for unknown or expired quotes.
	Get(ctx context.Context, id uuid.UUID) (*domain.Quote, error)
	// Consume atomically marks the quote used. Returns false if it was already consumed.
	Consume(ctx context.Context, id uuid.UUID, ttl time.Duration) (bool, error)
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// ErrLockNotAcquired is returned when the lock wait is cut short by ctx.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Unlock releases a lock obtained from WalletLocker.
type Unlock func(ctx context.Context) error

// WalletLocker serializes signing and submission per wallet.
type WalletLocker interface {
	// Lock blocks until the lock is held or ctx is done. ttl bounds how long a
	// crashed holder can keep the lock.
	Lock(ctx context.Context, walletID uuid.UUID, ttl time.Duration) (Unlock, error)
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// WalletService is the wallet registry.
type WalletService interface {
	CreateWallet(ctx context.Context, userID, label string) (*domain.Wallet, error)
	ImportWallet(ctx context.Context, req ImportWalletRequest) (*domain.Wallet, error)
	GetWallet(ctx context.Context, userID string, walletID uuid.UUID) (*domain.Wallet, error)
	ListWallets(ctx context.Context, userID string) ([]domain.Wallet, error)
	RotateWalletKey(ctx context.Context, userID string, walletID uuid.UUID) (*domain.Wallet, error)
}

// ImportWalletRequest holds input for importing an existing key.
// RawPrivateKey is zeroed by the service before it returns.
type ImportWalletRequest struct {
	UserID          string
	RawPrivateKey   []byte
	Label           string
	ExpectedAddress *string
}

// QuoteService is the quote engine.
type QuoteService interface {
	GetQuote(ctx context.Context, req QuoteRequest) (*domain.Quote, error)
	// LookupQuote returns a stored quote issued to userID. A quote issued to
	// someone else is reported like an unknown one.
	LookupQuote(ctx context.Context, userID string, id uuid.UUID) (*domain.Quote, error)
	ValidateQuote(q *domain.Quote, now time.Time) bool
}

// QuoteRequest asks for a price. Exactly one of AmountIn (exact_in) and
// AmountOut (exact_out) is set. MaxSlippageBps == 0 selects the default.
type QuoteRequest struct {
	UserID         string
	TokenIn        string
	TokenOut       string
	AmountIn       *big.Int
	AmountOut      *big.Int
	Direction      domain.Direction
	MaxSlippageBps int64
}

// AssetService answers balance and token metadata reads for the front-end.
type AssetService interface {
	// WalletBalance returns the wallet's native balance, or its balance of
	// token when token is set. Wallets of other users are not found.
	WalletBalance(ctx context.Context, userID string, walletID uuid.UUID, token string) (*domain.Balance, error)
	TokenInfo(ctx context.Context, token string) (*domain.TokenInfo, error)
}

// TradeService is the trade executor.
type TradeService interface {
	ExecuteTrade(ctx context.Context, req TradeRequest) (*domain.Order, error)
}

// TradeRequest holds validated input for one trade. When QuoteID is set the
// stored quote is used (and consumed) instead of computing a fresh one.
type TradeRequest struct {
	UserID         string
	WalletID       uuid.UUID
	TokenIn        string
	TokenOut       string
	AmountIn       *big.Int
	AmountOut      *big.Int
	Direction      domain.Direction
	MaxSlippageBps int64
	QuoteID        *uuid.UUID
	ClientRef      string
}

// LedgerService is the order ledger.
type LedgerService interface {
	Record(ctx context.Context, order *domain.Order) error
	UpdateState(ctx context.Context, orderID uuid.UUID, to domain.OrderState, details domain.TransitionDetails) (*domain.Order, error)
	AppendNote(ctx context.Context, orderID uuid.UUID, note string) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Order, error)
	ListByState(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error)
}

// OrderNotifier pushes order updates to the front-end callback.
type OrderNotifier interface {
	NotifyOrder(ctx context.Context, order *domain.Order) error
}
