package ports

import (
	"context"
	"errors"

	"dex-trade-core/internal/core/domain"

	"github.com/google/uuid"
)

// ErrDuplicate is returned by repositories when a create hits an existing primary key.
var ErrDuplicate = errors.New("duplicate record")

// ErrLimitReached is returned by a capped create when the owner is already at the cap.
var ErrLimitReached = errors.New("limit reached")

// ErrConflict is returned when a conditional update finds the row already changed.
var ErrConflict = errors.New("concurrent update")

// WalletReader is the read side the vault needs to locate an envelope.
type WalletReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
}

// WalletRepository defines persistence operations for wallets.
// Lookups return nil, nil when the wallet does not exist.
type WalletRepository interface {
	WalletReader
	Create(ctx context.Context, wallet *domain.Wallet) error
	// CreateCapped inserts wallet unless its owner already holds max wallets,
	// in which case ErrLimitReached is returned. The count and the insert are
	// atomic per owner. max <= 0 means no cap.
	CreateCapped(ctx context.Context, wallet *domain.Wallet, max int) error
	ListByOwner(ctx context.Context, userID string) ([]domain.Wallet, error)
	CountByOwner(ctx context.Context, userID string) (int, error)
	// UpdateEnvelope replaces the sealed key only if the stored envelope is still
	// at fromVersion, otherwise it returns ErrConflict.
	UpdateEnvelope(ctx context.Context, id uuid.UUID, fromVersion int, env domain.EncryptionEnvelope, kdf domain.KeyDerivationParams) error
}

// OrderRepository defines persistence operations for the order ledger.
// Every write also appends the given event in the same database transaction.
type OrderRepository interface {
	// Insert fails with ErrDuplicate when the order id already exists.
	Insert(ctx context.Context, order *domain.Order, event *domain.OrderEvent) error
	// CompareAndSetState moves the order from -> to. It returns false when the
	// stored state is no longer from (nothing is written in that case).
	CompareAndSetState(ctx context.Context, id uuid.UUID, from, to domain.OrderState, details domain.TransitionDetails, event *domain.OrderEvent) (bool, error)
	AppendEvent(ctx context.Context, event *domain.OrderEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Order, error)
	// ListByState returns orders matching the filter ordered by
	// (submitted_at, id). Zero bounds are open.
	ListByState(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error)
	ListEvents(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// NotificationRepository persists callback delivery attempts.
type NotificationRepository interface {
	Create(ctx context.Context, delivery *domain.NotificationDelivery) error
	Update(ctx context.Context, delivery *domain.NotificationDelivery) error
}
