package postgres

import (
	"context"
	"errors"
	"fmt"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletColumnList = `id, owner_user_id, label, address, envelope_ciphertext, envelope_nonce, key_version,
		kdf_algorithm, kdf_salt, kdf_info, source, created_at, updated_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet into the database.
func (r *WalletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	return insertWallet(ctx, r.pool, w)
}

// CreateCapped serialises inserts per owner with a transaction-scoped advisory
// lock, so the count it checks cannot change before the insert commits.
func (r *WalletRepo) CreateCapped(ctx context.Context, w *domain.Wallet, max int) error {
	if max <= 0 {
		return r.Create(ctx, w)
	}
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, w.OwnerUserID); err != nil {
			return fmt.Errorf("lock owner wallets: %w", err)
		}
		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM wallets WHERE owner_user_id = $1`, w.OwnerUserID).Scan(&n); err != nil {
			return fmt.Errorf("count wallets by owner: %w", err)
		}
		if n >= max {
			return ports.ErrLimitReached
		}
		return insertWallet(ctx, tx, w)
	})
}

func insertWallet(ctx context.Context, db execer, w *domain.Wallet) error {
	query := `INSERT INTO wallets (` + walletColumnList + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := db.Exec(ctx, query,
		w.ID, w.OwnerUserID, w.Label, w.Address,
		w.Envelope.Ciphertext, w.Envelope.Nonce, w.Envelope.KeyVersion,
		w.KDF.Algorithm, w.KDF.Salt, w.KDF.Info, string(w.Source),
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", mapUnique(err))
	}
	return nil
}

// GetByID fetches a wallet by its UUID.
func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumnList + ` FROM wallets WHERE id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet by id: %w", err)
	}
	return w, nil
}

// ListByOwner returns a user's wallets, oldest first.
func (r *WalletRepo) ListByOwner(ctx context.Context, userID string) ([]domain.Wallet, error) {
	query := `SELECT ` + walletColumnList + ` FROM wallets WHERE owner_user_id = $1 ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	return wallets, rows.Err()
}

// CountByOwner returns how many wallets a user holds.
func (r *WalletRepo) CountByOwner(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wallets WHERE owner_user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count wallets: %w", err)
	}
	return n, nil
}

// UpdateEnvelope swaps the sealed key if the row is still at fromVersion.
func (r *WalletRepo) UpdateEnvelope(ctx context.Context, id uuid.UUID, fromVersion int, env domain.EncryptionEnvelope, kdf domain.KeyDerivationParams) error {
	query := `UPDATE wallets
		SET envelope_ciphertext = $1, envelope_nonce = $2, key_version = $3,
			kdf_algorithm = $4, kdf_salt = $5, kdf_info = $6, updated_at = NOW()
		WHERE id = $7 AND key_version = $8`

	tag, err := r.pool.Exec(ctx, query,
		env.Ciphertext, env.Nonce, env.KeyVersion,
		kdf.Algorithm, kdf.Salt, kdf.Info,
		id, fromVersion,
	)
	if err != nil {
		return fmt.Errorf("update wallet envelope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrConflict
	}
	return nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	var source string
	err := row.Scan(
		&w.ID, &w.OwnerUserID, &w.Label, &w.Address,
		&w.Envelope.Ciphertext, &w.Envelope.Nonce, &w.Envelope.KeyVersion,
		&w.KDF.Algorithm, &w.KDF.Salt, &w.KDF.Info, &source,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Source = domain.WalletSource(source)
	return w, nil
}
