// Package memory holds in-process implementations of the storage ports for
// storage.driver=memory and for tests. Nothing here survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"

	"github.com/google/uuid"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]domain.Wallet
}

func NewWalletRepo() *WalletRepo {
	return &WalletRepo{wallets: make(map[uuid.UUID]domain.Wallet)}
}

func (r *WalletRepo) Create(_ context.Context, w *domain.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[w.ID]; ok {
		return ports.ErrDuplicate
	}
	r.wallets[w.ID] = cloneWallet(*w)
	return nil
}

func (r *WalletRepo) CreateCapped(_ context.Context, w *domain.Wallet, max int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if max > 0 && r.countLocked(w.OwnerUserID) >= max {
		return ports.ErrLimitReached
	}
	if _, ok := r.wallets[w.ID]; ok {
		return ports.ErrDuplicate
	}
	r.wallets[w.ID] = cloneWallet(*w)
	return nil
}

// GetByID returns nil, nil when the wallet does not exist.
func (r *WalletRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[id]
	if !ok {
		return nil, nil
	}
	c := cloneWallet(w)
	return &c, nil
}

func (r *WalletRepo) ListByOwner(_ context.Context, userID string) ([]domain.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Wallet
	for _, w := range r.wallets {
		if w.OwnerUserID == userID {
			out = append(out, cloneWallet(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *WalletRepo) CountByOwner(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(userID), nil
}

func (r *WalletRepo) countLocked(userID string) int {
	n := 0
	for _, w := range r.wallets {
		if w.OwnerUserID == userID {
			n++
		}
	}
	return n
}

func (r *WalletRepo) UpdateEnvelope(_ context.Context, id uuid.UUID, fromVersion int, env domain.EncryptionEnvelope, kdf domain.KeyDerivationParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[id]
	if !ok {
		return fmt.Errorf("wallet %s not found", id)
	}
	if w.Envelope.KeyVersion != fromVersion {
		return ports.ErrConflict
	}
	w.Envelope = domain.EncryptionEnvelope{
		Ciphertext: append([]byte(nil), env.Ciphertext...),
		Nonce:      append([]byte(nil), env.Nonce...),
		KeyVersion: env.KeyVersion,
	}
	w.KDF = domain.KeyDerivationParams{Algorithm: kdf.Algorithm, Salt: append([]byte(nil), kdf.Salt...), Info: kdf.Info}
	w.UpdatedAt = time.Now().UTC()
	r.wallets[id] = w
	return nil
}

// cloneWallet copies the envelope bytes so callers cannot mutate stored state.
func cloneWallet(w domain.Wallet) domain.Wallet {
	w.Envelope.Ciphertext = append([]byte(nil), w.Envelope.Ciphertext...)
	w.Envelope.Nonce = append([]byte(nil), w.Envelope.Nonce...)
	w.KDF.Salt = append([]byte(nil), w.KDF.Salt...)
	return w
}
