package ports

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"dex-trade-core/internal/core/domain"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// TransactionSigner is the only signing entry point. It is handed to the
// trade executor and nothing else.
type TransactionSigner interface {
	Sign(ctx context.Context, walletID uuid.UUID, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeySealer seals fresh key material and re-seals existing envelopes under
// the current master key. It never returns plaintext.
type KeySealer interface {
	Seal(walletID uuid.UUID, address string, key *ecdsa.PrivateKey) (domain.EncryptionEnvelope, domain.KeyDerivationParams, error)
	Reseal(ctx context.Context, wallet *domain.Wallet) (domain.EncryptionEnvelope, domain.KeyDerivationParams, error)
	CurrentVersion() int
}

// SecretSource supplies the vault master secret once at startup.
type SecretSource interface {
	Load(ctx context.Context) ([]byte, error)
	Name() string
}
