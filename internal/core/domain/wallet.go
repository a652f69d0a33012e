package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletSource records how a wallet's key material came to exist.
type WalletSource string

const (
	WalletSourceGenerated WalletSource = "generated"
	WalletSourceImported  WalletSource = "imported"
)

// KDFAlgorithmHKDFSHA256 derives a per-envelope AES key from the master key.
const KDFAlgorithmHKDFSHA256 = "hkdf-sha256"

// EncryptionEnvelope is the sealed private key. Opaque outside the vault.
type EncryptionEnvelope struct {
	Ciphertext []byte `json:"-"`
	Nonce      []byte `json:"-"`
	KeyVersion int    `json:"key_version"`
}

// KeyDerivationParams describe how the envelope's data key was derived from
// the master key identified by EncryptionEnvelope.KeyVersion.
type KeyDerivationParams struct {
	Algorithm string `json:"algorithm"`
	Salt      []byte `json:"-"`
	Info      string `json:"-"`
}

// Wallet is a user's signing identity. The address is derived from the sealed
// key and must match it at every signing operation.
type Wallet struct {
	ID          uuid.UUID           `json:"id"`
	OwnerUserID string              `json:"owner_user_id"`
	Label       string              `json:"label"`
	Address     string              `json:"address"` // EIP-55
	Envelope    EncryptionEnvelope  `json:"-"`
	KDF         KeyDerivationParams `json:"-"`
	Source      WalletSource        `json:"source"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// OwnedBy reports whether userID owns the wallet.
func (w *Wallet) OwnedBy(userID string) bool {
	return w.OwnerUserID == userID
}
