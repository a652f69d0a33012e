package vault

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the required master key length (AES-256).
	MasterKeySize = 32
	saltSize      = 32
	dataKeySize   = 32
	infoPrefix    = "wallet-key:"
)

var (
	errVaultClosed   = errors.New("vault is closed")
	errAuthFailed    = errors.New("envelope failed authentication")
	errAddressDrift  = errors.New("decrypted key does not derive the stored address")
	errBadMasterSize = fmt.Errorf("master key must be %d bytes", MasterKeySize)
)

// Vault seals wallet keys and signs transactions with them. Plaintext keys
// exist only inside a keyHandle for the duration of one signing call.
type Vault struct {
	mu             sync.RWMutex
	masters        map[int][]byte
	current        int
	wallets        ports.WalletReader
	signingTimeout time.Duration
	entropy        io.Reader
	now            func() time.Time
	log            zerolog.Logger
	closed         bool
}

// Option customises a Vault.
type Option func(*Vault)

// WithSigningTimeout bounds how long a decrypted key may stay usable.
func WithSigningTimeout(d time.Duration) Option {
	return func(v *Vault) { v.signingTimeout = d }
}

// WithEntropy replaces crypto/rand for salts and nonces.
func WithEntropy(r io.Reader) Option {
	return func(v *Vault) { v.entropy = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New builds a vault over the given master keys, indexed by key version.
// The map is copied; callers should zero their own copies.
func New(masters map[int][]byte, current int, wallets ports.WalletReader, log zerolog.Logger, opts ...Option) (*Vault, error) {
	if _, ok := masters[current]; !ok {
		return nil, fmt.Errorf("no master key for current version %d", current)
	}
	v := &Vault{
		masters:        make(map[int][]byte, len(masters)),
		current:        current,
		wallets:        wallets,
		signingTimeout: 5 * time.Second,
		entropy:        rand.Reader,
		now:            time.Now,
		log:            log.With().Str("component", "vault").Logger(),
	}
	for version, key := range masters {
		if len(key) != MasterKeySize {
			v.Close()
			return nil, fmt.Errorf("master key version %d: %w", version, errBadMasterSize)
		}
		v.masters[version] = bytes.Clone(key)
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log.Info().Int("key_version", current).Int("loaded_versions", len(v.masters)).Msg("vault initialised")
	return v, nil
}

// CurrentVersion is the key version new envelopes are sealed under.
func (v *Vault) CurrentVersion() int {
	return v.current
}

// Seal encrypts key for walletID under the current master key. The envelope
// is bound to the wallet id and address through the GCM additional data.
func (v *Vault) Seal(walletID uuid.UUID, address string, key *ecdsa.PrivateKey) (domain.EncryptionEnvelope, domain.KeyDerivationParams, error) {
	if key == nil {
		return domain.EncryptionEnvelope{}, domain.KeyDerivationParams{}, apperror.ErrEncryptionFailure(errors.New("nil key"))
	}
	plain := crypto.FromECDSA(key)
	defer zeroBytes(plain)
	return v.encrypt(walletID, address, plain)
}

// Reseal re-encrypts a wallet's key under the current master key.
func (v *Vault) Reseal(ctx context.Context, w *domain.Wallet) (domain.EncryptionEnvelope, domain.KeyDerivationParams, error) {
	h, err := v.open(w)
	if err != nil {
		return domain.EncryptionEnvelope{}, domain.KeyDerivationParams{}, err
	}
	defer h.Close()

	var (
		env domain.EncryptionEnvelope
		kdf domain.KeyDerivationParams
	)
	err = h.use(func(key *ecdsa.PrivateKey) error {
		plain := crypto.FromECDSA(key)
		defer zeroBytes(plain)
		var sealErr error
		env, kdf, sealErr = v.encrypt(w.ID, w.Address, plain)
		return sealErr
	})
	if err != nil {
		return domain.EncryptionEnvelope{}, domain.KeyDerivationParams{}, err
	}
	v.log.Info().Str("wallet_id", w.ID.String()).
		Int("from_version", w.Envelope.KeyVersion).Int("to_version", env.KeyVersion).
		Msg("wallet key resealed")
	return env, kdf, nil
}

// Sign loads the wallet's envelope, decrypts it, signs tx for chainID and
// destroys the plaintext before returning.
func (v *Vault) Sign(ctx context.Context, walletID uuid.UUID, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, v.signingTimeout)
	defer cancel()

	w, err := v.wallets.GetByID(ctx, walletID)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperror.ErrSigningTimeout()
		}
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrKeyNotFound()
	}

	h, err := v.open(w)
	if err != nil {
		v.log.Warn().Str("wallet_id", walletID.String()).Str("error_code", apperror.CodeOf(err)).Msg("open envelope failed")
		return nil, err
	}
	defer h.Close()

	if ctx.Err() != nil {
		return nil, apperror.ErrSigningTimeout()
	}

	var signed *types.Transaction
	err = h.use(func(key *ecdsa.PrivateKey) error {
		var signErr error
		signed, signErr = types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
		return signErr
	})
	if err != nil {
		return nil, err
	}
	return signed, nil
}

// Close zeroes every master key. Later calls fail.
func (v *Vault) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for version, key := range v.masters {
		zeroBytes(key)
		delete(v.masters, version)
	}
	v.closed = true
}

// open decrypts w's envelope into a handle that expires after the signing timeout.
func (v *Vault) open(w *domain.Wallet) (*keyHandle, error) {
	if w == nil {
		return nil, apperror.ErrKeyNotFound()
	}
	if len(w.Envelope.Ciphertext) == 0 || len(w.Envelope.Nonce) == 0 {
		return nil, apperror.ErrKeyNotFound()
	}

	v.mu.RLock()
	if v.closed {
		v.mu.RUnlock()
		return nil, apperror.ErrEncryptionFailure(errVaultClosed)
	}
	master, ok := v.masters[w.Envelope.KeyVersion]
	if !ok {
		v.mu.RUnlock()
		return nil, apperror.ErrKeyNotFound()
	}
	aead, err := newAEAD(master, w.KDF.Salt, w.KDF.Info)
	v.mu.RUnlock()
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}

	plain, err := aead.Open(nil, w.Envelope.Nonce, w.Envelope.Ciphertext, additionalData(w.ID, w.Address))
	if err != nil {
		return nil, apperror.ErrAuthentication(errAuthFailed)
	}
	defer zeroBytes(plain)

	key, err := crypto.ToECDSA(plain)
	if err != nil {
		return nil, apperror.ErrAuthentication(errAuthFailed)
	}
	if !strings.EqualFold(crypto.PubkeyToAddress(key.PublicKey).Hex(), w.Address) {
		zeroKey(key)
		return nil, apperror.ErrAuthentication(errAddressDrift)
	}
	return newKeyHandle(key, v.now().Add(v.signingTimeout), v.now), nil
}

func (v *Vault) encrypt(walletID uuid.UUID, address string, plain []byte) (domain.EncryptionEnvelope, domain.KeyDerivationParams, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(v.entropy, salt); err != nil {
		return domain.EncryptionEnvelope{}, domain.KeyDerivationParams{}, apperror.ErrEncryptionFailure(fmt.Errorf("generating salt: %w", err))
	}
	info := infoPrefix + walletID.String()

	v.mu.RLock()
	if v.closed {
		v.mu.RUnlock()
		return domain.EncryptionEnvelope{}, domain.KeyDerivationParams{}, apperror.ErrEncryptionFailure(errVaultClosed)
	}
	aead, err := newAEAD(v.masters[v.current], salt, info)
	version := v.current
	v.mu.RUnlock()
	if err != nil {
		return domain.EncryptionEnvelope{}, domain.KeyDerivationParams{}, apperror.ErrEncryptionFailure(err)
	}

	// The data key is unique per salt, so a nonce is never reused under one key.
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(v.entropy, nonce); err != nil {
		return domain.EncryptionEnvelope{}, domain.KeyDerivationParams{}, apperror.ErrEncryptionFailure(fmt.Errorf("generating nonce: %w", err))
	}

	ciphertext := aead.Seal(nil, nonce, plain, additionalData(walletID, address))
	return domain.EncryptionEnvelope{
			Ciphertext: ciphertext,
			Nonce:      nonce,
			KeyVersion: version,
		}, domain.KeyDerivationParams{
			Algorithm: domain.KDFAlgorithmHKDFSHA256,
			Salt:      salt,
			Info:      info,
		}, nil
}

// newAEAD derives the per-envelope data key and wraps it in AES-256-GCM.
func newAEAD(master, salt []byte, info string) (cipher.AEAD, error) {
	dataKey := make([]byte, dataKeySize)
	defer zeroBytes(dataKey)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, salt, []byte(info)), dataKey); err != nil {
		return nil, fmt.Errorf("deriving data key: %w", err)
	}
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}

func additionalData(walletID uuid.UUID, address string) []byte {
	ad := make([]byte, 0, 16+common.AddressLength)
	ad = append(ad, walletID[:]...)
	return append(ad, common.HexToAddress(address).Bytes()...)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
