package service

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"
	"dex-trade-core/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	privateKeyHexLen = 64
	maxLabelLen      = 64
)

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	walletRepo ports.WalletRepository
	sealer     ports.KeySealer
	maxPerUser int
	entropy    io.Reader
	log        zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl. A nil entropy reader selects crypto/rand.
func NewWalletService(
	walletRepo ports.WalletRepository,
	sealer ports.KeySealer,
	maxPerUser int,
	entropy io.Reader,
	log zerolog.Logger,
) *WalletServiceImpl {
	if entropy == nil {
		entropy = rand.Reader
	}
	return &WalletServiceImpl{
		walletRepo: walletRepo,
		sealer:     sealer,
		maxPerUser: maxPerUser,
		entropy:    entropy,
		log:        logger.Component(log, "wallet_registry"),
	}
}

// CreateWallet generates a fresh key pair, seals it and persists the wallet.
// An entropy failure is fatal for the request and is not retried.
func (s *WalletServiceImpl) CreateWallet(ctx context.Context, userID, label string) (*domain.Wallet, error) {
	if err := s.checkNewWallet(ctx, userID, label); err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(crypto.S256(), s.entropy)
	if err != nil {
		s.log.Error().Str("user_id", userID).Msg("entropy source failed during key generation")
		return nil, apperror.ErrGeneration(err)
	}
	defer zeroPrivateKey(key)

	return s.persist(ctx, userID, label, key, domain.WalletSourceGenerated)
}

// ImportWallet validates a raw hex private key and stores it sealed.
// req.RawPrivateKey is zeroed on every path.
func (s *WalletServiceImpl) ImportWallet(ctx context.Context, req ports.ImportWalletRequest) (*domain.Wallet, error) {
	defer zeroBytes(req.RawPrivateKey)

	if err := s.checkNewWallet(ctx, req.UserID, req.Label); err != nil {
		return nil, err
	}

	key, err := parsePrivateKey(req.RawPrivateKey)
	if err != nil {
		return nil, err
	}
	defer zeroPrivateKey(key)

	if req.ExpectedAddress != nil {
		expected := strings.TrimSpace(*req.ExpectedAddress)
		if !isChecksumAddress(expected) {
			return nil, apperror.ErrInvalidKey("expected address is not a valid checksummed address")
		}
		if common.HexToAddress(expected) != crypto.PubkeyToAddress(key.PublicKey) {
			return nil, apperror.ErrInvalidKey("key does not match expected address")
		}
	}

	return s.persist(ctx, req.UserID, req.Label, key, domain.WalletSourceImported)
}

// GetWallet returns a wallet owned by userID.
func (s *WalletServiceImpl) GetWallet(ctx context.Context, userID string, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil || !w.OwnedBy(userID) {
		return nil, apperror.ErrNotFound("Wallet")
	}
	return w, nil
}

func (s *WalletServiceImpl) ListWallets(ctx context.Context, userID string) ([]domain.Wallet, error) {
	wallets, err := s.walletRepo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list wallets: %w", err))
	}
	if wallets == nil {
		wallets = []domain.Wallet{}
	}
	return wallets, nil
}

// RotateWalletKey reseals the wallet's key under the vault's current master key.
func (s *WalletServiceImpl) RotateWalletKey(ctx context.Context, userID string, walletID uuid.UUID) (*domain.Wallet, error) {
	w, err := s.GetWallet(ctx, userID, walletID)
	if err != nil {
		return nil, err
	}

	env, kdf, err := s.sealer.Reseal(ctx, w)
	if err != nil {
		return nil, err
	}

	if err := s.walletRepo.UpdateEnvelope(ctx, w.ID, w.Envelope.KeyVersion, env, kdf); err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return nil, apperror.ErrWalletBusy(err)
		}
		return nil, apperror.InternalError(fmt.Errorf("update envelope: %w", err))
	}

	from := w.Envelope.KeyVersion
	w.Envelope, w.KDF = env, kdf
	w.UpdatedAt = time.Now().UTC()

	s.log.Info().
		Str("wallet_id", w.ID.String()).
		Int("from_version", from).
		Int("to_version", env.KeyVersion).
		Msg("wallet key rotated")
	return w, nil
}

func (s *WalletServiceImpl) checkNewWallet(ctx context.Context, userID, label string) error {
	if strings.TrimSpace(userID) == "" {
		return apperror.Validation("user_id is required")
	}
	if len(label) > maxLabelLen {
		return apperror.Validation(fmt.Sprintf("label must be at most %d characters", maxLabelLen))
	}
	if s.maxPerUser <= 0 {
		return nil
	}
	count, err := s.walletRepo.CountByOwner(ctx, userID)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("count wallets: %w", err))
	}
	if count >= s.maxPerUser {
		return apperror.ErrWalletLimit(s.maxPerUser)
	}
	return nil
}

func (s *WalletServiceImpl) persist(ctx context.Context, userID, label string, key *ecdsa.PrivateKey, source domain.WalletSource) (*domain.Wallet, error) {
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	id := uuid.New()

	env, kdf, err := s.sealer.Seal(id, address, key)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w := &domain.Wallet{
		ID:          id,
		OwnerUserID: userID,
		Label:       label,
		Address:     address,
		Envelope:    env,
		KDF:         kdf,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// checkNewWallet ran before key generation; the capped insert settles races.
	if err := s.walletRepo.CreateCapped(ctx, w, s.maxPerUser); err != nil {
		if errors.Is(err, ports.ErrLimitReached) {
			return nil, apperror.ErrWalletLimit(s.maxPerUser)
		}
		return nil, apperror.InternalError(fmt.Errorf("create wallet: %w", err))
	}

	s.log.Info().
		Str("wallet_id", id.String()).
		Str("user_id", userID).
		Str("address", logger.ShortHex(address)).
		Str("source", string(source)).
		Msg("wallet stored")
	return w, nil
}

// parsePrivateKey decodes 32 hex-encoded bytes (optional 0x prefix) without
// building intermediate strings from the secret.
func parsePrivateKey(raw []byte) (*ecdsa.PrivateKey, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.HasPrefix(trimmed, []byte("0x")) || bytes.HasPrefix(trimmed, []byte("0X")) {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != privateKeyHexLen {
		return nil, apperror.ErrInvalidKey(fmt.Sprintf("expected %d hex characters", privateKeyHexLen))
	}

	buf := make([]byte, privateKeyHexLen/2)
	defer zeroBytes(buf)
	if _, err := hex.Decode(buf, trimmed); err != nil {
		return nil, apperror.ErrInvalidKey("not hex encoded")
	}

	key, err := crypto.ToECDSA(buf)
	if err != nil {
		return nil, apperror.ErrInvalidKey("scalar out of range")
	}
	return key, nil
}

// isChecksumAddress accepts all-lowercase or all-uppercase hex, and otherwise
// requires the EIP-55 mixed-case checksum.
func isChecksumAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex() == "0x"+body
}

func zeroPrivateKey(k *ecdsa.PrivateKey) {
	if k == nil || k.D == nil {
		return
	}
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
	k.D.SetInt64(0)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
