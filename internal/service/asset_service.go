package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"
	"dex-trade-core/pkg/logger"
	"dex-trade-core/pkg/retry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// AssetServiceImpl implements ports.AssetService.
//
// Token metadata never changes once deployed, so it is cached for the life of
// the process. Balances are always read live.
type AssetServiceImpl struct {
	wallets   ports.WalletReader
	chain     ports.AccountReader
	readRetry retry.Config
	group     singleflight.Group
	tokens    sync.Map // checksummed address -> *domain.TokenInfo
	now       func() time.Time
	log       zerolog.Logger
}

// NewAssetService creates a new AssetServiceImpl.
func NewAssetService(wallets ports.WalletReader, chain ports.AccountReader, log zerolog.Logger) *AssetServiceImpl {
	return &AssetServiceImpl{
		wallets:   wallets,
		chain:     chain,
		readRetry: retry.DefaultConfig(),
		now:       time.Now,
		log:       logger.Component(log, "assets"),
	}
}

func (s *AssetServiceImpl) WalletBalance(ctx context.Context, userID string, walletID uuid.UUID, token string) (*domain.Balance, error) {
	if token != "" && !common.IsHexAddress(token) {
		return nil, apperror.ErrInvalidAddress("token")
	}

	w, err := s.wallets.GetByID(ctx, walletID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil || !w.OwnedBy(userID) {
		return nil, apperror.ErrNotFound("Wallet")
	}

	bal := &domain.Balance{WalletID: w.ID, Address: w.Address, Decimals: domain.NativeDecimals}
	if token == "" {
		bal.Amount, err = s.read(ctx, "native balance", func() (*big.Int, error) {
			return s.chain.NativeBalance(ctx, w.Address)
		})
	} else {
		var info *domain.TokenInfo
		if info, err = s.TokenInfo(ctx, token); err != nil {
			return nil, err
		}
		bal.Token, bal.Symbol, bal.Decimals = info.Address, info.Symbol, info.Decimals
		bal.Amount, err = s.read(ctx, "token balance", func() (*big.Int, error) {
			return s.chain.TokenBalance(ctx, info.Address, w.Address)
		})
	}
	if err != nil {
		return nil, err
	}
	bal.ReadAt = s.now().UTC()
	return bal, nil
}

// TokenInfo returns the token's metadata. Concurrent misses for one token
// share a single chain read.
func (s *AssetServiceImpl) TokenInfo(ctx context.Context, token string) (*domain.TokenInfo, error) {
	if !common.IsHexAddress(token) {
		return nil, apperror.ErrInvalidAddress("token")
	}
	key := common.HexToAddress(token).Hex()
	if cached, ok := s.tokens.Load(key); ok {
		return cached.(*domain.TokenInfo), nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		if cached, ok := s.tokens.Load(key); ok {
			return cached, nil
		}
		info, err := retry.Do(ctx, s.readRetry, ports.IsTransient, nil, func() (*domain.TokenInfo, error) {
			return s.chain.TokenInfo(ctx, key)
		})
		if err != nil {
			return nil, err
		}
		s.tokens.Store(key, info)
		return info, nil
	})
	if err != nil {
		if ports.IsTransient(err) || ctx.Err() != nil {
			return nil, apperror.ErrChainUnavailable(err)
		}
		s.log.Info().Err(err).Str("token", key).Msg("token metadata unreadable")
		return nil, apperror.ErrNotFound("Token")
	}
	return v.(*domain.TokenInfo), nil
}

func (s *AssetServiceImpl) read(ctx context.Context, what string, fn func() (*big.Int, error)) (*big.Int, error) {
	v, err := retry.Do(ctx, s.readRetry, ports.IsTransient, nil, fn)
	if err != nil {
		return nil, apperror.ErrChainUnavailable(fmt.Errorf("%s: %w", what, err))
	}
	return v, nil
}
