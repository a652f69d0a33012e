package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
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

// QuoteSettings bound quote freshness and slippage.
type QuoteSettings struct {
	TTL                time.Duration
	MaxPoolAge         time.Duration
	SnapshotRefresh    time.Duration
	HighImpactBps      int64
	DefaultSlippageBps int64
	MinSlippageBps     int64
	MaxSlippageBps     int64
}

// QuoteServiceImpl implements ports.QuoteService.
//
// Pool snapshots are cached per pool behind an atomic pointer and replaced
// wholesale; concurrent refreshes of one pool share a single chain read.
type QuoteServiceImpl struct {
	pools     ports.PoolDirectory
	chain     ports.ChainReader
	store     ports.QuoteStore
	cfg       QuoteSettings
	readRetry retry.Config
	group     singleflight.Group
	snapshots sync.Map // pool id -> *atomic.Pointer[domain.PoolSnapshot]
	now       func() time.Time
	log       zerolog.Logger
}

// NewQuoteService creates a new QuoteServiceImpl.
func NewQuoteService(
	pools ports.PoolDirectory,
	chain ports.ChainReader,
	store ports.QuoteStore,
	cfg QuoteSettings,
	log zerolog.Logger,
) *QuoteServiceImpl {
	return &QuoteServiceImpl{
		pools:     pools,
		chain:     chain,
		store:     store,
		cfg:       cfg,
		readRetry: retry.DefaultConfig(),
		now:       time.Now,
		log:       logger.Component(log, "quote_engine"),
	}
}

// GetQuote prices the request against the latest pool snapshot and stores the
// quote for its validity window.
func (s *QuoteServiceImpl) GetQuote(ctx context.Context, req ports.QuoteRequest) (*domain.Quote, error) {
	start := time.Now()
	defer func() { quoteDuration.Observe(time.Since(start).Seconds()) }()

	q, err := s.compute(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, q, s.cfg.TTL); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("save quote: %w", err))
	}

	evt := s.log.Info()
	if q.HighImpactWarning {
		evt = s.log.Warn()
	}
	evt.Str("quote_id", q.ID.String()).
		Str("pool_id", q.PoolID).
		Str("direction", string(q.Direction)).
		Str("mode", string(q.Mode)).
		Int64("price_impact_bps", q.PriceImpactBps).
		Bool("high_impact", q.HighImpactWarning).
		Msg("quote issued")
	return q, nil
}

// LookupQuote returns a previously issued quote that is still stored and
// belongs to userID.
func (s *QuoteServiceImpl) LookupQuote(ctx context.Context, userID string, id uuid.UUID) (*domain.Quote, error) {
	q, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get quote: %w", err))
	}
	if q == nil || q.UserID != userID {
		return nil, apperror.ErrQuoteExpired()
	}
	return q, nil
}

// ValidateQuote is pure: it only compares now with the quote's window.
func (s *QuoteServiceImpl) ValidateQuote(q *domain.Quote, now time.Time) bool {
	return q.ValidAt(now)
}

func (s *QuoteServiceImpl) compute(ctx context.Context, req ports.QuoteRequest) (*domain.Quote, error) {
	if !common.IsHexAddress(req.TokenIn) {
		return nil, apperror.ErrInvalidAddress("token_in")
	}
	if !common.IsHexAddress(req.TokenOut) {
		return nil, apperror.ErrInvalidAddress("token_out")
	}
	if strings.EqualFold(req.TokenIn, req.TokenOut) {
		return nil, apperror.Validation("token_in and token_out must differ")
	}

	mode, err := quoteMode(req)
	if err != nil {
		return nil, err
	}

	slippage := req.MaxSlippageBps
	if slippage == 0 {
		slippage = s.cfg.DefaultSlippageBps
	}
	if slippage < s.cfg.MinSlippageBps || slippage > s.cfg.MaxSlippageBps {
		return nil, apperror.ErrInvalidSlippage(int(s.cfg.MinSlippageBps), int(s.cfg.MaxSlippageBps))
	}

	pool, ok := s.pools.Resolve(req.TokenIn, req.TokenOut)
	if !ok {
		return nil, apperror.ErrPoolNotFound()
	}
	dir, _ := pool.Orient(req.TokenIn, req.TokenOut)
	if req.Direction != "" && req.Direction != dir {
		return nil, apperror.Validation(fmt.Sprintf("direction %s does not match the token pair (%s)", req.Direction, dir))
	}

	snap, err := s.snapshot(ctx, pool)
	if err != nil {
		quotesIssued.WithLabelValues(pool.ID, "chain_error").Inc()
		return nil, err
	}

	now := s.now().UTC()
	if s.cfg.MaxPoolAge > 0 && snap.Age(now) > s.cfg.MaxPoolAge {
		quotesIssued.WithLabelValues(pool.ID, "stale").Inc()
		return nil, apperror.ErrStalePoolState()
	}

	var res *domain.SwapResult
	if mode == domain.QuoteModeExactIn {
		res, err = domain.QuoteExactIn(snap, dir, req.AmountIn)
	} else {
		res, err = domain.QuoteExactOut(snap, dir, req.AmountOut)
	}
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientLiquidity):
			quotesIssued.WithLabelValues(pool.ID, "insufficient_liquidity").Inc()
			return nil, apperror.ErrInsufficientLiquidity()
		case errors.Is(err, domain.ErrNonPositiveAmount):
			return nil, apperror.ErrInvalidAmount()
		}
		return nil, apperror.InternalError(err)
	}

	q := &domain.Quote{
		ID:                uuid.New(),
		UserID:            req.UserID,
		PoolID:            pool.ID,
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		Direction:         dir,
		Mode:              mode,
		AmountIn:          res.AmountIn,
		ExpectedAmountOut: res.AmountOut,
		ExpectedAmountIn:  res.AmountIn,
		MaxSlippageBps:    slippage,
		PriceImpactBps:    res.PriceImpactBps,
		HighImpactWarning: res.PriceImpactBps > s.cfg.HighImpactBps,
		SpotPrice:         res.SpotPrice,
		ExecutionPrice:    res.ExecutionPrice,
		PoolSnapshotID:    snap.SnapshotID,
		ComputedAt:        now,
		ExpiresAt:         now.Add(s.cfg.TTL),
	}
	if mode == domain.QuoteModeExactIn {
		q.MinAmountOut = domain.MinAmountOut(res.AmountOut, slippage)
		q.MaxAmountIn = res.AmountIn
	} else {
		q.AmountOut = res.AmountOut
		q.MinAmountOut = res.AmountOut
		q.MaxAmountIn = domain.MaxAmountIn(res.AmountIn, slippage)
	}

	quotesIssued.WithLabelValues(pool.ID, "ok").Inc()
	return q, nil
}

// snapshot returns a cached snapshot younger than SnapshotRefresh, or reads a new one.
func (s *QuoteServiceImpl) snapshot(ctx context.Context, pool domain.PoolRef) (*domain.PoolSnapshot, error) {
	slot, _ := s.snapshots.LoadOrStore(pool.ID, new(atomic.Pointer[domain.PoolSnapshot]))
	ptr := slot.(*atomic.Pointer[domain.PoolSnapshot])

	fresh := func() *domain.PoolSnapshot {
		if cached := ptr.Load(); cached != nil && s.now().Sub(cached.ReadAt) < s.cfg.SnapshotRefresh {
			return cached
		}
		return nil
	}
	if cached := fresh(); cached != nil {
		return cached, nil
	}

	v, err, _ := s.group.Do(pool.ID, func() (interface{}, error) {
		if cached := fresh(); cached != nil {
			return cached, nil
		}
		snap, err := retry.Do(ctx, s.readRetry, ports.IsTransient, func(attempt int, err error, backoff time.Duration) {
			s.log.Warn().Err(err).Str("pool_id", pool.ID).Int("attempt", attempt).Dur("backoff", backoff).Msg("pool read failed, retrying")
		}, func() (*domain.PoolSnapshot, error) {
			return s.chain.ReadPoolState(ctx, pool)
		})
		if err != nil {
			poolReads.WithLabelValues(pool.ID, "error").Inc()
			return nil, err
		}
		if err := snap.Validate(); err != nil {
			poolReads.WithLabelValues(pool.ID, "invalid").Inc()
			return nil, err
		}
		if snap.ReadAt.IsZero() {
			snap.ReadAt = s.now()
		}
		poolReads.WithLabelValues(pool.ID, "ok").Inc()
		ptr.Store(snap)
		return snap, nil
	})
	if err != nil {
		s.log.Error().Err(err).Str("pool_id", pool.ID).Msg("pool state unavailable")
		return nil, apperror.ErrChainUnavailable(err)
	}
	return v.(*domain.PoolSnapshot), nil
}

func quoteMode(req ports.QuoteRequest) (domain.QuoteMode, error) {
	hasIn := req.AmountIn != nil
	hasOut := req.AmountOut != nil
	switch {
	case hasIn && !hasOut:
		if req.AmountIn.Sign() <= 0 {
			return "", apperror.ErrInvalidAmount()
		}
		return domain.QuoteModeExactIn, nil
	case hasOut && !hasIn:
		if req.AmountOut.Sign() <= 0 {
			return "", apperror.ErrInvalidAmount()
		}
		return domain.QuoteModeExactOut, nil
	}
	return "", apperror.Validation("exactly one of amount_in and amount_out is required")
}
