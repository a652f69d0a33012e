package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"
	"dex-trade-core/pkg/logger"
	"dex-trade-core/pkg/retry"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// errTxPending keeps the confirmation poll going while no receipt exists.
var errTxPending = errors.New("transaction pending")

// ExecutorSettings bound lock waits, broadcast retries and confirmation polling.
type ExecutorSettings struct {
	LockTimeout        time.Duration
	LockTTL            time.Duration
	SubmitAttempts     int
	PollInitialBackoff time.Duration
	PollMaxBackoff     time.Duration
	PollMaxAttempts    int
	MaxWait            time.Duration
	DeadlineWindow     time.Duration
	IdempotencyTTL     time.Duration
}

// TradeServiceImpl implements ports.TradeService.
//
// At most one trade per wallet is between nonce read and ledger record at any
// time. The wallet lock is released once the order is durable, so polling for
// the receipt does not block the next trade.
type TradeServiceImpl struct {
	wallets    ports.WalletReader
	quotes     ports.QuoteService
	quoteStore ports.QuoteStore
	builder    ports.TxBuilder
	signer     ports.TransactionSigner
	chain      ports.ChainClient
	ledger     ports.LedgerService
	locker     ports.WalletLocker
	idem       ports.IdempotencyCache
	cfg        ExecutorSettings
	readRetry  retry.Config
	now        func() time.Time
	log        zerolog.Logger
}

// NewTradeService creates a new TradeServiceImpl.
func NewTradeService(
	wallets ports.WalletReader,
	quotes ports.QuoteService,
	quoteStore ports.QuoteStore,
	builder ports.TxBuilder,
	signer ports.TransactionSigner,
	chain ports.ChainClient,
	ledger ports.LedgerService,
	locker ports.WalletLocker,
	idem ports.IdempotencyCache,
	cfg ExecutorSettings,
	log zerolog.Logger,
) *TradeServiceImpl {
	if cfg.SubmitAttempts < 1 {
		cfg.SubmitAttempts = 1
	}
	return &TradeServiceImpl{
		wallets:    wallets,
		quotes:     quotes,
		quoteStore: quoteStore,
		builder:    builder,
		signer:     signer,
		chain:      chain,
		ledger:     ledger,
		locker:     locker,
		idem:       idem,
		cfg:        cfg,
		readRetry:  retry.DefaultConfig(),
		now:        time.Now,
		log:        logger.Component(log, "trade_executor"),
	}
}

// ExecuteTrade runs one trade from quote to a terminal order state.
//
// Failures before the broadcast leave no ledger row. Cancelling ctx before the
// broadcast aborts with TRD_002; after it, only MaxWait ends the confirmation poll.
func (s *TradeServiceImpl) ExecuteTrade(ctx context.Context, req ports.TradeRequest) (*domain.Order, error) {
	wallet, err := s.wallets.GetByID(ctx, req.WalletID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil || !wallet.OwnedBy(req.UserID) {
		return nil, apperror.ErrNotFound("Wallet")
	}

	lockCtx, cancelLock := context.WithTimeout(ctx, s.cfg.LockTimeout)
	unlock, err := s.locker.Lock(lockCtx, wallet.ID, s.cfg.LockTTL)
	cancelLock()
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperror.ErrTradeCancelled()
		}
		return nil, apperror.ErrWalletBusy(err)
	}
	locked := true
	release := func() {
		if !locked {
			return
		}
		locked = false
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("wallet_id", wallet.ID.String()).Msg("failed to release wallet lock")
		}
	}
	defer release()

	idemKey := ""
	if req.ClientRef != "" {
		idemKey = domain.BuildTradeIdempotencyKey(req.UserID, req.ClientRef)
		if prior, err := s.replay(ctx, idemKey); err != nil || prior != nil {
			return prior, err
		}
	}

	order := &domain.Order{
		ID:        uuid.New(),
		WalletID:  wallet.ID,
		UserID:    req.UserID,
		ClientRef: req.ClientRef,
		State:     domain.OrderStateCreated,
		CreatedAt: s.now().UTC(),
	}
	log := s.log.With().Str("order_id", order.ID.String()).Str("wallet_id", wallet.ID.String()).Logger()

	txHash, err := s.submit(ctx, req, wallet, order, log)
	if err != nil {
		outcome := "rejected"
		if apperror.CodeOf(err) == "TRD_002" {
			outcome = "cancelled"
		}
		dir := order.Direction
		if dir == "" {
			dir = req.Direction
		}
		tradesTotal.WithLabelValues(string(dir), outcome).Inc()
		return nil, err
	}

	// The broadcast happened: the order must reach the ledger even if the caller gave up.
	durable := context.WithoutCancel(ctx)
	submittedAt := s.now().UTC()
	order.TxHash = &txHash
	order.State = domain.OrderStateSubmitted
	order.SubmittedAt = &submittedAt
	if err := s.ledger.Record(durable, order); err != nil {
		log.Error().Err(err).Str("tx_hash", txHash).Msg("broadcast transaction not recorded")
		return nil, err
	}

	if idemKey != "" {
		if err := s.idem.Set(durable, idemKey, []byte(order.ID.String()), s.cfg.IdempotencyTTL); err != nil {
			log.Warn().Err(err).Msg("failed to cache trade client reference")
		}
	}
	release()

	log.Info().
		Str("tx_hash", txHash).
		Str("direction", string(order.Direction)).
		Uint64("nonce", *order.Nonce).
		Msg("trade submitted")

	return s.awaitConfirmation(durable, order, log), nil
}

// replay returns the order recorded under key, or nil when key is new.
func (s *TradeServiceImpl) replay(ctx context.Context, key string) (*domain.Order, error) {
	cached, err := s.idem.Get(ctx, key)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("idempotency lookup: %w", err))
	}
	if cached == nil {
		return nil, nil
	}
	id, err := uuid.Parse(string(cached))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("corrupt idempotency entry: %w", err))
	}
	s.log.Info().Str("order_id", id.String()).Msg("returning order for repeated client reference")
	return s.ledger.GetOrder(ctx, id)
}

// submit quotes, builds, signs and broadcasts. It returns the tx hash once a
// node accepted the transaction. Transient broadcast errors are retried with a
// fresh quote under the same nonce, so at most one of the attempts can mine.
func (s *TradeServiceImpl) submit(ctx context.Context, req ports.TradeRequest, wallet *domain.Wallet, order *domain.Order, log zerolog.Logger) (string, error) {
	var nonce *uint64
	var prev *domain.Quote
	var lastErr error

	for attempt := 1; attempt <= s.cfg.SubmitAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", apperror.ErrTradeCancelled()
		}

		q, err := s.obtainQuote(ctx, req, prev)
		if err != nil {
			return "", err
		}
		prev = q
		applyQuote(order, q)

		if nonce == nil {
			n, err := retry.Do(ctx, s.readRetry, ports.IsTransient, nil, func() (uint64, error) {
				return s.chain.PendingNonceAt(ctx, wallet.Address)
			})
			if err != nil {
				return "", s.chainReadError(ctx, "pending nonce", err)
			}
			nonce = &n
		}
		gasPrice, err := retry.Do(ctx, s.readRetry, ports.IsTransient, nil, func() (*big.Int, error) {
			return s.chain.SuggestGasPrice(ctx)
		})
		if err != nil {
			return "", s.chainReadError(ctx, "gas price", err)
		}

		tx, err := s.builder.BuildSwap(ports.SwapTxParams{
			Quote:     q,
			Recipient: wallet.Address,
			Nonce:     *nonce,
			GasPrice:  gasPrice,
			Deadline:  s.now().Add(s.cfg.DeadlineWindow),
		})
		if err != nil {
			return "", apperror.InternalError(fmt.Errorf("build swap: %w", err))
		}

		start := time.Now()
		signed, err := s.signer.Sign(ctx, wallet.ID, tx, s.builder.ChainID())
		signingDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return "", apperror.ErrTradeCancelled()
			}
			return "", err
		}
		order.State = domain.OrderStateSigned
		order.Nonce = nonce

		if ctx.Err() != nil {
			return "", apperror.ErrTradeCancelled()
		}

		hash, err := s.chain.SubmitTransaction(ctx, signed)
		if err == nil {
			return hash, nil
		}
		lastErr = err
		if !ports.IsTransient(err) || ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Uint64("nonce", *nonce).Msg("broadcast failed, requoting")
	}

	log.Error().Err(lastErr).Msg("trade submission failed")
	return "", apperror.ErrSubmissionFailed(lastErr)
}

// obtainQuote returns a consumed, currently valid quote. A caller-supplied
// quote is only used on the first attempt; retries price the same trade again
// from prev. Expired internal quotes are recomputed once.
func (s *TradeServiceImpl) obtainQuote(ctx context.Context, req ports.TradeRequest, prev *domain.Quote) (*domain.Quote, error) {
	if req.QuoteID != nil && prev == nil {
		q, err := s.quotes.LookupQuote(ctx, req.UserID, *req.QuoteID)
		if err != nil {
			return nil, err
		}
		if err := matchQuote(q, req); err != nil {
			return nil, err
		}
		if !s.quotes.ValidateQuote(q, s.now()) {
			return nil, apperror.ErrQuoteExpired()
		}
		if err := s.consume(ctx, q); err != nil {
			return nil, err
		}
		return q, nil
	}

	qreq := quoteRequestFor(req)
	if prev != nil {
		qreq = requoteRequest(prev, req.UserID)
	}

	var q *domain.Quote
	for i := 0; i < 2 && q == nil; i++ {
		fresh, err := s.quotes.GetQuote(ctx, qreq)
		if err != nil {
			return nil, err
		}
		if s.quotes.ValidateQuote(fresh, s.now()) {
			q = fresh
		}
	}
	if q == nil {
		return nil, apperror.ErrQuoteExpired()
	}
	if err := s.consume(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *TradeServiceImpl) consume(ctx context.Context, q *domain.Quote) error {
	ok, err := s.quoteStore.Consume(ctx, q.ID, q.ExpiresAt.Sub(s.now())+time.Minute)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("consume quote: %w", err))
	}
	if !ok {
		return apperror.ErrQuoteConsumed()
	}
	return nil
}

func (s *TradeServiceImpl) chainReadError(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return apperror.ErrTradeCancelled()
	}
	return apperror.ErrChainUnavailable(fmt.Errorf("%s: %w", what, err))
}

// awaitConfirmation polls the receipt and moves the order to its terminal state.
// It never fails: a ledger error is logged and the last known order returned.
func (s *TradeServiceImpl) awaitConfirmation(ctx context.Context, order *domain.Order, log zerolog.Logger) *domain.Order {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.MaxWait)
	defer cancel()
	start := time.Now()

	cfg := retry.Config{
		MaxRetries:     s.cfg.PollMaxAttempts - 1,
		InitialBackoff: s.cfg.PollInitialBackoff,
		MaxBackoff:     s.cfg.PollMaxBackoff,
		BackoffFactor:  2.0,
		Jitter:         true,
		MaxElapsed:     s.cfg.MaxWait,
	}
	pollable := func(err error) bool {
		return errors.Is(err, errTxPending) || ports.IsTransient(err)
	}
	receipt, err := retry.Do(ctx, cfg, pollable, func(attempt int, err error, backoff time.Duration) {
		log.Debug().Int("attempt", attempt).Dur("backoff", backoff).AnErr("reason", err).Msg("awaiting receipt")
	}, func() (*ports.TxReceipt, error) {
		r, err := s.chain.GetTransactionStatus(ctx, *order.TxHash)
		if err != nil {
			return nil, err
		}
		if r.Status == ports.TxStatusPending {
			return nil, errTxPending
		}
		return r, nil
	})

	// The poll ctx may already be done; the final write uses a fresh one.
	writeCtx := context.WithoutCancel(ctx)
	var to domain.OrderState
	details := domain.TransitionDetails{At: s.now().UTC()}
	switch {
	case err != nil:
		to = domain.OrderStateExpired
		details.Note = "no receipt within max wait"
		log.Warn().Err(err).Str("tx_hash", *order.TxHash).Msg("confirmation wait exhausted")
	case receipt.Status == ports.TxStatusConfirmed:
		to = domain.OrderStateConfirmed
		details.GasUsed = &receipt.GasUsed
		details.BlockNumber = &receipt.BlockNumber
	default:
		to = domain.OrderStateFailed
		reason := "transaction reverted"
		details.FailureReason = &reason
		details.GasUsed = &receipt.GasUsed
		details.BlockNumber = &receipt.BlockNumber
	}

	tradeConfirmationDuration.Observe(time.Since(start).Seconds())
	tradesTotal.WithLabelValues(string(order.Direction), string(to)).Inc()

	updated, err := s.ledger.UpdateState(writeCtx, order.ID, to, details)
	if err != nil {
		log.Error().Err(err).Str("to", string(to)).Msg("failed to finalize order")
		if current, gerr := s.ledger.GetOrder(writeCtx, order.ID); gerr == nil {
			return current
		}
		return order
	}

	log.Info().Str("state", string(updated.State)).Str("tx_hash", *order.TxHash).Msg("trade finalized")
	return updated
}

func quoteRequestFor(req ports.TradeRequest) ports.QuoteRequest {
	return ports.QuoteRequest{
		UserID:         req.UserID,
		TokenIn:        req.TokenIn,
		TokenOut:       req.TokenOut,
		AmountIn:       req.AmountIn,
		AmountOut:      req.AmountOut,
		Direction:      req.Direction,
		MaxSlippageBps: req.MaxSlippageBps,
	}
}

// requoteRequest asks again for the trade a supplied quote described.
func requoteRequest(q *domain.Quote, userID string) ports.QuoteRequest {
	r := ports.QuoteRequest{
		UserID:         userID,
		TokenIn:        q.TokenIn,
		TokenOut:       q.TokenOut,
		Direction:      q.Direction,
		MaxSlippageBps: q.MaxSlippageBps,
	}
	if q.Mode == domain.QuoteModeExactOut {
		r.AmountOut = q.AmountOut
	} else {
		r.AmountIn = q.AmountIn
	}
	return r
}

// matchQuote rejects a supplied quote that prices a different trade than the
// request describes. Fields the request leaves empty are taken from the quote.
func matchQuote(q *domain.Quote, req ports.TradeRequest) error {
	mismatch := func(field string) error {
		return apperror.Validation(field + " does not match the quote")
	}
	if req.TokenIn != "" && common.HexToAddress(req.TokenIn) != common.HexToAddress(q.TokenIn) {
		return mismatch("token_in")
	}
	if req.TokenOut != "" && common.HexToAddress(req.TokenOut) != common.HexToAddress(q.TokenOut) {
		return mismatch("token_out")
	}
	if req.Direction != "" && req.Direction != q.Direction {
		return mismatch("direction")
	}
	if req.AmountIn != nil && req.AmountOut != nil {
		return apperror.Validation("only one of amount_in and amount_out may be set")
	}
	if req.AmountIn != nil && (q.Mode != domain.QuoteModeExactIn || req.AmountIn.Cmp(q.AmountIn) != 0) {
		return mismatch("amount_in")
	}
	if req.AmountOut != nil && (q.Mode != domain.QuoteModeExactOut || q.AmountOut == nil || req.AmountOut.Cmp(q.AmountOut) != 0) {
		return mismatch("amount_out")
	}
	if req.MaxSlippageBps != 0 && req.MaxSlippageBps != q.MaxSlippageBps {
		return mismatch("max_slippage_bps")
	}
	return nil
}

func applyQuote(order *domain.Order, q *domain.Quote) {
	order.QuoteID = q.ID
	order.Direction = q.Direction
	order.TokenIn = q.TokenIn
	order.TokenOut = q.TokenOut
	order.AmountIn = q.AmountIn
	order.ExpectedAmountOut = q.ExpectedAmountOut
	order.MinAmountOut = q.MinAmountOut
	order.MaxAmountIn = q.MaxAmountIn
	order.State = domain.OrderStateQuoted
}
