package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/logger"

	"github.com/rs/zerolog"
)

const reconcileNotePrefix = "reconciled:"

// ReconcilerSettings control the background sweep.
type ReconcilerSettings struct {
	Interval        time.Duration
	MinAge          time.Duration
	BatchSize       int
	ExpiredLookback time.Duration
}

// Reconciler finishes orders the executor left behind (crash, restart, max
// wait reached) by asking the chain for their receipt.
//
// Each sweep reads one page per state and remembers where it stopped, so rows
// that keep failing cannot hold back the ones behind them. A short page wraps
// the cursor to the start.
type Reconciler struct {
	ledger ports.LedgerService
	chain  ports.ChainClient
	cfg    ReconcilerSettings
	now    func() time.Time
	log    zerolog.Logger

	mu              sync.Mutex
	submittedCursor *domain.OrderCursor
	expiredCursor   *domain.OrderCursor
}

// NewReconciler creates a new Reconciler.
func NewReconciler(ledger ports.LedgerService, chain ports.ChainClient, cfg ReconcilerSettings, log zerolog.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Reconciler{
		ledger: ledger,
		chain:  chain,
		cfg:    cfg,
		now:    time.Now,
		log:    logger.Component(log, "reconciler"),
	}
}

// Run sweeps every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", r.cfg.Interval).Dur("min_age", r.cfg.MinAge).Msg("reconciler started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	if n, err := r.ReconcileSubmitted(ctx); err != nil {
		r.log.Error().Err(err).Msg("reconcile submitted orders failed")
	} else if n > 0 {
		r.log.Info().Int("orders", n).Msg("submitted orders finalized")
	}
	if n, err := r.ReconcileExpired(ctx); err != nil {
		r.log.Error().Err(err).Msg("reconcile expired orders failed")
	} else if n > 0 {
		r.log.Info().Int("orders", n).Msg("expired orders annotated")
	}
}

// ReconcileSubmitted moves SUBMITTED orders older than MinAge to their
// terminal state. A receipt that is still missing expires the order.
func (r *Reconciler) ReconcileSubmitted(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.ledger.ListByState(ctx, domain.OrderFilter{
		State:           domain.OrderStateSubmitted,
		SubmittedBefore: r.now().Add(-r.cfg.MinAge),
		After:           r.submittedCursor,
		Limit:           r.cfg.BatchSize,
	})
	if err != nil {
		return 0, err
	}
	r.submittedCursor = r.advance(orders)

	done := 0
	for i := range orders {
		o := &orders[i]
		if o.TxHash == nil {
			continue
		}
		receipt, err := r.chain.GetTransactionStatus(ctx, *o.TxHash)
		if err != nil {
			r.log.Warn().Err(err).Str("order_id", o.ID.String()).Msg("receipt lookup failed, will retry")
			continue
		}

		details := domain.TransitionDetails{At: r.now().UTC(), Note: reconcileNotePrefix + " " + string(receipt.Status)}
		var to domain.OrderState
		switch receipt.Status {
		case ports.TxStatusConfirmed:
			to = domain.OrderStateConfirmed
			details.GasUsed, details.BlockNumber = &receipt.GasUsed, &receipt.BlockNumber
		case ports.TxStatusReverted:
			to = domain.OrderStateFailed
			reason := "transaction reverted"
			details.FailureReason = &reason
			details.GasUsed, details.BlockNumber = &receipt.GasUsed, &receipt.BlockNumber
		default:
			to = domain.OrderStateExpired
		}

		if _, err := r.ledger.UpdateState(ctx, o.ID, to, details); err != nil {
			// Usually the executor finished the order first.
			r.log.Warn().Err(err).Str("order_id", o.ID.String()).Msg("reconcile transition skipped")
			continue
		}
		reconciledOrders.WithLabelValues(strings.ToLower(string(to))).Inc()
		done++
	}
	return done, nil
}

// ReconcileExpired annotates EXPIRED orders whose transaction has since been
// mined. The state stays EXPIRED; the outcome is appended to the history once.
func (r *Reconciler) ReconcileExpired(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	f := domain.OrderFilter{
		State:           domain.OrderStateExpired,
		SubmittedBefore: now.Add(-r.cfg.MinAge),
		After:           r.expiredCursor,
		SkipNotePrefix:  reconcileNotePrefix,
		Limit:           r.cfg.BatchSize,
	}
	if r.cfg.ExpiredLookback > 0 {
		f.SubmittedAfter = now.Add(-r.cfg.ExpiredLookback)
	}
	orders, err := r.ledger.ListByState(ctx, f)
	if err != nil {
		return 0, err
	}
	r.expiredCursor = r.advance(orders)

	noted := 0
	for i := range orders {
		o := &orders[i]
		if o.TxHash == nil {
			continue
		}
		receipt, err := r.chain.GetTransactionStatus(ctx, *o.TxHash)
		if err != nil || receipt.Status == ports.TxStatusPending {
			continue
		}

		note := fmt.Sprintf("%s chain reports %s in block %d (gas %d)", reconcileNotePrefix, receipt.Status, receipt.BlockNumber, receipt.GasUsed)
		if err := r.ledger.AppendNote(ctx, o.ID, note); err != nil {
			r.log.Error().Err(err).Str("order_id", o.ID.String()).Msg("failed to append reconciliation note")
			continue
		}
		r.log.Warn().Str("order_id", o.ID.String()).Str("chain_status", string(receipt.Status)).Msg("expired order resolved on chain")
		reconciledOrders.WithLabelValues("noted").Inc()
		noted++
	}
	return noted, nil
}

// advance returns the cursor for the next sweep: past the last row of a full
// page, or nil to start over.
func (r *Reconciler) advance(page []domain.Order) *domain.OrderCursor {
	if len(page) < r.cfg.BatchSize {
		return nil
	}
	return domain.CursorOf(&page[len(page)-1])
}
