package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"
	"dex-trade-core/pkg/apperror"
	"dex-trade-core/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// LedgerServiceImpl implements ports.LedgerService. Orders only ever move
// forward; every write also appends an order_events row.
type LedgerServiceImpl struct {
	orderRepo ports.OrderRepository
	notifier  ports.OrderNotifier
	log       zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl. notifier may be nil.
func NewLedgerService(orderRepo ports.OrderRepository, notifier ports.OrderNotifier, log zerolog.Logger) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		orderRepo: orderRepo,
		notifier:  notifier,
		log:       logger.Component(log, "order_ledger"),
	}
}

// Record inserts the first durable row of an order. Only SUBMITTED orders
// with a transaction hash are accepted; later states are reached through
// UpdateState.
func (s *LedgerServiceImpl) Record(ctx context.Context, order *domain.Order) error {
	if order == nil {
		return apperror.Validation("order is required")
	}
	if order.State != domain.OrderStateSubmitted {
		return apperror.ErrInvalidTransition(string(order.State), "recorded")
	}
	if order.TxHash == nil || *order.TxHash == "" || order.SubmittedAt == nil {
		return apperror.Validation("submitted order needs tx_hash and submitted_at")
	}

	event := &domain.OrderEvent{
		ID:        uuid.New(),
		OrderID:   order.ID,
		FromState: domain.OrderStateSigned,
		ToState:   order.State,
		Note:      "recorded",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.orderRepo.Insert(ctx, order, event); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return apperror.ErrDuplicateOrder()
		}
		return apperror.ErrDatabaseError(fmt.Errorf("insert order: %w", err))
	}

	s.log.Info().
		Str("order_id", order.ID.String()).
		Str("wallet_id", order.WalletID.String()).
		Str("state", string(order.State)).
		Msg("order recorded")
	return nil
}

// UpdateState advances an order by exactly one step. Illegal or lost-race
// transitions fail with LED_001 and write nothing.
func (s *LedgerServiceImpl) UpdateState(ctx context.Context, orderID uuid.UUID, to domain.OrderState, details domain.TransitionDetails) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	from := order.State
	if !domain.CanTransition(from, to) {
		s.log.Error().Str("order_id", orderID.String()).Str("from", string(from)).Str("to", string(to)).Msg("illegal order transition rejected")
		return nil, apperror.ErrInvalidTransition(string(from), string(to))
	}

	if details.At.IsZero() {
		details.At = time.Now().UTC()
	}
	event := &domain.OrderEvent{
		ID:        uuid.New(),
		OrderID:   orderID,
		FromState: from,
		ToState:   to,
		Note:      details.Note,
		CreatedAt: details.At,
	}

	ok, err := s.orderRepo.CompareAndSetState(ctx, orderID, from, to, details, event)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update order state: %w", err))
	}
	if !ok {
		s.log.Error().Str("order_id", orderID.String()).Str("from", string(from)).Str("to", string(to)).Msg("order changed concurrently")
		return nil, apperror.ErrInvalidTransition(string(from), string(to))
	}

	applyTransition(order, to, details)

	s.log.Info().
		Str("order_id", orderID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("order state advanced")

	if to.IsTerminal() && s.notifier != nil {
		if err := s.notifier.NotifyOrder(ctx, order); err != nil {
			s.log.Warn().Err(err).Str("order_id", orderID.String()).Msg("order notification failed")
		}
	}
	return order, nil
}

// AppendNote records a correction without changing state.
func (s *LedgerServiceImpl) AppendNote(ctx context.Context, orderID uuid.UUID, note string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	event := &domain.OrderEvent{
		ID:        uuid.New(),
		OrderID:   orderID,
		FromState: order.State,
		ToState:   order.State,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.orderRepo.AppendEvent(ctx, event); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("append order event: %w", err))
	}
	return nil
}

func (s *LedgerServiceImpl) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get order: %w", err))
	}
	if order == nil {
		return nil, apperror.ErrNotFound("Order")
	}
	return order, nil
}

// ListOrders returns the newest orders of a wallet. limit defaults to 20 and is capped at 100.
func (s *LedgerServiceImpl) ListOrders(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	orders, err := s.orderRepo.ListByWallet(ctx, walletID, limit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list orders: %w", err))
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// ListByState returns orders matching f, oldest submission first.
func (s *LedgerServiceImpl) ListByState(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	orders, err := s.orderRepo.ListByState(ctx, f)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list orders by state: %w", err))
	}
	return orders, nil
}

func (s *LedgerServiceImpl) History(ctx context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	events, err := s.orderRepo.ListEvents(ctx, orderID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list order events: %w", err))
	}
	return events, nil
}

// applyTransition mirrors a successful compare-and-set onto the in-memory order.
func applyTransition(order *domain.Order, to domain.OrderState, d domain.TransitionDetails) {
	order.State = to
	if d.TxHash != nil {
		order.TxHash = d.TxHash
	}
	if d.FailureReason != nil {
		order.FailureReason = d.FailureReason
	}
	if d.GasUsed != nil {
		order.GasUsed = d.GasUsed
	}
	if d.BlockNumber != nil {
		order.BlockNumber = d.BlockNumber
	}
	at := d.At
	if to == domain.OrderStateSubmitted {
		order.SubmittedAt = &at
	}
	if to.IsTerminal() {
		order.FinalizedAt = &at
	}
}
