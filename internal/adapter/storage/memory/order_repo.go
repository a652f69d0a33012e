package memory

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"dex-trade-core/internal/core/domain"
	"dex-trade-core/internal/core/ports"

	"github.com/google/uuid"
)

// OrderRepo implements ports.OrderRepository. Each write and its event are
// applied under one lock, matching the single DB transaction of the postgres repo.
type OrderRepo struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]domain.Order
	events map[uuid.UUID][]domain.OrderEvent
}

func NewOrderRepo() *OrderRepo {
	return &OrderRepo{
		orders: make(map[uuid.UUID]domain.Order),
		events: make(map[uuid.UUID][]domain.OrderEvent),
	}
}

func (r *OrderRepo) Insert(_ context.Context, order *domain.Order, event *domain.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return ports.ErrDuplicate
	}
	r.orders[order.ID] = *order
	if event != nil {
		r.events[order.ID] = append(r.events[order.ID], *event)
	}
	return nil
}

func (r *OrderRepo) CompareAndSetState(_ context.Context, id uuid.UUID, from, to domain.OrderState, d domain.TransitionDetails, event *domain.OrderEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.State != from {
		return false, nil
	}
	o.State = to
	if d.TxHash != nil {
		o.TxHash = d.TxHash
	}
	if d.FailureReason != nil {
		o.FailureReason = d.FailureReason
	}
	if d.GasUsed != nil {
		o.GasUsed = d.GasUsed
	}
	if d.BlockNumber != nil {
		o.BlockNumber = d.BlockNumber
	}
	at := d.At
	if to == domain.OrderStateSubmitted {
		o.SubmittedAt = &at
	}
	if to.IsTerminal() {
		o.FinalizedAt = &at
	}
	r.orders[id] = o
	if event != nil {
		r.events[id] = append(r.events[id], *event)
	}
	return true, nil
}

func (r *OrderRepo) AppendEvent(_ context.Context, event *domain.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.OrderID] = append(r.events[event.OrderID], *event)
	return nil
}

// GetByID returns nil, nil when the order does not exist.
func (r *OrderRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// ListByWallet returns newest first.
func (r *OrderRepo) ListByWallet(_ context.Context, walletID uuid.UUID, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.WalletID == walletID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByState returns matching orders ordered by (submitted_at, id).
func (r *OrderRepo) ListByState(_ context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Order
	for _, o := range r.orders {
		if !f.Matches(&o) || r.hasNoteLocked(o.ID, f.SkipNotePrefix) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SubmittedAt, out[j].SubmittedAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *OrderRepo) hasNoteLocked(id uuid.UUID, prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, e := range r.events[id] {
		if e.IsCorrection() && strings.HasPrefix(e.Note, prefix) {
			return true
		}
	}
	return false
}

func (r *OrderRepo) ListEvents(_ context.Context, orderID uuid.UUID) ([]domain.OrderEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.OrderEvent(nil), r.events[orderID]...), nil
}
