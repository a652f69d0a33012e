package memory

import (
	"context"
	"sync"

	"dex-trade-core/internal/core/domain"
)

// AuditRepo keeps audit entries in a slice.
type AuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func NewAuditRepo() *AuditRepo {
	return &AuditRepo{}
}

func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *log)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AuditLog(nil), r.entries...)
}

// NotificationRepo keeps callback deliveries keyed by id.
type NotificationRepo struct {
	mu         sync.Mutex
	deliveries map[string]domain.NotificationDelivery
}

func NewNotificationRepo() *NotificationRepo {
	return &NotificationRepo{deliveries: make(map[string]domain.NotificationDelivery)}
}

func (r *NotificationRepo) Create(_ context.Context, d *domain.NotificationDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[d.ID.String()] = *d
	return nil
}

func (r *NotificationRepo) Update(ctx context.Context, d *domain.NotificationDelivery) error {
	return r.Create(ctx, d)
}

// Deliveries returns a snapshot of all deliveries.
func (r *NotificationRepo) Deliveries() []domain.NotificationDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NotificationDelivery, 0, len(r.deliveries))
	for _, d := range r.deliveries {
		out = append(out, d)
	}
	return out
}
