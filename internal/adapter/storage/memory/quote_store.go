package memory

import (
	"context"
	"sync"
	"time"

	"dex-trade-core/internal/core/domain"

	"github.com/google/uuid"
)

type quoteEntry struct {
	quote   domain.Quote
	expires time.Time
}

// QuoteStore implements ports.QuoteStore.
type QuoteStore struct {
	mu       sync.Mutex
	quotes   map[uuid.UUID]quoteEntry
	consumed map[uuid.UUID]time.Time
	now      func() time.Time
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{
		quotes:   make(map[uuid.UUID]quoteEntry),
		consumed: make(map[uuid.UUID]time.Time),
		now:      time.Now,
	}
}

func (s *QuoteStore) Save(_ context.Context, q *domain.Quote, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.quotes[q.ID] = quoteEntry{quote: *q, expires: s.now().Add(ttl)}
	return nil
}

// Get returns nil, nil for unknown or expired quotes.
func (s *QuoteStore) Get(_ context.Context, id uuid.UUID) (*domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.quotes[id]
	if !ok || !s.now().Before(e.expires) {
		return nil, nil
	}
	q := e.quote
	return &q, nil
}

// Consume marks id used. The marker outlives the quote by ttl so a replay
// after expiry still reports consumed.
func (s *QuoteStore) Consume(_ context.Context, id uuid.UUID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.consumed[id]; ok && s.now().Before(exp) {
		return false, nil
	}
	s.consumed[id] = s.now().Add(ttl)
	return true, nil
}

func (s *QuoteStore) sweep() {
	now := s.now()
	for id, e := range s.quotes {
		if !now.Before(e.expires) {
			delete(s.quotes, id)
		}
	}
	for id, exp := range s.consumed {
		if !now.Before(exp) {
			delete(s.consumed, id)
		}
	}
}
