package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dex-trade-core/internal/core/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// QuoteStore implements ports.QuoteStore. Quotes are JSON values that expire
// with their validity window; consumption is a separate SET NX marker.
type QuoteStore struct {
	client *goredis.Client
	prefix string
}

// NewQuoteStore creates a new Redis-backed quote store.
func NewQuoteStore(client *goredis.Client) *QuoteStore {
	return &QuoteStore{
		client: client,
		prefix: "quote:",
	}
}

// Save stores q until ttl elapses.
func (s *QuoteStore) Save(ctx context.Context, q *domain.Quote, ttl time.Duration) error {
	b, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+q.ID.String(), b, ttl).Err(); err != nil {
		return fmt.Errorf("redis quote save: %w", err)
	}
	return nil
}

// Get returns nil, nil for unknown or expired quotes.
func (s *QuoteStore) Get(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	b, err := s.client.Get(ctx, s.prefix+id.String()).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis quote get: %w", err)
	}
	var q domain.Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, fmt.Errorf("unmarshal quote: %w", err)
	}
	return &q, nil
}

// Consume atomically marks the quote used.
// Returns true if this call consumed it, false if it was already used.
func (s *QuoteStore) Consume(ctx context.Context, id uuid.UUID, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, s.prefix+id.String()+":used", 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis quote consume: %w", err)
	}
	return result == "OK", nil
}
