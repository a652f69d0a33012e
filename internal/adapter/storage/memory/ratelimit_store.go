package memory

import (
	"context"
	"sync"
	"time"

	"dex-trade-core/internal/core/ports"
)

type windowCount struct {
	window int64
	count  int64
}

// RateLimitStore implements ports.RateLimiter with fixed windows per key.
type RateLimitStore struct {
	mu     sync.Mutex
	counts map[string]windowCount
	now    func() time.Time
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{counts: make(map[string]windowCount), now: time.Now}
}

func (s *RateLimitStore) Allow(_ context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	secs := int64(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	windowID := s.now().Unix() / secs

	s.mu.Lock()
	c := s.counts[key]
	if c.window != windowID {
		c = windowCount{window: windowID}
	}
	c.count++
	s.counts[key] = c
	s.mu.Unlock()

	remaining := limit - c.count
	if remaining < 0 {
		remaining = 0
	}
	return &ports.RateLimitResult{
		Allowed:   c.count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   (windowID + 1) * secs,
	}, nil
}
