package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dex-trade-core/internal/core/ports"

	"github.com/google/uuid"
)

// WalletLocker implements ports.WalletLocker with one buffered channel per
// wallet. The ttl is ignored: an in-process holder cannot outlive the process.
type WalletLocker struct {
	mu    sync.Mutex
	slots map[uuid.UUID]chan struct{}
}

func NewWalletLocker() *WalletLocker {
	return &WalletLocker{slots: make(map[uuid.UUID]chan struct{})}
}

func (l *WalletLocker) Lock(ctx context.Context, walletID uuid.UUID, _ time.Duration) (ports.Unlock, error) {
	l.mu.Lock()
	slot, ok := l.slots[walletID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[walletID] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wallet %s: %w: %w", walletID, ports.ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-slot })
		return nil
	}, nil
}
