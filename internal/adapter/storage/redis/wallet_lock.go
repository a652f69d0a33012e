package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"dex-trade-core/internal/core/ports"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// WalletLocker implements ports.WalletLocker with SET NX PX and a token-checked release.
// It serializes one wallet across every process sharing the Redis instance.
type WalletLocker struct {
	client       *goredis.Client
	prefix       string
	pollInterval time.Duration
	maxPoll      time.Duration
}

// NewWalletLocker creates a new Redis-backed wallet lock.
func NewWalletLocker(client *goredis.Client) *WalletLocker {
	return &WalletLocker{
		client:       client,
		prefix:       "walletlock:",
		pollInterval: 10 * time.Millisecond,
		maxPoll:      200 * time.Millisecond,
	}
}

// Lock polls until the key is free or ctx is done.
func (l *WalletLocker) Lock(ctx context.Context, walletID uuid.UUID, ttl time.Duration) (ports.Unlock, error) {
	key := l.prefix + walletID.String()
	token, err := newLockToken()
	if err != nil {
		return nil, err
	}

	wait := l.pollInterval
	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("wallet %s: %w: %w", walletID, ports.ErrLockNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("redis wallet lock: %w", err)
		}
		if ok {
			break
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("wallet %s: %w: %w", walletID, ports.ErrLockNotAcquired, ctx.Err())
		case <-t.C:
		}
		if wait *= 2; wait > l.maxPoll {
			wait = l.maxPoll
		}
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			if rerr := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); rerr != nil && !errors.Is(rerr, goredis.Nil) {
				err = fmt.Errorf("redis wallet unlock: %w", rerr)
			}
		})
		return err
	}, nil
}

func newLockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
