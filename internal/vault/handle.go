package vault

import (
	"crypto/ecdsa"
	"sync"
	"time"

	"dex-trade-core/pkg/apperror"
)

// keyHandle scopes a decrypted key to one use window. Callers must Close it.
type keyHandle struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	expires time.Time
	now     func() time.Time
}

func newKeyHandle(key *ecdsa.PrivateKey, expires time.Time, now func() time.Time) *keyHandle {
	return &keyHandle{key: key, expires: expires, now: now}
}

// use runs fn with the plaintext key. It fails once the handle has expired or been closed.
func (h *keyHandle) use(fn func(*ecdsa.PrivateKey) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.key == nil || !h.now().Before(h.expires) {
		return apperror.ErrSigningTimeout()
	}
	return fn(h.key)
}

// Close zeroes the private scalar. Safe to call twice.
func (h *keyHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.key != nil {
		zeroKey(h.key)
		h.key = nil
	}
}

func zeroKey(k *ecdsa.PrivateKey) {
	if k == nil || k.D == nil {
		return
	}
	b := k.D.Bits()
	for i := range b {
		b[i] = 0
	}
	k.D.SetInt64(0)
}
