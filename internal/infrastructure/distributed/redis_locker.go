package distributed

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tipwire/internal/core/ports"
	"tipwire/pkg/distributed"
)

// RedisLocker adapts the redis lock manager to the guard's locker interface,
// so reactor instances sharing one playback device contend on the same keys.
// Lock handles are kept per key because unlock must present the holder value
// that acquired the lock.
type RedisLocker struct {
	manager *distributed.LockManager
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	held map[string]*distributed.Lock
}

var _ ports.ResourceLocker = (*RedisLocker)(nil)

func NewRedisLocker(client *redis.Client, prefix string, ttl, timeout time.Duration, logger *zap.SugaredLogger) *RedisLocker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisLocker{
		manager: distributed.NewLockManager(client, prefix, ttl),
		timeout: timeout,
		logger:  logger,
		held:    make(map[string]*distributed.Lock),
	}
}

// TryLock never blocks on contention. A redis error counts as not acquired;
// failing closed keeps at-most-one-holder intact.
func (r *RedisLocker) TryLock(key string) bool {
	r.mu.Lock()
	if _, holding := r.held[key]; holding {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	lock := r.manager.Lock(key)
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	acquired, err := lock.TryLock(ctx)
	if err != nil {
		r.logger.Warnw("lock acquisition failed", "key", key, "error", err)
		return false
	}
	if !acquired {
		return false
	}

	r.mu.Lock()
	r.held[key] = lock
	r.mu.Unlock()
	return true
}

func (r *RedisLocker) Unlock(key string) {
	r.mu.Lock()
	lock, ok := r.held[key]
	delete(r.held, key)
	r.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := lock.Unlock(ctx); err != nil {
		// The TTL reaps an unlockable key eventually.
		r.logger.Warnw("lock release failed", "key", key, "error", err)
	}
}
