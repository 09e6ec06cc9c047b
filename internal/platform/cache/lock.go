package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

// Locker serializes work on a key across goroutines or processes.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func
	// releases the lock and is safe to call more than once.
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

const lockRetryInterval = 50 * time.Millisecond

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-node SET NX lock with token-checked release.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker creates a locker on the given cache.
func NewRedisLocker(c *Cache) *RedisLocker {
	return &RedisLocker{client: c.Client, prefix: c.Key("lock") + ":"}
}

// Lock implements Locker.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if key == "" {
		return nil, apperr.Invalid("cache.Lock", "empty lock key")
	}
	token := uuid.NewString()
	full := l.prefix + key

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			return nil, apperr.Wrap("cache.Lock", apperr.ErrStorage, fmt.Errorf("acquire %s: %w", key, err))
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() {
					// Release on a fresh context so a cancelled caller still unlocks.
					rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = unlockScript.Run(rctx, l.client, []string{full}, token).Err()
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.New("cache.Lock", apperr.ErrConflict, "lock %s busy: %v", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Lock implements Locker. The ttl is ignored; locks are held until released.
func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	if key == "" {
		return nil, apperr.Invalid("cache.Lock", "empty lock key")
	}
	for {
		l.mu.Lock()
		ch, busy := l.held[key]
		if !busy {
			ch = make(chan struct{})
			l.held[key] = ch
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, apperr.New("cache.Lock", apperr.ErrConflict, "lock %s busy: %v", key, ctx.Err())
		case <-ch:
		}
	}
}

// IsLockBusy reports whether err came from a lock wait that timed out.
func IsLockBusy(err error) bool {
	return errors.Is(err, apperr.ErrConflict)
}
