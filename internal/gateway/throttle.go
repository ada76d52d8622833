package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bioplatform/access-gateway/pkg/logger"
)

// Throttle counts authentication failures per client and reports when a
// client has exceeded the allowed budget inside the window.
type Throttle interface {
	// Bump records one failure for the key and reports whether the key is
	// now over its budget.
	Bump(ctx context.Context, key string) (exceeded bool, err error)
	// Exceeded reports whether the key is over budget without recording a
	// failure.
	Exceeded(ctx context.Context, key string) (bool, error)
}

// RedisThrottle counts failures in Redis so the budget holds across gateway
// replicas.
type RedisThrottle struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger *logger.Logger
}

// NewRedisThrottle creates a Redis-backed throttle.
func NewRedisThrottle(client *redis.Client, limit int, window time.Duration, log *logger.Logger) *RedisThrottle {
	return &RedisThrottle{client: client, limit: limit, window: window, logger: log}
}

func (t *RedisThrottle) key(key string) string {
	return fmt.Sprintf("gateway:throttle:%s", key)
}

// Bump increments the failure counter, starting the window on the first
// failure.
func (t *RedisThrottle) Bump(ctx context.Context, key string) (bool, error) {
	k := t.key(key)

	count, err := t.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("failed to bump throttle counter: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, k, t.window).Err(); err != nil {
			t.logger.WithError(err).Warn("Failed to set throttle window TTL")
		}
	}
	return count > int64(t.limit), nil
}

// Exceeded reads the counter without advancing it.
func (t *RedisThrottle) Exceeded(ctx context.Context, key string) (bool, error) {
	count, err := t.client.Get(ctx, t.key(key)).Int64()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to read throttle counter: %w", err)
	}
	return count > int64(t.limit), nil
}

// MemoryThrottle is the in-process fallback when Redis is not configured.
type MemoryThrottle struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	counts  map[string]int
	resetAt map[string]time.Time
	now     func() time.Time
}

// NewMemoryThrottle creates an in-memory throttle.
func NewMemoryThrottle(limit int, window time.Duration) *MemoryThrottle {
	return &MemoryThrottle{
		limit:   limit,
		window:  window,
		counts:  make(map[string]int),
		resetAt: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Bump increments the failure counter, starting the window on the first
// failure.
func (t *MemoryThrottle) Bump(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expire(key)
	if t.counts[key] == 0 {
		t.resetAt[key] = t.now().Add(t.window)
	}
	t.counts[key]++
	return t.counts[key] > t.limit, nil
}

// Exceeded reads the counter without advancing it.
func (t *MemoryThrottle) Exceeded(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.expire(key)
	return t.counts[key] > t.limit, nil
}

func (t *MemoryThrottle) expire(key string) {
	if reset, ok := t.resetAt[key]; ok && !t.now().Before(reset) {
		delete(t.counts, key)
		delete(t.resetAt, key)
	}
}
