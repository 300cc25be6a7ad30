package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter counts requests per scope and subject in a fixed window.
// count is the number of requests seen in the current window including this
// one; retryAfterSeconds is the time left in the window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisRateLimiter implements distributed rate limiting using Redis.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "finboost:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := rateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	return int(currentCount), retryAfterFromMillis(ttlMs), nil
}

func retryAfterFromMillis(ms int64) int {
	retryAfter := int(math.Ceil(float64(ms) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter
}

type memoryWindow struct {
	count     int
	expiresAt time.Time
}

// MemoryRateLimiter is a single-process fixed-window limiter used when Redis
// is not configured or unavailable.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{windows: map[string]*memoryWindow{}, now: time.Now}
}

func (m *MemoryRateLimiter) ConsumeRateLimit(_ context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	if window < time.Second {
		window = time.Second
	}
	key := strings.TrimSpace(scope) + ":" + strings.TrimSpace(subject)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		// Drop expired windows while the lock is held.
		for k, existing := range m.windows {
			if !now.Before(existing.expiresAt) {
				delete(m.windows, k)
			}
		}
		w = &memoryWindow{expiresAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count++
	return w.count, retryAfterFromMillis(w.expiresAt.Sub(now).Milliseconds()), nil
}

// FallbackRateLimiter uses primary and switches to fallback for any call
// where primary returns an error.
type FallbackRateLimiter struct {
	primary  RateLimiter
	fallback RateLimiter
	log      logrus.FieldLogger
}

func NewFallbackRateLimiter(primary, fallback RateLimiter, log logrus.FieldLogger) *FallbackRateLimiter {
	return &FallbackRateLimiter{primary: primary, fallback: fallback, log: log.WithField("component", "rate_limiter")}
}

func (f *FallbackRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	count, retryAfter, err := f.primary.ConsumeRateLimit(ctx, scope, subject, limit, window)
	if err == nil {
		return count, retryAfter, nil
	}
	f.log.WithError(err).WithField("scope", scope).Warn("primary rate limiter failed; using in-memory fallback")
	return f.fallback.ConsumeRateLimit(ctx, scope, subject, limit, window)
}
