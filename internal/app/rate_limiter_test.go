package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingLimiter struct{ calls int }

func (f *failingLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	f.calls++
	return 0, 0, errors.New("redis: connection refused")
}

func TestMemoryRateLimiter_FixedWindow(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, retryAfter, err := limiter.ConsumeRateLimit(ctx, "signup", "1.2.3.4", 3, time.Minute)
		if err != nil || count != i || retryAfter != 60 {
			t.Fatalf("call %d: count=%d retryAfter=%d err=%v", i, count, retryAfter, err)
		}
	}

	now = now.Add(45 * time.Second)
	count, retryAfter, _ := limiter.ConsumeRateLimit(ctx, "signup", "1.2.3.4", 3, time.Minute)
	if count != 4 || retryAfter != 15 {
		t.Fatalf("expected 4th request over the limit with 15s left, got count=%d retryAfter=%d", count, retryAfter)
	}

	if other, _, _ := limiter.ConsumeRateLimit(ctx, "signup", "5.6.7.8", 3, time.Minute); other != 1 {
		t.Fatalf("subjects must be counted separately, got %d", other)
	}

	now = now.Add(16 * time.Second)
	if count, _, _ := limiter.ConsumeRateLimit(ctx, "signup", "1.2.3.4", 3, time.Minute); count != 1 {
		t.Fatalf("expected window reset, got %d", count)
	}
}

func TestFallbackRateLimiter_UsesMemoryOnError(t *testing.T) {
	primary := &failingLimiter{}
	limiter := NewFallbackRateLimiter(primary, NewMemoryRateLimiter(), discardLogger())

	count, _, err := limiter.ConsumeRateLimit(context.Background(), "login", "ip", 5, time.Minute)
	if err != nil {
		t.Fatalf("expected fallback to absorb the error, got %v", err)
	}
	if count != 1 || primary.calls != 1 {
		t.Fatalf("unexpected count=%d calls=%d", count, primary.calls)
	}
}

func TestRedisRateLimiter_NilClientAllows(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "")
	if limiter.prefix != "finboost:rate_limit" {
		t.Fatalf("unexpected default prefix %q", limiter.prefix)
	}
	count, retryAfter, err := limiter.ConsumeRateLimit(context.Background(), "signup", "ip", 5, time.Minute)
	if err != nil || count != 0 || retryAfter != 0 {
		t.Fatalf("expected no-op without client, got %d %d %v", count, retryAfter, err)
	}
	if trimmed := NewRedisRateLimiter(nil, " custom: "); trimmed.prefix != "custom" {
		t.Fatalf("expected trimmed prefix, got %q", trimmed.prefix)
	}
}
