// Package ratelimit implements a fixed-window rate limiter: per
// credential, a counter keyed by (credential, current_minute) shared
// across all API frontends via Redis so it survives frontend
// restarts. Grounded on redis/go-redis/v9 INCR+EXPIRE conventions for
// shared, restart-surviving counters (the Redis client source is
// documented in DESIGN.md).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// Limiter enforces a per-credential requests-per-minute quota.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter wraps an existing Redis client.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow increments the current minute's counter for credential and
// compares it against quotaPerMinute. On exceeding the quota it returns a
// rate-limit-exceeded error carrying RetryAfter seconds until the window
// rolls.
func (l *Limiter) Allow(ctx context.Context, credential string, quotaPerMinute int) error {
	now := time.Now().UTC()
	window := now.Truncate(time.Minute)
	key := fmt.Sprintf("ratelimit:%s:%d", credential, window.Unix())

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return domainerrors.New(domainerrors.KindInternal, "rate limiter unavailable", err)
	}
	if count == 1 {
		// First hit in this window: set expiry so stale windows don't
		// accumulate keys forever (window length + a small grace margin).
		l.rdb.Expire(ctx, key, 90*time.Second)
	}

	if int(count) > quotaPerMinute {
		retryAfter := int(window.Add(time.Minute).Sub(now).Seconds())
		if retryAfter < 0 {
			retryAfter = 0
		}
		return domainerrors.NewWithRetryAfter(domainerrors.KindRateLimitExceeded, "rate limit exceeded", retryAfter)
	}
	return nil
}
