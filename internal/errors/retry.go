package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/crawlrs/crawlrs/internal/logging"
)

// RetryConfig configures exponential backoff, adapted from the prior codebase's
// internal/errors/retry.go.
type RetryConfig struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// TaskRetrySchedule is the task backoff ladder: 1s, 5s, 25s, capped at 5
// minutes. It is not a pure exponential series (5x multiplier, not 2x), so
// callers needing the exact task backoff should use TaskBackoff rather than
// the generic calculateBackoff below.
var TaskRetrySchedule = []time.Duration{1 * time.Second, 5 * time.Second, 25 * time.Second}

const TaskRetryCap = 5 * time.Minute

// TaskBackoff returns the delay before retry_count+1's attempt.
func TaskBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount < len(TaskRetrySchedule) {
		return TaskRetrySchedule[retryCount]
	}
	delay := TaskRetrySchedule[len(TaskRetrySchedule)-1]
	for i := len(TaskRetrySchedule); i <= retryCount; i++ {
		delay *= 5
		if delay > TaskRetryCap {
			return TaskRetryCap
		}
	}
	return delay
}

// WebhookRetrySchedule is the webhook backoff ladder: 10s, 1m, 5m, 30m,
// 1h by retry_count, for up to the default max_retries (5).
var WebhookRetrySchedule = []time.Duration{
	10 * time.Second,
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
}

// WebhookBackoff returns the delay before the retry_count-th retry of a
// webhook delivery. Callers should mark the event dead once retryCount
// reaches maxRetries rather than calling this past the schedule's length.
func WebhookBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(WebhookRetrySchedule) {
		return WebhookRetrySchedule[len(WebhookRetrySchedule)-1]
	}
	return WebhookRetrySchedule[retryCount]
}

// DefaultRetryConfig returns sensible defaults for the generic Retry
// helper. Retry has no caller outside its own tests: engine fallback
// happens in the router, and the outbox reschedules via WebhookBackoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.25,
	}
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// Retry executes fn with exponential backoff, stopping as soon as an
// error classifies as non-transient per Retryable.
func Retry(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	return RetryWithLog(ctx, config, fn, nil)
}

// RetryWithLog is Retry with an explicit logger.
func RetryWithLog(ctx context.Context, config RetryConfig, fn RetryableFunc, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	var lastErr error
	for attempt := 0; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("retry succeeded after %d attempts", attempt+1)
			}
			return nil
		}

		lastErr = err
		if !Retryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			logger.Warn("max retries (%d) exhausted", config.MaxAttempts+1)
			break
		}

		delay := calculateBackoff(attempt, config)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func calculateBackoff(attempt int, config RetryConfig) time.Duration {
	multiplier := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(config.BaseDelay) * multiplier)
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.JitterFactor > 0 {
		jitter := float64(delay) * config.JitterFactor
		jitterAmount := (rand.Float64()*2 - 1) * jitter
		delay = time.Duration(float64(delay) + jitterAmount)
		if delay < 0 {
			delay = config.BaseDelay
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return delay
}

// JitteredPollInterval returns a jittered duration in [base, cap] used by
// dispatcher workers between lease_next polls.
func JitteredPollInterval(base, cap time.Duration) time.Duration {
	if cap <= base {
		return base
	}
	span := cap - base
	return base + time.Duration(rand.Int63n(int64(span)))
}
