// Package syncwait implements the sync-wait bridge: the optional
// inline-response path where the HTTP layer polls the task store
// briefly after enqueueing, instead of always returning
// status=processing immediately.
package syncwait

import (
	"context"
	"time"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
)

// DefaultWaitMS and MaxWaitMS bound the caller-supplied sync_wait_ms.
const (
	DefaultWaitMS = 5000
	MaxWaitMS     = 30000
)

// PollInterval is the fixed interval Wait polls the task store at
// while waiting.
const PollInterval = 500 * time.Millisecond

// Outcome is the result of waiting on a task.
type Outcome struct {
	// Task is always populated, terminal or not.
	Task *task.Task
	// TimedOut is true if the bound elapsed before the task reached a
	// terminal state.
	TimedOut bool
}

// ClampWaitMS enforces its default/max: a zero value becomes
// the default, and anything above MaxWaitMS is capped.
func ClampWaitMS(requested int) int {
	if requested <= 0 {
		return DefaultWaitMS
	}
	if requested > MaxWaitMS {
		return MaxWaitMS
	}
	return requested
}

// Wait polls store for taskID every PollInterval until it reaches a
// terminal state or waitMS elapses, returning the task either way.
func Wait(ctx context.Context, store task.Store, taskID string, waitMS int) (Outcome, error) {
	deadline := time.Now().Add(time.Duration(ClampWaitMS(waitMS)) * time.Millisecond)

	for {
		t, err := store.Find(ctx, taskID)
		if err != nil {
			return Outcome{}, err
		}
		if t.Status.IsTerminal() {
			return Outcome{Task: t}, nil
		}
		if !time.Now().Before(deadline) {
			return Outcome{Task: t, TimedOut: true}, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{Task: t, TimedOut: true}, nil
		case <-time.After(PollInterval):
		}
	}
}
