// Package dispatch runs the background loops that keep the task queue
// healthy independent of worker execution: reaping expired leases back
// to queued, and periodically reporting how many queued tasks have
// reached their retry backoff (a diagnostic scan that changes no state).
// Worker lease acquisition itself lives in internal/worker; this
// package is the queue-maintenance half of the system.
package dispatch

import (
	"context"
	"time"

	"github.com/crawlrs/crawlrs/internal/async"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
)

// ReapInterval is how often expired leases are swept back to queued.
const ReapInterval = 10 * time.Second

// RetryScanInterval is how often DueForRetry is polled for diagnostics.
// A failed task with retry=true is already requeued to status=queued by
// Fail; lease_next picks it up once its own ordering lets it, so this
// loop only surfaces counts, it never flips status itself.
const RetryScanInterval = 5 * time.Second

// RetryBatchSize bounds one DueForRetry scan.
const RetryBatchSize = 200

// Dispatcher supervises queue-maintenance background loops.
type Dispatcher struct {
	store  task.Store
	logger logging.Logger
}

// New builds a Dispatcher over store.
func New(store task.Store) *Dispatcher {
	return &Dispatcher{store: store, logger: logging.NewComponentLogger("dispatch")}
}

// Run starts the reaper and retry-scan loops as panic-safe goroutines
// until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	async.Go(d.logger, "lease-reaper", func() { d.reapLoop(ctx) })
	async.Go(d.logger, "retry-scanner", func() { d.retryLoop(ctx) })
}

func (d *Dispatcher) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reapOnce(ctx)
		}
	}
}

func (d *Dispatcher) reapOnce(ctx context.Context) {
	reaped, err := d.store.ReapExpiredLeases(ctx, time.Now())
	if err != nil {
		d.logger.Error("reaping expired leases: %v", err)
		return
	}
	if len(reaped) > 0 {
		d.logger.Info("reaped %d expired lease(s)", len(reaped))
	}
}

func (d *Dispatcher) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(domainerrors.JitteredPollInterval(RetryScanInterval, RetryScanInterval*2))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.retryOnce(ctx)
		}
	}
}

func (d *Dispatcher) retryOnce(ctx context.Context) {
	due, err := d.store.DueForRetry(ctx, time.Now(), RetryBatchSize)
	if err != nil {
		d.logger.Error("scanning due retries: %v", err)
		return
	}
	if len(due) > 0 {
		d.logger.Info("%d task(s) now eligible for retry", len(due))
	}
}
