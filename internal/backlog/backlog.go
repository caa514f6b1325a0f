// Package backlog implements the parking area for tasks that would
// block on tenant concurrency: they are parked here with an age-out
// deadline, and a
// reaper periodically promotes entries whose tenant now has headroom
// back into the main queue, cancelling ones that aged out.
package backlog

import (
	"context"
	"time"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
)

// DefaultAgeOut is the one-hour default from admission.
const DefaultAgeOut = 1 * time.Hour

// DefaultReapInterval is the "at least every 30 seconds" requirement.
const DefaultReapInterval = 15 * time.Second

// Entry is a task id parked awaiting tenant concurrency headroom.
type Entry struct {
	TaskID     string
	Tenant     string
	Limit      int
	AdmittedAt time.Time
	ExpiresAt  time.Time
}

// Store is the backlog's persistence port; a tiny, dedicated interface
// rather than reusing task.Store because the reaper only ever needs to
// enumerate and remove backlog rows, not the full task lifecycle.
type Store interface {
	Add(ctx context.Context, e Entry) error
	Remove(ctx context.Context, taskID string) error
	All(ctx context.Context) ([]Entry, error)
}

// Releaser is whatever a successful probe acquire returns; the reaper
// only needs to give it back, never to hold it.
type Releaser interface {
	Release(ctx context.Context)
}

// ConcurrencyProber is the subset of *tenant.Semaphore the reaper needs:
// "would acquire(tenant) succeed right now". Scoped to an interface so
// tests can fake it without a live Redis instance.
type ConcurrencyProber interface {
	Acquire(ctx context.Context, tenantID string, limit int) (Releaser, bool, error)
}

// Reaper periodically promotes or expires backlog entries.
type Reaper struct {
	store    Store
	tasks    task.Store
	webhooks webhook.Store
	prober   ConcurrencyProber
	logger   logging.Logger
	interval time.Duration
}

// NewReaper wires the backlog store against the task store, webhook
// store, and tenant concurrency prober it needs to promote or expire
// entries.
func NewReaper(store Store, tasks task.Store, webhooks webhook.Store, prober ConcurrencyProber) *Reaper {
	return &Reaper{
		store:    store,
		tasks:    tasks,
		webhooks: webhooks,
		prober:   prober,
		logger:   logging.NewComponentLogger("backlog-reaper"),
		interval: DefaultReapInterval,
	}
}

// Run blocks, sweeping the backlog every r.interval until ctx is
// cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				r.logger.Error("sweep: %v", err)
			}
		}
	}
}

// SweepOnce promotes eligible entries and expires overdue ones. Exported
// so tests and the scheduler can drive it deterministically without
// waiting on the ticker.
func (r *Reaper) SweepOnce(ctx context.Context) error {
	entries, err := r.store.All(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, e := range entries {
		if now.After(e.ExpiresAt) {
			if err := r.expire(ctx, e); err != nil {
				r.logger.Error("expiring backlog entry %s: %v", e.TaskID, err)
			}
			continue
		}

		permit, ok, err := r.prober.Acquire(ctx, e.Tenant, e.Limit)
		if err != nil {
			r.logger.Error("probing tenant %s concurrency: %v", e.Tenant, err)
			continue
		}
		if !ok {
			continue
		}
		// The probe already reserved the unit of concurrency this task
		// will consume once leased; release it now and let the normal
		// worker path re-acquire, since this reaper only decides
		// eligibility, not execution — it only confirms acquire(tenant)
		// now succeeds.
		permit.Release(ctx)

		// Park left the task queued but ineligible for LeaseNext until
		// its age-out deadline; clear that hold now so a worker actually
		// picks it back up instead of it sitting idle until expiry.
		if _, err := r.tasks.PromoteFromBacklog(ctx, e.TaskID); err != nil {
			r.logger.Error("promoting backlog entry %s: %v", e.TaskID, err)
			continue
		}
		if err := r.store.Remove(ctx, e.TaskID); err != nil {
			r.logger.Error("removing promoted backlog entry %s: %v", e.TaskID, err)
		}
	}
	return nil
}

func (r *Reaper) expire(ctx context.Context, e Entry) error {
	if err := r.tasks.Cancel(ctx, []string{e.TaskID}, true); err != nil {
		return err
	}
	t, err := r.tasks.Find(ctx, e.TaskID)
	if err != nil {
		return err
	}
	if t.WebhookURL != "" {
		if err := r.webhooks.Append(ctx, &webhook.Event{
			ID:          e.TaskID + "-expired",
			Tenant:      e.Tenant,
			EventType:   webhook.EventScrapeFailed,
			ResourceID:  e.TaskID,
			TargetURL:   t.WebhookURL,
			Status:      webhook.StatusPending,
			MaxRetries:  webhook.DefaultMaxRetries,
			NextRetryAt: time.Now(),
			CreatedAt:   time.Now(),
		}); err != nil {
			return err
		}
	}
	return r.store.Remove(ctx, e.TaskID)
}

// ExpiredErrorCode is the opaque error kind for age-out cancellations.
// expire does not write it to the task row: task.Store.Cancel records
// no error code, so an aged-out task is left cancelled with an empty
// Error.
var ExpiredErrorCode = string(domainerrors.KindExpired)
