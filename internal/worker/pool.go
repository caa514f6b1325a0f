// Package worker implements the fixed-size worker pool: a configurable
// number of long-lived workers per role, each leasing a task, acquiring
// a tenant permit, running the task's Executor (the executors validate
// fetch targets for SSRF), writing the result, and releasing the
// permit — reusing
// internal/async.Go's panic-safety wrapper for every worker goroutine.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crawlrs/crawlrs/internal/async"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
)

// LeaseDuration is the lease length; workers must extend before 80%
// of it elapses.
const LeaseDuration = 5 * time.Minute

// ExtendThreshold is the fraction of LeaseDuration after which a worker
// must have already called extend_lease.
const ExtendThreshold = 0.8

// Executor runs one task to completion (or a retryable/terminal error),
// returning the opaque result payload on success. Implementations live in
// internal/crawlexec: ScrapeExecutor, CrawlExecutor (crawl-seed/child),
// SearchExecutor and ExtractExecutor.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) (json.RawMessage, error)
}

// Releaser is the tenant permit handle a worker must release on every
// exit path.
type Releaser interface {
	Release(ctx context.Context)
}

// PermitAcquirer looks up (or reuses) a tenant permit for a task.
type PermitAcquirer interface {
	// Acquire returns a permit and true, or false on a would-block
	// outcome the caller should route to the backlog instead.
	Acquire(ctx context.Context, tenantID string, limit int) (Releaser, bool, error)
}

// TenantLimits resolves a tenant's current concurrency limit, looked up
// per request since limits can change.
type TenantLimits interface {
	ConcurrencyLimit(ctx context.Context, tenant string) (int, error)
}

// Backlogger parks a task that couldn't acquire a permit.
type Backlogger interface {
	Park(ctx context.Context, t *task.Task, limit int) error
}

// Webhooks appends terminal-transition outbox events.
type Webhooks interface {
	AppendTerminal(ctx context.Context, t *task.Task, eventType, errCode string, result json.RawMessage) error
}

// Pool runs a fixed number of workers for one role (kind set).
type Pool struct {
	store      task.Store
	executor   Executor
	permits    PermitAcquirer
	limits     TenantLimits
	backlog    Backlogger
	webhooks   Webhooks
	logger     logging.Logger
	kinds      []task.Kind
	role       string
	numWorkers int
}

// New builds a worker pool for one role, e.g. role="scrape" handling
// kinds={scrape, extract}.
func New(role string, kinds []task.Kind, numWorkers int, store task.Store, executor Executor, permits PermitAcquirer, limits TenantLimits, backlog Backlogger, webhooks Webhooks) *Pool {
	return &Pool{
		store:      store,
		executor:   executor,
		permits:    permits,
		limits:     limits,
		backlog:    backlog,
		webhooks:   webhooks,
		logger:     logging.NewComponentLogger("worker-pool:" + role),
		kinds:      kinds,
		role:       role,
		numWorkers: numWorkers,
	}
}

// Run starts p.numWorkers long-lived worker goroutines, each polling
// lease_next on a jittered interval, until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		workerID := p.role + "-" + time.Now().Format("150405") + "-"
		id := workerID + itoa(i)
		async.Go(p.logger, id, func() { p.runOne(ctx, id) })
	}
}

func (p *Pool) runOne(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t, err := p.store.LeaseNext(ctx, workerID, p.kinds, time.Now(), LeaseDuration)
		if err != nil {
			p.logger.Error("lease_next: %v", err)
			sleep(ctx, domainerrors.JitteredPollInterval(100*time.Millisecond, time.Second))
			continue
		}
		if t == nil {
			sleep(ctx, domainerrors.JitteredPollInterval(100*time.Millisecond, time.Second))
			continue
		}

		p.execute(ctx, workerID, t)
	}
}

func (p *Pool) execute(ctx context.Context, workerID string, t *task.Task) {
	limit, err := p.limits.ConcurrencyLimit(ctx, t.Tenant)
	if err != nil {
		p.fail(ctx, workerID, t, domainerrors.OpaqueCode(err), true)
		return
	}

	permit, ok, err := p.permits.Acquire(ctx, t.Tenant, limit)
	if err != nil {
		p.fail(ctx, workerID, t, domainerrors.OpaqueCode(err), true)
		return
	}
	if !ok {
		if bErr := p.backlog.Park(ctx, t, limit); bErr != nil {
			p.logger.Error("parking task %s to backlog: %v", t.ID, bErr)
		}
		return
	}
	defer permit.Release(ctx)

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopExtend := p.keepLeaseAlive(execCtx, cancel, workerID, t.ID)
	defer close(stopExtend)

	result, err := p.executor.Execute(execCtx, t)
	if err != nil {
		retryable := domainerrors.Retryable(err)
		p.fail(ctx, workerID, t, domainerrors.OpaqueCode(err), retryable)
		return
	}
	p.complete(ctx, workerID, t, result)
}

// keepLeaseAlive extends the lease at 60% of LeaseDuration until the
// returned channel is closed. If a lease extension discovers the lease
// was lost to a reaper (and presumably re-issued to another worker), it
// calls cancel to stop the in-flight Executor.Execute immediately rather
// than let it keep running and racing whichever worker now holds the
// lease.
func (p *Pool) keepLeaseAlive(ctx context.Context, cancel context.CancelFunc, workerID, taskID string) chan struct{} {
	stop := make(chan struct{})
	interval := time.Duration(float64(LeaseDuration) * 0.6)
	async.Go(p.logger, "lease-extend:"+taskID, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := p.store.ExtendLease(ctx, taskID, workerID, time.Now().Add(LeaseDuration))
				if err != nil {
					p.logger.Error("extending lease for %s: %v", taskID, err)
					continue
				}
				if !ok {
					p.logger.Warn("lease lost for %s, abandoning", taskID)
					cancel()
					return
				}
			}
		}
	})
	return stop
}

func (p *Pool) complete(ctx context.Context, workerID string, t *task.Task, result json.RawMessage) {
	if err := p.store.Complete(ctx, t.ID, workerID, result); err != nil {
		if domainerrors.KindOf(err) == domainerrors.KindLostLease {
			p.logger.Warn("lease lost before complete for %s", t.ID)
			return
		}
		p.logger.Error("completing task %s: %v", t.ID, err)
		return
	}
	if t.WebhookURL != "" {
		if err := p.webhooks.AppendTerminal(ctx, t, eventTypeFor(t.Kind, true), "", result); err != nil {
			p.logger.Error("appending terminal webhook for %s: %v", t.ID, err)
		}
	}
}

func (p *Pool) fail(ctx context.Context, workerID string, t *task.Task, errCode string, retry bool) {
	nextRetryAt := time.Now().Add(domainerrors.TaskBackoff(t.RetryCount))
	terminal, err := p.store.Fail(ctx, t.ID, workerID, errCode, retry, nextRetryAt)
	if err != nil {
		if domainerrors.KindOf(err) == domainerrors.KindLostLease {
			p.logger.Warn("lease lost before fail for %s", t.ID)
			return
		}
		p.logger.Error("failing task %s: %v", t.ID, err)
		return
	}
	// terminal reflects where the task actually landed, not the retry
	// flag the caller guessed from error classification: a retryable
	// error still terminates the task once its retry budget is spent.
	if terminal && t.WebhookURL != "" {
		if err := p.webhooks.AppendTerminal(ctx, t, eventTypeFor(t.Kind, false), errCode, nil); err != nil {
			p.logger.Error("appending terminal webhook for %s: %v", t.ID, err)
		}
	}
}

func eventTypeFor(kind task.Kind, success bool) string {
	switch kind {
	case task.KindCrawlSeed, task.KindCrawlChild:
		if success {
			return "crawl.completed"
		}
		return "crawl.failed"
	case task.KindExtract:
		return "extract.completed"
	default:
		if success {
			return "scrape.completed"
		}
		return "scrape.failed"
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
