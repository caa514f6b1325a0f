// Package task defines the unified task domain model and store port.
// It generalizes a prior internal/domain/task/store.go — a single
// source of truth for task state persisted durably across process
// restarts — from a chat-agent task model to the priority work-queue
// model this platform dispatches to workers.
package task

import (
	"context"
	"encoding/json"
	"time"
)

// Kind is the unit of work a task represents.
type Kind string

const (
	KindScrape     Kind = "scrape"
	KindCrawlSeed  Kind = "crawl-seed"
	KindCrawlChild Kind = "crawl-child"
	KindExtract    Kind = "extract"
	KindSearch     Kind = "search"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the durable unit of work dispatched to workers.
type Task struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Tenant   string `json:"tenant"`
	Priority int    `json:"priority"` // signed; higher served first

	Status     Status `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`

	// Payload is the opaque, kind-specific request body (e.g. a scrape
	// request or a search query), stored and returned verbatim.
	Payload json.RawMessage `json:"payload"`

	// Lease state. Invariant: exactly one non-null among
	// (LeaseHolder & LeaseDeadline) iff Status == StatusActive.
	LeaseHolder   *string    `json:"lease_holder,omitempty"`
	LeaseDeadline *time.Time `json:"lease_deadline,omitempty"`

	ParentID *string `json:"parent_id,omitempty"` // crawl-child's seed task
	CrawlID  *string `json:"crawl_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// NextRetryAt is set when a failed task is requeued with backoff
	//; nil otherwise.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// Result is the terminal, opaque result payload; Error is a short
	// opaque error code written by Fail: it is set on a failed task and
	// is also kept on a task that Fail requeued for retry.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// WebhookURL, if set, causes a webhook event to be appended after
	// the task's terminal status write, as a separate write (see
	// webhook.Store).
	WebhookURL string `json:"webhook_url,omitempty"`
}

// QueryFilters narrows a batch Query call.
type QueryFilters struct {
	Statuses []Status
	Kinds    []Kind
}

// LeaseReaped counts leases a ReapExpiredLeases call recovered, the
// "diagnostic counter" this requires without touching retry_count.
type LeaseReaped struct {
	TaskID string
}

// Store is the task persistence port. Every mutating method is an
// atomic, CAS-like operation so that concurrent lease_next/complete/fail
// calls never interleave into an inconsistent state. Most are a single
// conditional statement; PostgresStore.LeaseNext is instead a
// transaction of two statements.
type Store interface {
	// EnsureSchema creates or migrates the schema.
	EnsureSchema(ctx context.Context) error

	// Enqueue persists a new task; an empty Status is stored as queued.
	Enqueue(ctx context.Context, t *Task) error

	// Find retrieves a single task by id, or an errors.KindNotFound error.
	Find(ctx context.Context, id string) (*Task, error)

	// Cancel transitions the given task ids to cancelled. With force=false,
	// tasks already active are left untouched (only queued tasks are
	// affected); with force=true, active tasks are cancelled too and their
	// in-flight lease is abandoned at the worker's next lease check. Only
	// task rows change: a cancelled task's backlog entry, if any, stays in
	// the backlog store.
	Cancel(ctx context.Context, ids []string, force bool) error

	// Query returns tasks matching ids and/or filters. When includeResult
	// is false, Result is omitted to keep batch responses small.
	Query(ctx context.Context, ids []string, filters QueryFilters, includeResult bool) ([]*Task, error)

	// LeaseNext atomically claims at most one queued task whose Kind is in
	// kinds, transitioning it to active with lease_holder=workerID and
	// lease_deadline=now+leaseDuration. Selection order: highest priority
	// first, ties broken by earliest created_at. Returns (nil, nil) when
	// no eligible task exists. Rows a concurrent lease_next is already
	// inspecting must be skipped, never blocked on.
	LeaseNext(ctx context.Context, workerID string, kinds []Kind, now time.Time, leaseDuration time.Duration) (*Task, error)

	// ExtendLease pushes lease_deadline forward for a task still held by
	// workerID. Returns false (no error) if the lease was lost (reaped or
	// held by someone else).
	ExtendLease(ctx context.Context, id, workerID string, deadline time.Time) (bool, error)

	// Complete marks a task completed with the given result, only if it is
	// still held by workerID. Returns an errors.KindLostLease error
	// otherwise.
	Complete(ctx context.Context, id, workerID string, result json.RawMessage) error

	// Fail marks a task failed with errCode, only if still held by
	// workerID. If retry is true and retry_count < max_retries, the task
	// is instead requeued with retry_count+1 and next_retry_at computed by
	// the caller's backoff policy; terminal reports whether the task
	// actually landed in status=failed (false when it was requeued
	// instead), so the caller can gate a terminal webhook on the real
	// outcome rather than on its own retry-eligibility guess. Returns an
	// errors.KindLostLease error if the lease was lost.
	Fail(ctx context.Context, id, workerID string, errCode string, retry bool, nextRetryAt time.Time) (terminal bool, err error)

	// Requeue transitions an active task held by workerID back to queued
	// and releases its lease, without touching retry_count or recording
	// an error. nextEligibleAt, if non-nil, suppresses LeaseNext
	// eligibility until that instant — used to park a task that could not
	// acquire a tenant permit out of the scheduling rotation until the
	// backlog reaper explicitly promotes it with PromoteFromBacklog,
	// rather than having it immediately re-leased into the same permit
	// wall. Returns an errors.KindLostLease error if the lease was lost.
	Requeue(ctx context.Context, id, workerID string, nextEligibleAt *time.Time) error

	// PromoteFromBacklog clears next_retry_at on a still-queued task,
	// making it immediately eligible for LeaseNext again. promoted
	// reports whether a queued row was actually found and cleared; it is
	// not an error for the task to have moved on (e.g. aged out and been
	// cancelled) between the reaper's eligibility check and this call.
	PromoteFromBacklog(ctx context.Context, id string) (promoted bool, err error)

	// ReapExpiredLeases transitions every active task whose lease_deadline
	// <= now back to queued, without touching retry_count, and returns the
	// reaped task ids for diagnostics.
	ReapExpiredLeases(ctx context.Context, now time.Time) ([]LeaseReaped, error)

	// DueForRetry returns queued tasks whose next_retry_at has elapsed,
	// for the dispatcher's backoff-aware admission path.
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]*Task, error)
}
