package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/crawlrs/crawlrs/internal/backlog"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
)

// BacklogAdapter adapts a backlog.Store into the Backlogger a Pool
// needs, the same narrow-interface-over-a-concrete-store shape
// tenant.AsPermitAcquirer uses for *tenant.Semaphore.
type BacklogAdapter struct {
	Store     backlog.Store
	TaskStore task.Store
}

// Park implements Backlogger. t arrives active with a lease still held
// by the worker that just failed to acquire a tenant permit for it;
// Park must hand that lease back before recording the backlog entry,
// or the task sits undriven until the lease expires minutes later
// instead of being promoted within the reaper's sweep interval.
// Requeue suppresses LeaseNext eligibility until the entry's age-out
// deadline so the task isn't immediately re-leased into the same
// permit wall — only the reaper's PromoteFromBacklog lifts that hold.
func (a BacklogAdapter) Park(ctx context.Context, t *task.Task, limit int) error {
	workerID := ""
	if t.LeaseHolder != nil {
		workerID = *t.LeaseHolder
	}
	now := time.Now()
	expiresAt := now.Add(backlog.DefaultAgeOut)
	if err := a.TaskStore.Requeue(ctx, t.ID, workerID, &expiresAt); err != nil {
		return err
	}
	return a.Store.Add(ctx, backlog.Entry{
		TaskID:     t.ID,
		Tenant:     t.Tenant,
		Limit:      limit,
		AdmittedAt: now,
		ExpiresAt:  expiresAt,
	})
}

// WebhookAdapter adapts a webhook.Store into the Webhooks port a Pool
// needs for terminal event delivery.
type WebhookAdapter struct {
	Store webhook.Store
}

// AppendTerminal implements Webhooks: it builds the outbox event shape
// from the terminal task transition and appends it as status=pending.
func (a WebhookAdapter) AppendTerminal(ctx context.Context, t *task.Task, eventType, errCode string, result json.RawMessage) error {
	payload, err := json.Marshal(terminalEventPayload{
		TaskID: t.ID,
		Kind:   string(t.Kind),
		Status: eventStatusFor(errCode),
		Error:  errCode,
		Result: result,
	})
	if err != nil {
		return err
	}

	return a.Store.Append(ctx, &webhook.Event{
		ID:          uuid.NewString(),
		Tenant:      t.Tenant,
		EventType:   eventType,
		ResourceID:  t.ID,
		Payload:     payload,
		TargetURL:   t.WebhookURL,
		Status:      webhook.StatusPending,
		MaxRetries:  webhook.DefaultMaxRetries,
		NextRetryAt: time.Now(),
		CreatedAt:   time.Now(),
	})
}

type terminalEventPayload struct {
	TaskID string          `json:"task_id"`
	Kind   string          `json:"kind"`
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func eventStatusFor(errCode string) string {
	if errCode == "" {
		return "completed"
	}
	return "failed"
}
