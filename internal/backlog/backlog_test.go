package backlog

import (
	"context"
	"testing"
	"time"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
	"github.com/crawlrs/crawlrs/internal/infra/taskstore"
)

type fakeReleaser struct{ released *bool }

func (f fakeReleaser) Release(ctx context.Context) { *f.released = true }

type fakeProber struct {
	allow bool
}

func (p *fakeProber) Acquire(ctx context.Context, tenantID string, limit int) (Releaser, bool, error) {
	if !p.allow {
		return nil, false, nil
	}
	released := false
	return fakeReleaser{released: &released}, true, nil
}

type fakeWebhookStore struct {
	appended []*webhook.Event
}

func (s *fakeWebhookStore) EnsureSchema(ctx context.Context) error { return nil }
func (s *fakeWebhookStore) Append(ctx context.Context, e *webhook.Event) error {
	s.appended = append(s.appended, e)
	return nil
}
func (s *fakeWebhookStore) DuePending(ctx context.Context, now time.Time, limit int) ([]*webhook.Event, error) {
	return nil, nil
}
func (s *fakeWebhookStore) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	return nil
}
func (s *fakeWebhookStore) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	return nil
}
func (s *fakeWebhookStore) MarkDead(ctx context.Context, id string) error { return nil }

func TestSweepPromotesEligibleEntry(t *testing.T) {
	ctx := context.Background()
	tasks := taskstore.NewMemoryStore()
	_ = tasks.Enqueue(ctx, &task.Task{ID: "t1", Kind: task.KindScrape, Tenant: "a", Status: task.StatusQueued, CreatedAt: time.Now()})

	bl := NewMemoryStore()
	_ = bl.Add(ctx, Entry{TaskID: "t1", Tenant: "a", Limit: 5, ExpiresAt: time.Now().Add(time.Hour)})

	r := NewReaper(bl, tasks, &fakeWebhookStore{}, &fakeProber{allow: true})
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, _ := bl.All(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected promoted entry removed from backlog, got %d remaining", len(entries))
	}
}

func TestSweepPromotionClearsParkedHoldAndAllowsRelease(t *testing.T) {
	ctx := context.Background()
	tasks := taskstore.NewMemoryStore()
	_ = tasks.Enqueue(ctx, &task.Task{ID: "t1", Kind: task.KindScrape, Tenant: "a", Status: task.StatusQueued, CreatedAt: time.Now()})

	leased, err := tasks.LeaseNext(ctx, "worker-1", []task.Kind{task.KindScrape}, time.Now(), time.Minute)
	if err != nil || leased == nil {
		t.Fatalf("expected a lease, got %v, err %v", leased, err)
	}

	// Mirrors what worker.BacklogAdapter.Park does: requeue the task but
	// hold it out of LeaseNext eligibility until the reaper promotes it.
	hold := time.Now().Add(time.Hour)
	if err := tasks.Requeue(ctx, "t1", "worker-1", &hold); err != nil {
		t.Fatalf("requeue: %v", err)
	}

	bl := NewMemoryStore()
	_ = bl.Add(ctx, Entry{TaskID: "t1", Tenant: "a", Limit: 5, ExpiresAt: hold})

	if got, _ := tasks.LeaseNext(ctx, "worker-2", []task.Kind{task.KindScrape}, time.Now(), time.Minute); got != nil {
		t.Fatalf("expected held task to stay ineligible for lease_next before promotion, got %v", got)
	}

	r := NewReaper(bl, tasks, &fakeWebhookStore{}, &fakeProber{allow: true})
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := tasks.LeaseNext(ctx, "worker-2", []task.Kind{task.KindScrape}, time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("lease_next after promotion: %v", err)
	}
	if got == nil || got.ID != "t1" {
		t.Fatalf("expected promoted task to become lease_next-eligible again, got %v", got)
	}
}

func TestSweepLeavesIneligibleEntry(t *testing.T) {
	ctx := context.Background()
	tasks := taskstore.NewMemoryStore()
	_ = tasks.Enqueue(ctx, &task.Task{ID: "t1", Kind: task.KindScrape, Tenant: "a", Status: task.StatusQueued, CreatedAt: time.Now()})

	bl := NewMemoryStore()
	_ = bl.Add(ctx, Entry{TaskID: "t1", Tenant: "a", Limit: 5, ExpiresAt: time.Now().Add(time.Hour)})

	r := NewReaper(bl, tasks, &fakeWebhookStore{}, &fakeProber{allow: false})
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, _ := bl.All(ctx)
	if len(entries) != 1 {
		t.Fatalf("expected entry to remain backlogged, got %d", len(entries))
	}
}

func TestSweepExpiresAgedOutEntryAndEmitsWebhook(t *testing.T) {
	ctx := context.Background()
	tasks := taskstore.NewMemoryStore()
	_ = tasks.Enqueue(ctx, &task.Task{
		ID: "t1", Kind: task.KindScrape, Tenant: "a", Status: task.StatusQueued,
		CreatedAt: time.Now(), WebhookURL: "https://example.com/hook",
	})

	bl := NewMemoryStore()
	_ = bl.Add(ctx, Entry{TaskID: "t1", Tenant: "a", Limit: 5, ExpiresAt: time.Now().Add(-time.Minute)})

	webhooks := &fakeWebhookStore{}
	r := NewReaper(bl, tasks, webhooks, &fakeProber{allow: false})
	if err := r.SweepOnce(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := tasks.Find(ctx, "t1")
	if got.Status != task.StatusCancelled {
		t.Fatalf("expected aged-out task cancelled, got %s", got.Status)
	}
	if len(webhooks.appended) != 1 {
		t.Fatalf("expected a terminal webhook event for the expired task, got %d", len(webhooks.appended))
	}

	entries, _ := bl.All(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected expired entry removed from backlog")
	}
}
