package dispatch

import (
	"context"
	"testing"
	"time"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	"github.com/crawlrs/crawlrs/internal/infra/taskstore"
)

func TestReapOnceRequeuesExpiredLeases(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewMemoryStore()
	now := time.Now()
	_ = store.Enqueue(ctx, &task.Task{ID: "t1", Kind: task.KindScrape, Tenant: "a", MaxRetries: 3, CreatedAt: now})

	leased, err := store.LeaseNext(ctx, "worker-1", []task.Kind{task.KindScrape}, now, time.Millisecond)
	if err != nil || leased == nil {
		t.Fatalf("expected lease, got %v %v", leased, err)
	}

	d := New(store)
	d.reapOnce(ctx)

	tsk, _ := store.Find(ctx, "t1")
	if tsk.Status != task.StatusQueued {
		t.Fatalf("expected expired lease requeued, got status=%s", tsk.Status)
	}
}

func TestRetryOnceReportsDueTasksWithoutError(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewMemoryStore()
	d := New(store)
	// Empty store: should not error even with nothing due.
	d.retryOnce(ctx)
}
