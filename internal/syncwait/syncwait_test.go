package syncwait

import (
	"context"
	"testing"
	"time"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	"github.com/crawlrs/crawlrs/internal/infra/taskstore"
)

func TestClampWaitMSAppliesDefaultAndMax(t *testing.T) {
	if got := ClampWaitMS(0); got != DefaultWaitMS {
		t.Fatalf("expected default, got %d", got)
	}
	if got := ClampWaitMS(-5); got != DefaultWaitMS {
		t.Fatalf("expected default for negative, got %d", got)
	}
	if got := ClampWaitMS(60000); got != MaxWaitMS {
		t.Fatalf("expected clamp to max, got %d", got)
	}
	if got := ClampWaitMS(1000); got != 1000 {
		t.Fatalf("expected passthrough, got %d", got)
	}
}

func TestWaitReturnsInlineOnQuickCompletion(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewMemoryStore()
	_ = store.Enqueue(ctx, &task.Task{ID: "t1", Kind: task.KindScrape, Tenant: "a", MaxRetries: 1, CreatedAt: time.Now()})
	leased, _ := store.LeaseNext(ctx, "w1", []task.Kind{task.KindScrape}, time.Now(), time.Minute)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = store.Complete(ctx, leased.ID, "w1", []byte(`{"ok":true}`))
	}()

	out, err := Wait(ctx, store, "t1", 2000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TimedOut {
		t.Fatalf("expected inline completion, got timeout")
	}
	if out.Task.Status != task.StatusCompleted {
		t.Fatalf("expected completed, got %s", out.Task.Status)
	}
}

func TestWaitTimesOutAndReturnsProcessingTask(t *testing.T) {
	ctx := context.Background()
	store := taskstore.NewMemoryStore()
	_ = store.Enqueue(ctx, &task.Task{ID: "t1", Kind: task.KindScrape, Tenant: "a", MaxRetries: 1, CreatedAt: time.Now()})
	_, _ = store.LeaseNext(ctx, "w1", []task.Kind{task.KindScrape}, time.Now(), time.Minute)

	out, err := Wait(ctx, store, "t1", 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.TimedOut {
		t.Fatalf("expected timeout")
	}
	if out.Task.Status != task.StatusActive {
		t.Fatalf("expected still active, got %s", out.Task.Status)
	}
}
