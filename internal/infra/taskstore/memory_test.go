package taskstore

import (
	"context"
	"sync"
	"testing"
	"time"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
)

func seedTask(id string, priority int, createdAt time.Time) *task.Task {
	return &task.Task{
		ID:         id,
		Kind:       task.KindScrape,
		Tenant:     "tenant-a",
		Priority:   priority,
		Status:     task.StatusQueued,
		MaxRetries: 3,
		CreatedAt:  createdAt,
	}
}

func TestLeaseNextOrdersByPriorityThenCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	_ = s.Enqueue(ctx, seedTask("low-older", 1, base))
	_ = s.Enqueue(ctx, seedTask("high", 5, base.Add(time.Second)))
	_ = s.Enqueue(ctx, seedTask("low-newer", 1, base.Add(2*time.Second)))

	got, err := s.LeaseNext(ctx, "worker-1", []task.Kind{task.KindScrape}, base.Add(3*time.Second), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "high" {
		t.Fatalf("expected highest-priority task leased first, got %s", got.ID)
	}

	got2, _ := s.LeaseNext(ctx, "worker-1", []task.Kind{task.KindScrape}, base.Add(3*time.Second), time.Minute)
	if got2.ID != "low-older" {
		t.Fatalf("expected earliest-created tied-priority task next, got %s", got2.ID)
	}
}

func TestLeaseNextMutualExclusionUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Enqueue(ctx, seedTask("only", 0, time.Now()))

	var wg sync.WaitGroup
	wins := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, _ := s.LeaseNext(ctx, "worker", []task.Kind{task.KindScrape}, time.Now(), time.Minute)
			if got != nil {
				wins <- got.ID
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner across concurrent lease_next calls, got %d", count)
	}
}

func TestCompleteFailsWithLostLeaseAfterReap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	_ = s.Enqueue(ctx, seedTask("t1", 0, now))

	leased, _ := s.LeaseNext(ctx, "worker-1", []task.Kind{task.KindScrape}, now, time.Minute)
	if leased == nil {
		t.Fatalf("expected a lease")
	}

	reaped, err := s.ReapExpiredLeases(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reaped) != 1 || reaped[0].TaskID != "t1" {
		t.Fatalf("expected t1 to be reaped, got %+v", reaped)
	}

	again, err := s.Find(ctx, "t1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if again.Status != task.StatusQueued {
		t.Fatalf("expected reaped task back to queued, got %s", again.Status)
	}
	if again.RetryCount != 0 {
		t.Fatalf("reaping must not bump retry_count (spec: worker fault, not task fault), got %d", again.RetryCount)
	}

	err = s.Complete(ctx, "t1", "worker-1", nil)
	if err == nil {
		t.Fatalf("expected lost-lease error completing a reaped task")
	}
}

func TestFailWithRetryRequeuesBelowMaxRetries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	tk := seedTask("t1", 0, now)
	tk.MaxRetries = 2
	_ = s.Enqueue(ctx, tk)

	leased, _ := s.LeaseNext(ctx, "worker-1", []task.Kind{task.KindScrape}, now, time.Minute)
	terminal, err := s.Fail(ctx, leased.ID, "worker-1", "engine-transient", true, now.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if terminal {
		t.Fatalf("expected non-terminal requeue, got terminal=true")
	}

	got, _ := s.Find(ctx, "t1")
	if got.Status != task.StatusQueued {
		t.Fatalf("expected requeue, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", got.RetryCount)
	}
}

func TestFailExceedingMaxRetriesTerminatesFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	tk := seedTask("t1", 0, now)
	tk.MaxRetries = 0
	_ = s.Enqueue(ctx, tk)

	leased, _ := s.LeaseNext(ctx, "worker-1", []task.Kind{task.KindScrape}, now, time.Minute)
	terminal, err := s.Fail(ctx, leased.ID, "worker-1", "engine-transient", true, now.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !terminal {
		t.Fatalf("expected terminal=true once max_retries exhausted")
	}

	got, _ := s.Find(ctx, "t1")
	if got.Status != task.StatusFailed {
		t.Fatalf("expected terminal failed once max_retries exhausted, got %s", got.Status)
	}
}

func TestCancelLeavesActiveTasksAloneWithoutForce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	_ = s.Enqueue(ctx, seedTask("t1", 0, now))
	_, _ = s.LeaseNext(ctx, "worker-1", []task.Kind{task.KindScrape}, now, time.Minute)

	_ = s.Cancel(ctx, []string{"t1"}, false)
	got, _ := s.Find(ctx, "t1")
	if got.Status != task.StatusActive {
		t.Fatalf("expected active task untouched by non-force cancel, got %s", got.Status)
	}

	_ = s.Cancel(ctx, []string{"t1"}, true)
	got, _ = s.Find(ctx, "t1")
	if got.Status != task.StatusCancelled {
		t.Fatalf("expected force cancel to terminate active task, got %s", got.Status)
	}
}
