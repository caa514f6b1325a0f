package taskstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
)

// MemoryStore is an in-process task.Store used by unit tests and by
// dispatcher/worker tests that don't need a live Postgres instance. It
// implements the same atomic claim-and-CAS contract as PostgresStore
// under a single mutex.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*task.Task
}

// NewMemoryStore returns an empty in-memory task.Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*task.Task)}
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) Enqueue(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if cp.Status == "" {
		cp.Status = task.StatusQueued
	}
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, domainerrors.New(domainerrors.KindNotFound, "task not found", nil)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, ids []string, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, t := range s.tasks {
		if !want[t.ID] || t.Status.IsTerminal() {
			continue
		}
		if t.Status == task.StatusActive && !force {
			continue
		}
		t.Status = task.StatusCancelled
		now := time.Now()
		t.CompletedAt = &now
		t.LeaseHolder = nil
		t.LeaseDeadline = nil
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, ids []string, filters task.QueryFilters, includeResult bool) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := map[string]bool{}
	for _, id := range ids {
		idSet[id] = true
	}
	statusSet := map[task.Status]bool{}
	for _, st := range filters.Statuses {
		statusSet[st] = true
	}
	kindSet := map[task.Kind]bool{}
	for _, k := range filters.Kinds {
		kindSet[k] = true
	}

	var out []*task.Task
	for _, t := range s.tasks {
		if len(idSet) > 0 && !idSet[t.ID] {
			continue
		}
		if len(statusSet) > 0 && !statusSet[t.Status] {
			continue
		}
		if len(kindSet) > 0 && !kindSet[t.Kind] {
			continue
		}
		cp := *t
		if !includeResult {
			cp.Result = nil
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) LeaseNext(ctx context.Context, workerID string, kinds []task.Kind, now time.Time, leaseDuration time.Duration) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kindSet := map[task.Kind]bool{}
	for _, k := range kinds {
		kindSet[k] = true
	}

	var candidates []*task.Task
	for _, t := range s.tasks {
		if t.Status != task.StatusQueued || !kindSet[t.Kind] {
			continue
		}
		if t.NextRetryAt != nil && t.NextRetryAt.After(now) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	t := candidates[0]
	t.Status = task.StatusActive
	holder := workerID
	t.LeaseHolder = &holder
	deadline := now.Add(leaseDuration)
	t.LeaseDeadline = &deadline
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ExtendLease(ctx context.Context, id, workerID string, deadline time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusActive || t.LeaseHolder == nil || *t.LeaseHolder != workerID {
		return false, nil
	}
	t.LeaseDeadline = &deadline
	return true, nil
}

func (s *MemoryStore) Complete(ctx context.Context, id, workerID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusActive || t.LeaseHolder == nil || *t.LeaseHolder != workerID {
		return domainerrors.New(domainerrors.KindLostLease, "lease lost before complete", nil)
	}
	t.Status = task.StatusCompleted
	t.Result = result
	now := time.Now()
	t.CompletedAt = &now
	t.LeaseHolder = nil
	t.LeaseDeadline = nil
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, id, workerID string, errCode string, retry bool, nextRetryAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusActive || t.LeaseHolder == nil || *t.LeaseHolder != workerID {
		return false, domainerrors.New(domainerrors.KindLostLease, "lease lost before fail", nil)
	}
	t.Error = errCode
	t.LeaseHolder = nil
	t.LeaseDeadline = nil
	if retry && t.RetryCount < t.MaxRetries {
		t.Status = task.StatusQueued
		t.RetryCount++
		t.NextRetryAt = &nextRetryAt
		return false, nil
	}
	t.Status = task.StatusFailed
	now := time.Now()
	t.CompletedAt = &now
	return true, nil
}

func (s *MemoryStore) Requeue(ctx context.Context, id, workerID string, nextEligibleAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusActive || t.LeaseHolder == nil || *t.LeaseHolder != workerID {
		return domainerrors.New(domainerrors.KindLostLease, "lease lost before requeue", nil)
	}
	t.Status = task.StatusQueued
	t.LeaseHolder = nil
	t.LeaseDeadline = nil
	t.NextRetryAt = nextEligibleAt
	return nil
}

func (s *MemoryStore) PromoteFromBacklog(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status != task.StatusQueued {
		return false, nil
	}
	t.NextRetryAt = nil
	return true, nil
}

func (s *MemoryStore) ReapExpiredLeases(ctx context.Context, now time.Time) ([]task.LeaseReaped, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []task.LeaseReaped
	for _, t := range s.tasks {
		if t.Status == task.StatusActive && t.LeaseDeadline != nil && !t.LeaseDeadline.After(now) {
			t.Status = task.StatusQueued
			t.LeaseHolder = nil
			t.LeaseDeadline = nil
			reaped = append(reaped, task.LeaseReaped{TaskID: t.ID})
		}
	}
	return reaped, nil
}

func (s *MemoryStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*task.Task
	for _, t := range s.tasks {
		if t.Status == task.StatusQueued && t.NextRetryAt != nil && !t.NextRetryAt.After(now) {
			cp := *t
			out = append(out, &cp)
			if len(out) >= limit && limit > 0 {
				break
			}
		}
	}
	return out, nil
}

// ListByCrawl returns every task id owned by crawlID, ordered by
// creation time; it backs crawlstore.MemoryStore's ListChildren the same
// way crawlstore's postgres implementation reads the tasks table
// directly rather than duplicating a child index.
func (s *MemoryStore) ListByCrawl(ctx context.Context, crawlID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type idAt struct {
		id string
		at time.Time
	}
	var matched []idAt
	for _, t := range s.tasks {
		if t.CrawlID != nil && *t.CrawlID == crawlID {
			matched = append(matched, idAt{id: t.ID, at: t.CreatedAt})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].at.Before(matched[j].at) })
	out := make([]string, len(matched))
	for i, m := range matched {
		out[i] = m.id
	}
	return out, nil
}
