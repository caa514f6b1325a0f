// Package webhookstore provides postgres-backed and in-memory
// implementations of webhook.Store, following the same structural split
// as internal/infra/taskstore.
package webhookstore

import (
	"context"
	"sort"
	"sync"
	"time"

	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
)

// MemoryStore is an in-process webhook.Store for tests and single-process
// deployments.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*webhook.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*webhook.Event)}
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) Append(ctx context.Context, e *webhook.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	if cp.Status == "" {
		cp.Status = webhook.StatusPending
	}
	if cp.MaxRetries == 0 {
		cp.MaxRetries = webhook.DefaultMaxRetries
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.NextRetryAt.IsZero() {
		cp.NextRetryAt = cp.CreatedAt
	}
	s.events[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) DuePending(ctx context.Context, now time.Time, limit int) ([]*webhook.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*webhook.Event
	for _, e := range s.events {
		if e.Status == webhook.StatusPending && !e.NextRetryAt.After(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil
	}
	e.Status = webhook.StatusDelivered
	e.DeliveredAt = &deliveredAt
	return nil
}

func (s *MemoryStore) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil
	}
	if retryCount > e.MaxRetries {
		e.Status = webhook.StatusDead
		return nil
	}
	e.RetryCount = retryCount
	e.NextRetryAt = nextRetryAt
	e.Status = webhook.StatusPending
	return nil
}

func (s *MemoryStore) MarkDead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.events[id]; ok {
		e.Status = webhook.StatusDead
	}
	return nil
}
