// Package backlogstore provides postgres-backed and in-memory
// implementations of backlog.Store, following the same structural split
// as internal/infra/taskstore.
package backlogstore

import (
	"context"
	"sync"

	"github.com/crawlrs/crawlrs/internal/backlog"
)

// MemoryStore is an in-process backlog.Store for tests and
// single-process deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]backlog.Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]backlog.Entry)}
}

func (s *MemoryStore) Add(ctx context.Context, e backlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.TaskID] = e
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, taskID)
	return nil
}

func (s *MemoryStore) All(ctx context.Context) ([]backlog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backlog.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}
