package crawlstore

import (
	"context"
	"sync"
	"time"

	crawl "github.com/crawlrs/crawlrs/internal/domain/crawl"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// ChildLister resolves the task ids owned by a crawl; satisfied by
// taskstore.MemoryStore so MemoryStore doesn't need its own duplicate
// child index, mirroring PostgresStore reading the tasks table directly.
type ChildLister interface {
	ListByCrawl(ctx context.Context, crawlID string) ([]string, error)
}

// MemoryStore is an in-process crawl.Store for tests and single-process
// deployments.
type MemoryStore struct {
	mu     sync.Mutex
	crawls map[string]*crawl.Crawl
	tasks  ChildLister
}

func NewMemoryStore(tasks ChildLister) *MemoryStore {
	return &MemoryStore{crawls: make(map[string]*crawl.Crawl), tasks: tasks}
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) Create(ctx context.Context, c *crawl.Crawl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.crawls[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*crawl.Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[id]
	if !ok {
		return nil, domainerrors.New(domainerrors.KindNotFound, "crawl not found", nil)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) IncrementCounters(ctx context.Context, id string, discovered, completed, failed, cancelled, inFlight, queued int) (*crawl.Crawl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[id]
	if !ok {
		return nil, domainerrors.New(domainerrors.KindNotFound, "crawl not found", nil)
	}
	c.Counters.Discovered += discovered
	c.Counters.Completed += completed
	c.Counters.Failed += failed
	c.Counters.Cancelled += cancelled
	c.Counters.InFlight += inFlight
	c.Counters.Queued += queued
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) TryComplete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[id]
	if !ok {
		return false, domainerrors.New(domainerrors.KindNotFound, "crawl not found", nil)
	}
	if c.Status != crawl.StatusProcessing || c.Counters.Queued != 0 || c.Counters.InFlight != 0 {
		return false, nil
	}
	c.Status = crawl.StatusCompleted
	now := time.Now()
	c.CompletedAt = &now
	return true, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.crawls[id]
	if !ok || c.Status != crawl.StatusProcessing {
		return nil
	}
	c.Status = crawl.StatusCancelled
	now := time.Now()
	c.CompletedAt = &now
	return nil
}

func (s *MemoryStore) Expire(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, c := range s.crawls {
		if c.Status == crawl.StatusProcessing && !c.ExpiresAt.After(now) {
			c.Status = crawl.StatusExpired
			c.CompletedAt = &now
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

func (s *MemoryStore) ListChildren(ctx context.Context, crawlID string, page, limit int) ([]string, int, error) {
	all, err := s.tasks.ListByCrawl(ctx, crawlID)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	start := (page - 1) * limit
	if start < 0 {
		start = 0
	}
	if start >= total {
		return nil, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}
