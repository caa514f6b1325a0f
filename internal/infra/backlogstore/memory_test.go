package backlogstore

import (
	"context"
	"testing"
	"time"

	"github.com/crawlrs/crawlrs/internal/backlog"
)

func TestMemoryStoreAddRemoveAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := backlog.Entry{TaskID: "t1", Tenant: "acme", Limit: 5, AdmittedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Add(ctx, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all, err := s.All(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one entry, got %d (err=%v)", len(all), err)
	}

	if err := s.Remove(ctx, "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	all, _ = s.All(ctx)
	if len(all) != 0 {
		t.Fatalf("expected entry removed, got %d", len(all))
	}
}
