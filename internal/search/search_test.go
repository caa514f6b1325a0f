package search

import (
	"context"
	"errors"
	"testing"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

func testBreakers() *domainerrors.Manager {
	return domainerrors.NewManager(domainerrors.DefaultCircuitBreakerConfig())
}

func TestSearchMergesPreservingHighestScoredEngineOrder(t *testing.T) {
	engines := []Engine{
		{Name: "low", Score: 10, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return []Hit{{URL: "https://b.example/", Title: "B"}}, nil
		}},
		{Name: "high", Score: 90, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return []Hit{{URL: "https://a.example/", Title: "A"}}, nil
		}},
	}
	agg := New(engines, testBreakers(), nil, 1)
	hits, cached, err := agg.Search(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached {
		t.Fatalf("expected cache miss on first call")
	}
	if len(hits) != 2 || hits[0].URL != "https://a.example/" {
		t.Fatalf("expected highest-scored engine's hit first, got %+v", hits)
	}
}

func TestSearchDedupsByNormalizedURL(t *testing.T) {
	engines := []Engine{
		{Name: "e1", Score: 50, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return []Hit{{URL: "https://Example.com/page/", Title: "One"}}, nil
		}},
		{Name: "e2", Score: 10, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return []Hit{{URL: "https://example.com/page", Title: "One Duplicate"}}, nil
		}},
	}
	agg := New(engines, testBreakers(), nil, 1)
	hits, _, err := agg.Search(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected dedup to one hit, got %d: %+v", len(hits), hits)
	}
}

func TestSearchDedupsByTitleSimilarity(t *testing.T) {
	engines := []Engine{
		{Name: "e1", Score: 50, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return []Hit{{URL: "https://a.example/", Title: "Golang Concurrency Patterns"}}, nil
		}},
		{Name: "e2", Score: 10, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return []Hit{{URL: "https://b.example/", Title: "Golang Concurrency Pattern"}}, nil
		}},
	}
	agg := New(engines, testBreakers(), nil, 1)
	hits, _, err := agg.Search(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected near-identical titles deduped, got %d: %+v", len(hits), hits)
	}
}

func TestSearchFailsWithInsufficientEngines(t *testing.T) {
	engines := []Engine{
		{Name: "e1", Score: 50, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return nil, errors.New("boom")
		}},
	}
	agg := New(engines, testBreakers(), nil, 1)
	_, _, err := agg.Search(context.Background(), Query{Text: "q"})
	if domainerrors.KindOf(err) != domainerrors.KindAllEnginesFailed {
		t.Fatalf("expected all-engines-failed kind, got %v", err)
	}
}

func TestSearchSucceedsWhenEnoughEnginesSucceed(t *testing.T) {
	engines := []Engine{
		{Name: "e1", Score: 50, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return nil, errors.New("boom")
		}},
		{Name: "e2", Score: 10, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			return []Hit{{URL: "https://a.example/", Title: "A"}}, nil
		}},
	}
	agg := New(engines, testBreakers(), nil, 1)
	hits, _, err := agg.Search(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit from the succeeding engine, got %+v", hits)
	}
}

func TestSearchHitsCacheOnSecondCall(t *testing.T) {
	cache, err := NewLRUCache(16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := 0
	engines := []Engine{
		{Name: "e1", Score: 50, Search: func(ctx context.Context, q Query) ([]Hit, error) {
			calls++
			return []Hit{{URL: "https://a.example/", Title: "A"}}, nil
		}},
	}
	agg := New(engines, testBreakers(), cache, 1)
	ctx := context.Background()
	q := Query{Text: "q"}

	_, cached1, _ := agg.Search(ctx, q)
	_, cached2, _ := agg.Search(ctx, q)
	if cached1 {
		t.Fatalf("expected first call to miss cache")
	}
	if !cached2 {
		t.Fatalf("expected second call to hit cache")
	}
	if calls != 1 {
		t.Fatalf("expected engine called exactly once, got %d", calls)
	}
}

func TestCacheKeyStableAcrossEngineOrder(t *testing.T) {
	a := CacheKey(Query{Text: "q", Engines: []string{"b", "a"}})
	b := CacheKey(Query{Text: "q", Engines: []string{"a", "b"}})
	if a != b {
		t.Fatalf("expected engine-list order not to affect cache key")
	}
}
