package crawlexec

import (
	"context"
	"encoding/json"
	"testing"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/search"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

func TestSearchExecutorAggregatesHits(t *testing.T) {
	engines := []search.Engine{
		{Name: "primary", Score: 10, Search: func(ctx context.Context, q search.Query) ([]search.Hit, error) {
			return []search.Hit{{URL: "https://example.com", Title: "Example", Snippet: "hi"}}, nil
		}},
	}
	agg := search.New(engines, domainerrors.NewManager(domainerrors.DefaultCircuitBreakerConfig()), nil, 1)
	ex := &SearchExecutor{Aggregator: agg}

	payload, _ := json.Marshal(taskpayload.SearchPayload{Query: "golang", Limit: 10})
	out, err := ex.Execute(context.Background(), &task.Task{Kind: task.KindSearch, Payload: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result taskpayload.SearchResult
	if uerr := json.Unmarshal(out, &result); uerr != nil {
		t.Fatalf("unmarshalling result: %v", uerr)
	}
	if len(result.Hits) != 1 || result.Hits[0].URL != "https://example.com" {
		t.Fatalf("unexpected hits: %+v", result.Hits)
	}
}
