package crawlexec

import (
	"context"
	"encoding/json"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/search"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

// SearchExecutor runs task.KindSearch tasks through the search
// aggregator.
type SearchExecutor struct {
	Aggregator *search.Aggregator
}

// Execute implements worker.Executor.
func (e *SearchExecutor) Execute(ctx context.Context, t *task.Task) (json.RawMessage, error) {
	var payload taskpayload.SearchPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return nil, domainerrors.New(domainerrors.KindInvalidInput, "malformed search payload", err)
	}

	hits, cached, err := e.Aggregator.Search(ctx, search.Query{
		Text:     payload.Query,
		Language: payload.Lang,
		Limit:    payload.Limit,
		Engines:  payload.Engines,
	})
	if err != nil {
		return nil, err
	}

	out := taskpayload.SearchResult{Cached: cached}
	for _, h := range hits {
		out.Hits = append(out.Hits, taskpayload.SearchHit{URL: h.URL, Title: h.Title, Snippet: h.Snippet})
	}
	return json.Marshal(out)
}
