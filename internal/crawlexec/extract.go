package crawlexec

import (
	"context"
	"encoding/json"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/extract"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

// ExtractExecutor runs task.KindExtract tasks through the LLM
// extractor.
type ExtractExecutor struct {
	Extractor *extract.Extractor
}

// Execute implements worker.Executor.
func (e *ExtractExecutor) Execute(ctx context.Context, t *task.Task) (json.RawMessage, error) {
	var payload taskpayload.ExtractPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return nil, domainerrors.New(domainerrors.KindInvalidInput, "malformed extract payload", err)
	}

	return e.Extractor.Extract(ctx, extract.Request{
		Markdown: payload.Markdown,
		Schema:   payload.Schema,
		Prompt:   payload.Prompt,
	})
}
