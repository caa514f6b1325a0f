// Package crawlexec adapts the domain engines — the fetch-engine
// router, the search aggregator, the LLM extractor, and the crawl
// frontier — into worker.Executor implementations, one per task.Kind.
// This is the only layer that knows both the wire payload shapes in
// internal/taskpayload and the native request/response types each
// domain package expects.
package crawlexec

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/engine"
	"github.com/crawlrs/crawlrs/internal/security/ssrf"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

// DefaultFetchTimeout bounds a single engine Fetch call when the
// payload's options don't specify one.
const DefaultFetchTimeout = 30 * time.Second

// ScrapeExecutor runs task.KindScrape tasks: SSRF-check the target,
// route the fetch through the engine router, and return the result in
// taskpayload.ScrapeResult shape.
type ScrapeExecutor struct {
	Router *engine.Router
	SSRF   *ssrf.Checker
}

// Execute implements worker.Executor.
func (e *ScrapeExecutor) Execute(ctx context.Context, t *task.Task) (json.RawMessage, error) {
	var payload taskpayload.ScrapePayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return nil, domainerrors.New(domainerrors.KindInvalidInput, "malformed scrape payload", err)
	}

	result, err := fetchOne(ctx, e.Router, e.SSRF, payload.URL, payload.Options, payload.Actions)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// fetchOne is the shared SSRF-check-then-route-fetch path used by both
// ScrapeExecutor and CrawlExecutor, since a crawl-child fetch is a
// scrape under the hood.
func fetchOne(ctx context.Context, router *engine.Router, checker *ssrf.Checker, rawURL string, opts taskpayload.ScrapeOptions, actions []taskpayload.ActionStep) (*taskpayload.ScrapeResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindInvalidInput, "invalid target URL", err)
	}
	if err := checker.Check(ctx, u.Hostname()); err != nil {
		return nil, err
	}

	timeout := DefaultFetchTimeout
	if opts.TimeoutMS > 0 {
		timeout = time.Duration(opts.TimeoutMS) * time.Millisecond
	}

	req := engine.Request{
		URL:           rawURL,
		Headers:       opts.Headers,
		Timeout:       timeout,
		NeedsJS:       opts.NeedsJS,
		NeedsAntiBot:  opts.NeedsAntiBot,
		Mobile:        opts.Mobile,
		Proxy:         opts.Proxy,
		SkipTLSVerify: opts.SkipTLSVerification,
	}
	if opts.Screenshot != nil {
		req.NeedsScreenshot = true
	}
	for _, a := range actions {
		req.Actions = append(req.Actions, engine.Action{Type: a.Type, Selector: a.Selector, MS: a.MS})
	}

	result, err := router.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	return &taskpayload.ScrapeResult{
		StatusCode: result.StatusCode,
		Markdown:   result.Markdown,
		HTML:       result.HTML,
		Screenshot: result.Screenshot,
		Links:      result.Links,
	}, nil
}
