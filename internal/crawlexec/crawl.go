package crawlexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	crawl "github.com/crawlrs/crawlrs/internal/domain/crawl"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/crawlfrontier"
	"github.com/crawlrs/crawlrs/internal/engine"
	"github.com/crawlrs/crawlrs/internal/logging"
	"github.com/crawlrs/crawlrs/internal/security/ssrf"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

// MaxRobotsWait bounds how long Execute will sleep waiting for an
// origin's crawl-delay to elapse before fetching; a remaining delay
// longer than this is not slept at all but returned as a retryable
// error, so the task is requeued rather than holding its lease blocked.
const MaxRobotsWait = 3 * time.Second

// CrawlExecutor runs task.KindCrawlSeed and task.KindCrawlChild tasks:
// it owns the in-memory per-crawl frontier, fetches the task's one URL,
// admits newly discovered links as further crawl-child tasks, updates
// the crawl's counters, and on drain emits the crawl's terminal webhook
// directly since that event spans every child task rather than this
// one task's own terminal transition.
type CrawlExecutor struct {
	Router       *engine.Router
	SSRF         *ssrf.Checker
	CrawlStore   crawl.Store
	TaskStore    task.Store
	WebhookStore webhook.Store
	RobotsClient *http.Client

	mu        sync.Mutex
	frontiers map[string]*crawlfrontier.Frontier
	logger    logging.Logger
}

// NewCrawlExecutor builds a CrawlExecutor. robotsClient defaults to
// http.DefaultClient if nil.
func NewCrawlExecutor(router *engine.Router, checker *ssrf.Checker, crawlStore crawl.Store, taskStore task.Store, webhookStore webhook.Store, robotsClient *http.Client) *CrawlExecutor {
	if robotsClient == nil {
		robotsClient = http.DefaultClient
	}
	return &CrawlExecutor{
		Router:       router,
		SSRF:         checker,
		CrawlStore:   crawlStore,
		TaskStore:    taskStore,
		WebhookStore: webhookStore,
		RobotsClient: robotsClient,
		frontiers:    make(map[string]*crawlfrontier.Frontier),
		logger:       logging.NewComponentLogger("crawlexec"),
	}
}

// Execute implements worker.Executor.
func (e *CrawlExecutor) Execute(ctx context.Context, t *task.Task) (json.RawMessage, error) {
	var payload taskpayload.CrawlFetchPayload
	if err := json.Unmarshal(t.Payload, &payload); err != nil {
		return nil, domainerrors.New(domainerrors.KindInvalidInput, "malformed crawl fetch payload", err)
	}

	frontier, c, err := e.frontierFor(ctx, payload.CrawlID)
	if err != nil {
		return nil, err
	}

	if _, ierr := e.CrawlStore.IncrementCounters(ctx, c.ID, 0, 0, 0, 0, 1, -1); ierr != nil {
		e.logger.Warn("incrementing in-flight counter for crawl %s: %v", c.ID, ierr)
	}

	result, fetchErr := e.fetchRespectingDelay(ctx, frontier, payload.URL, payload.ScrapeOptions)
	if fetchErr != nil {
		if !domainerrors.Retryable(fetchErr) {
			e.finishChild(ctx, c.ID, false)
		} else {
			// Task will be requeued by the worker pool's Fail(retry=true):
			// give the unit back to queued rather than leaving it stranded
			// out of both in_flight and queued.
			if _, ierr := e.CrawlStore.IncrementCounters(ctx, c.ID, 0, 0, 0, 0, -1, 1); ierr != nil {
				e.logger.Warn("reverting in-flight counter for crawl %s: %v", c.ID, ierr)
			}
		}
		return nil, fetchErr
	}

	admitted := e.admitLinks(ctx, frontier, c, result.Links, payload.Depth+1, payload.ScrapeOptions)
	e.finishChild(ctx, c.ID, true)
	if len(admitted) > 0 {
		if _, ierr := e.CrawlStore.IncrementCounters(ctx, c.ID, len(admitted), 0, 0, 0, 0, len(admitted)); ierr != nil {
			e.logger.Warn("incrementing discovered/queued counters for crawl %s: %v", c.ID, ierr)
		}
		for _, childURL := range admitted {
			if err := e.enqueueChild(ctx, c, childURL, payload.Depth+1, payload.ScrapeOptions); err != nil {
				e.logger.Error("enqueueing crawl child for %s: %v", childURL, err)
			}
		}
	}

	e.maybeComplete(ctx, c.ID)
	return json.Marshal(result)
}

// finishChild records one child task's terminal transition against the
// crawl's counters: in-flight decrements, and completed or failed
// increments depending on success.
func (e *CrawlExecutor) finishChild(ctx context.Context, crawlID string, success bool) {
	completed, failed := 0, 0
	if success {
		completed = 1
	} else {
		failed = 1
	}
	if _, err := e.CrawlStore.IncrementCounters(ctx, crawlID, 0, completed, failed, 0, -1, 0); err != nil {
		e.logger.Warn("updating terminal counters for crawl %s: %v", crawlID, err)
	}
}

// maybeComplete checks whether the crawl has drained and, if so, emits
// its terminal webhook by looking up the seed task's WebhookURL.
func (e *CrawlExecutor) maybeComplete(ctx context.Context, crawlID string) {
	done, err := e.CrawlStore.TryComplete(ctx, crawlID)
	if err != nil {
		e.logger.Error("checking crawl completion for %s: %v", crawlID, err)
		return
	}
	if !done {
		return
	}

	e.mu.Lock()
	delete(e.frontiers, crawlID)
	e.mu.Unlock()

	c, err := e.CrawlStore.Find(ctx, crawlID)
	if err != nil {
		e.logger.Error("looking up completed crawl %s: %v", crawlID, err)
		return
	}
	seed, err := e.TaskStore.Find(ctx, c.SeedTaskID)
	if err != nil {
		e.logger.Error("looking up seed task for crawl %s: %v", crawlID, err)
		return
	}
	if seed.WebhookURL == "" {
		return
	}

	eventType := webhook.EventCrawlCompleted
	if c.Counters.Failed > 0 && c.Counters.Completed == 0 {
		eventType = webhook.EventCrawlFailed
	}
	payload, err := json.Marshal(c)
	if err != nil {
		e.logger.Error("marshalling crawl completion payload for %s: %v", crawlID, err)
		return
	}
	event := &webhook.Event{
		ID:          uuid.NewString(),
		Tenant:      c.Tenant,
		EventType:   eventType,
		ResourceID:  c.ID,
		Payload:     payload,
		TargetURL:   seed.WebhookURL,
		Status:      webhook.StatusPending,
		MaxRetries:  webhook.DefaultMaxRetries,
		NextRetryAt: time.Now(),
		CreatedAt:   time.Now(),
	}
	if err := e.WebhookStore.Append(ctx, event); err != nil {
		e.logger.Error("appending crawl completion webhook for %s: %v", crawlID, err)
	}
}

// admitLinks runs every discovered link through the frontier's
// admission gate, returning the subset admitted as new crawl-child
// candidates.
func (e *CrawlExecutor) admitLinks(ctx context.Context, frontier *crawlfrontier.Frontier, c *crawl.Crawl, links []string, depth int, _ taskpayload.ScrapeOptions) []string {
	var admitted []string
	for _, link := range links {
		resolved := resolveLink(c.SeedURL, link)
		if resolved == "" {
			continue
		}
		normalized, ok, err := frontier.Admit(ctx, resolved, depth)
		if err != nil {
			e.logger.Warn("admitting %s: %v", resolved, err)
			continue
		}
		if ok {
			admitted = append(admitted, normalized)
		}
	}
	return admitted
}

func resolveLink(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

// enqueueChild persists a new crawl-child task for childURL, inheriting
// the parent crawl's tenant and priority zero.
func (e *CrawlExecutor) enqueueChild(ctx context.Context, c *crawl.Crawl, childURL string, depth int, opts taskpayload.ScrapeOptions) error {
	payload, err := json.Marshal(taskpayload.CrawlFetchPayload{
		CrawlID:       c.ID,
		URL:           childURL,
		Depth:         depth,
		ScrapeOptions: opts,
	})
	if err != nil {
		return err
	}
	crawlID := c.ID
	return e.TaskStore.Enqueue(ctx, &task.Task{
		ID:         uuid.NewString(),
		Kind:       task.KindCrawlChild,
		Tenant:     c.Tenant,
		Priority:   0,
		Status:     task.StatusQueued,
		MaxRetries: 3,
		Payload:    payload,
		ParentID:   &c.SeedTaskID,
		CrawlID:    &crawlID,
		CreatedAt:  time.Now(),
	})
}

// fetchRespectingDelay waits, if needed and within MaxRobotsWait, for
// the target origin's crawl-delay to elapse, checks SSRF, fetches, and
// records the fetch time for the next caller's delay computation.
func (e *CrawlExecutor) fetchRespectingDelay(ctx context.Context, frontier *crawlfrontier.Frontier, rawURL string, opts taskpayload.ScrapeOptions) (*taskpayload.ScrapeResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindInvalidInput, "invalid crawl target URL", err)
	}
	origin := u.Scheme + "://" + u.Host

	if wait := time.Until(frontier.ReadyAt(origin)); wait > 0 {
		if wait > MaxRobotsWait {
			return nil, domainerrors.New(domainerrors.KindEngineTransient, "origin crawl-delay not yet elapsed", nil)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result, err := fetchOne(ctx, e.Router, e.SSRF, rawURL, opts, nil)
	frontier.MarkFetched(origin, time.Now())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// frontierFor returns the cached frontier for crawlID, lazily building
// it from the persisted crawl record on first use.
func (e *CrawlExecutor) frontierFor(ctx context.Context, crawlID string) (*crawlfrontier.Frontier, *crawl.Crawl, error) {
	e.mu.Lock()
	f, ok := e.frontiers[crawlID]
	e.mu.Unlock()

	c, err := e.CrawlStore.Find(ctx, crawlID)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		return f, c, nil
	}

	filters, err := crawlfrontier.CompileFilters(c.Config)
	if err != nil {
		return nil, nil, err
	}
	f = crawlfrontier.New(c, filters, newHTTPRobotsFetcher(e.RobotsClient))

	e.mu.Lock()
	if existing, ok := e.frontiers[crawlID]; ok {
		f = existing
	} else {
		e.frontiers[crawlID] = f
	}
	e.mu.Unlock()

	return f, c, nil
}
