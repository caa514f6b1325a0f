package crawlexec

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	crawl "github.com/crawlrs/crawlrs/internal/domain/crawl"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/engine"
	"github.com/crawlrs/crawlrs/internal/infra/crawlstore"
	"github.com/crawlrs/crawlrs/internal/infra/taskstore"
	"github.com/crawlrs/crawlrs/internal/infra/webhookstore"
	"github.com/crawlrs/crawlrs/internal/security/ssrf"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

func setupCrawl(t *testing.T, result *engine.Result) (*CrawlExecutor, *crawlstore.MemoryStore, *taskstore.MemoryStore, *crawl.Crawl) {
	t.Helper()
	tasks := taskstore.NewMemoryStore()
	crawls := crawlstore.NewMemoryStore(tasks)
	webhooks := webhookstore.NewMemoryStore()
	router := newTestRouter(result, nil)
	checker := ssrf.NewChecker(publicResolver{})

	ex := NewCrawlExecutor(router, checker, crawls, tasks, webhooks, nil)
	// A short timeout makes a robots.txt fetch fail fast in a sandboxed
	// test environment; crawlfrontier.Frontier treats a fetch error as
	// permissive rather than a rejection, so this doesn't affect the
	// admission outcomes below.
	ex.RobotsClient = &http.Client{Timeout: time.Millisecond}

	seedTask := &task.Task{
		ID:         "seed-task-1",
		Kind:       task.KindCrawlSeed,
		Tenant:     "tenant-a",
		Status:     task.StatusQueued,
		MaxRetries: 3,
		WebhookURL: "https://hooks.example.com/crawl",
		CreatedAt:  time.Now(),
	}
	if err := tasks.Enqueue(context.Background(), seedTask); err != nil {
		t.Fatalf("enqueuing seed task: %v", err)
	}

	c := &crawl.Crawl{
		ID:      "crawl-1",
		Tenant:  "tenant-a",
		SeedURL: "https://example.com",
		Config: crawl.Config{
			MaxDepth: 2,
		},
		SeedTaskID: seedTask.ID,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(24 * time.Hour),
		Status:     crawl.StatusProcessing,
	}
	if err := crawls.Create(context.Background(), c); err != nil {
		t.Fatalf("creating crawl: %v", err)
	}
	// Account for the seed task itself sitting queued before execution.
	if _, err := crawls.IncrementCounters(context.Background(), c.ID, 1, 0, 0, 0, 0, 1); err != nil {
		t.Fatalf("seeding counters: %v", err)
	}
	return ex, crawls, tasks, c
}

func TestCrawlExecutorAdmitsLinksAndEnqueuesChildren(t *testing.T) {
	ex, crawls, tasks, c := setupCrawl(t, &engine.Result{
		StatusCode: 200,
		Markdown:   "# Example",
		Links:      []string{"/about", "https://example.com/contact"},
	})

	payload, _ := json.Marshal(taskpayload.CrawlFetchPayload{CrawlID: c.ID, URL: c.SeedURL, Depth: 0})
	seedTask, _ := tasks.Find(context.Background(), c.SeedTaskID)
	seedTask.Payload = payload

	if _, err := ex.Execute(context.Background(), seedTask); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := crawls.Find(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("finding crawl: %v", err)
	}
	if updated.Counters.Completed != 1 {
		t.Fatalf("expected 1 completed, got %+v", updated.Counters)
	}
	if updated.Counters.Discovered != 3 {
		t.Fatalf("expected seed + 2 discovered links, got %+v", updated.Counters)
	}
	if updated.Counters.Queued != 2 {
		t.Fatalf("expected 2 children queued, got %+v", updated.Counters)
	}
}

func TestCrawlExecutorFailsOnSSRFTarget(t *testing.T) {
	ex, crawls, tasks, c := setupCrawl(t, &engine.Result{StatusCode: 200})

	payload, _ := json.Marshal(taskpayload.CrawlFetchPayload{CrawlID: c.ID, URL: "http://169.254.169.254/latest/meta-data", Depth: 0})
	seedTask, _ := tasks.Find(context.Background(), c.SeedTaskID)
	seedTask.Payload = payload

	_, err := ex.Execute(context.Background(), seedTask)
	if domainerrors.KindOf(err) != domainerrors.KindSSRFDetected {
		t.Fatalf("expected SSRF error, got %v", err)
	}

	updated, _ := crawls.Find(context.Background(), c.ID)
	if updated.Counters.Failed != 1 {
		t.Fatalf("expected 1 failed after terminal SSRF error, got %+v", updated.Counters)
	}
}
