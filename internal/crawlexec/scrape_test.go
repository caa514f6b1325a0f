package crawlexec

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/engine"
	"github.com/crawlrs/crawlrs/internal/security/ssrf"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

type fakeEngine struct {
	name   string
	result *engine.Result
	err    error
}

func (e *fakeEngine) Name() string                       { return e.name }
func (e *fakeEngine) SupportScore(engine.Request) int     { return 80 }
func (e *fakeEngine) Priority() int                       { return 1 }
func (e *fakeEngine) Cost() int                           { return 1 }
func (e *fakeEngine) Fetch(context.Context, engine.Request) (*engine.Result, error) {
	return e.result, e.err
}

type publicResolver struct{}

func (publicResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

func newTestRouter(result *engine.Result, err error) *engine.Router {
	return engine.NewRouter([]engine.Engine{&fakeEngine{name: "reqwest", result: result, err: err}}, domainerrors.NewManager(domainerrors.DefaultCircuitBreakerConfig()))
}

func TestScrapeExecutorExecutesAndMapsResult(t *testing.T) {
	router := newTestRouter(&engine.Result{StatusCode: 200, Markdown: "# hi", Links: []string{"https://example.com/a"}}, nil)
	checker := ssrf.NewChecker(publicResolver{})
	ex := &ScrapeExecutor{Router: router, SSRF: checker}

	payload, _ := json.Marshal(taskpayload.ScrapePayload{URL: "https://example.com"})
	out, err := ex.Execute(context.Background(), &task.Task{Kind: task.KindScrape, Payload: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result taskpayload.ScrapeResult
	if uerr := json.Unmarshal(out, &result); uerr != nil {
		t.Fatalf("unmarshalling result: %v", uerr)
	}
	if result.StatusCode != 200 || result.Markdown != "# hi" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestScrapeExecutorRejectsSSRFTarget(t *testing.T) {
	router := newTestRouter(&engine.Result{StatusCode: 200}, nil)
	checker := ssrf.NewChecker(publicResolver{})
	ex := &ScrapeExecutor{Router: router, SSRF: checker}

	payload, _ := json.Marshal(taskpayload.ScrapePayload{URL: "http://127.0.0.1/admin"})
	_, err := ex.Execute(context.Background(), &task.Task{Kind: task.KindScrape, Payload: payload})
	if domainerrors.KindOf(err) != domainerrors.KindSSRFDetected {
		t.Fatalf("expected SSRF error, got %v", err)
	}
}
