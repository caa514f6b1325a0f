package engine

import (
	"context"
	"testing"
	"time"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

type stubEngine struct {
	name     string
	score    int
	priority int
	cost     int
	fetchFn  func(ctx context.Context, req Request) (*Result, error)
	calls    int
}

func (e *stubEngine) Name() string                    { return e.name }
func (e *stubEngine) Priority() int                   { return e.priority }
func (e *stubEngine) Cost() int                        { return e.cost }
func (e *stubEngine) SupportScore(req Request) int     { return e.score }
func (e *stubEngine) Fetch(ctx context.Context, req Request) (*Result, error) {
	e.calls++
	return e.fetchFn(ctx, req)
}

func testBreakerManager() *domainerrors.Manager {
	return domainerrors.NewManager(domainerrors.CircuitBreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		OpenDuration:     30 * time.Second,
	})
}

func TestRouterPicksHighestScoringEngine(t *testing.T) {
	low := &stubEngine{name: "low", score: 10, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		return &Result{StatusCode: 200}, nil
	}}
	high := &stubEngine{name: "high", score: 90, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		return &Result{StatusCode: 200}, nil
	}}
	router := NewRouter([]Engine{low, high}, testBreakerManager())

	_, err := router.Fetch(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if high.calls != 1 || low.calls != 0 {
		t.Fatalf("expected only the higher-scored engine to be tried, got high=%d low=%d", high.calls, low.calls)
	}
}

func TestRouterFallsThroughOnTransientFailure(t *testing.T) {
	failing := &stubEngine{name: "failing", score: 90, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		return nil, domainerrors.New(domainerrors.KindEngineTransient, "503", nil)
	}}
	healthy := &stubEngine{name: "healthy", score: 50, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		return &Result{StatusCode: 200}, nil
	}}
	router := NewRouter([]Engine{failing, healthy}, testBreakerManager())

	res, err := router.Fetch(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("expected fallback engine's result")
	}
	if healthy.calls != 1 {
		t.Fatalf("expected fallback engine to be tried once, got %d", healthy.calls)
	}
}

func TestRouterStopsImmediatelyOnTerminalFailure(t *testing.T) {
	terminal := &stubEngine{name: "terminal", score: 90, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		return nil, domainerrors.New(domainerrors.KindEngineTerminal, "404", nil)
	}}
	neverCalled := &stubEngine{name: "never", score: 50, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		return &Result{StatusCode: 200}, nil
	}}
	router := NewRouter([]Engine{terminal, neverCalled}, testBreakerManager())

	_, err := router.Fetch(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected terminal error to propagate")
	}
	if neverCalled.calls != 0 {
		t.Fatalf("expected router to stop on terminal failure, but it tried the next engine")
	}
}

func TestRouterDropsZeroScoreEngines(t *testing.T) {
	incapable := &stubEngine{name: "incapable", score: 0, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		t.Fatalf("zero-score engine must never be called")
		return nil, nil
	}}
	capable := &stubEngine{name: "capable", score: 10, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		return &Result{StatusCode: 200}, nil
	}}
	router := NewRouter([]Engine{incapable, capable}, testBreakerManager())

	_, err := router.Fetch(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRouterSkipsEngineWithOpenBreaker(t *testing.T) {
	breakerConfig := domainerrors.CircuitBreakerConfig{FailureThreshold: 1, FailureWindow: time.Minute, OpenDuration: time.Minute}
	openBreakers := domainerrors.NewManager(breakerConfig)
	// Trip the breaker for "flaky" before routing.
	cb := openBreakers.Get("flaky")
	_ = cb.Execute(context.Background(), func(ctx context.Context) error {
		return domainerrors.New(domainerrors.KindEngineTransient, "fail", nil)
	})

	flaky := &stubEngine{name: "flaky", score: 90, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		t.Fatalf("breaker-open engine must never be called")
		return nil, nil
	}}
	healthy := &stubEngine{name: "healthy", score: 50, fetchFn: func(ctx context.Context, r Request) (*Result, error) {
		return &Result{StatusCode: 200}, nil
	}}
	router := NewRouter([]Engine{flaky, healthy}, openBreakers)

	_, err := router.Fetch(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
