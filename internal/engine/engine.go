// Package engine implements the fetch-engine router: a
// capability-scored selection over a small set of fetch engine variants,
// each guarded by its own circuit breaker. Grounded on
// internal/errors's circuit breaker Manager, generalized here to key
// breakers by engine name instead of by an arbitrary operation name.
package engine

import (
	"context"
	"time"
)

// Action is one interactive step an engine capable of JS execution can
// perform before capturing the result.
type Action struct {
	Type     string // "wait", "click", "scroll", "screenshot"
	Selector string
	MS       int
}

// Request is a fetch request routed through the engine selection
// algorithm.
type Request struct {
	URL               string
	Headers           map[string]string
	Timeout           time.Duration
	NeedsJS           bool
	NeedsScreenshot   bool
	NeedsAntiBot      bool
	Mobile            bool
	Actions           []Action
	Proxy             string
	SkipTLSVerify     bool
}

// Result is a successful fetch's output.
type Result struct {
	StatusCode int
	HTML       string
	Markdown   string
	Screenshot []byte
	Links      []string
}

// Engine is one fetch-engine variant.
type Engine interface {
	Name() string
	// SupportScore returns 0..100; 0 means the engine cannot satisfy req.
	SupportScore(req Request) int
	// Priority breaks score ties (configured, not computed).
	Priority() int
	// Cost breaks score+priority ties; lower is cheaper.
	Cost() int
	Fetch(ctx context.Context, req Request) (*Result, error)
}
