// Package crawl defines the Crawl domain model and store port, mirroring the shape of internal/domain/task/store.go for a
// second aggregate owned by the same relational store.
package crawl

import (
	"context"
	"regexp"
	"time"
)

// Status is the lifecycle state of a crawl.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Config holds the per-crawl crawler options.
type Config struct {
	MaxDepth       int
	PageCap        int
	IncludePaths   []string
	ExcludePaths   []string
	IgnoreRobots   bool
	CrawlDelayMS   int
	MaxConcurrency int // requested cap on concurrent children; stored as given (no default) and not read by the crawl executor 
}

// CompiledFilters holds the Config's include/exclude path patterns
// compiled as regexes once, so the frontier doesn't recompile per URL.
type CompiledFilters struct {
	Include []*regexp.Regexp
	Exclude []*regexp.Regexp
}

// Counters tracks the crawl-conservation invariant: discovered =
// completed + failed + cancelled + in-flight + queued.
type Counters struct {
	Discovered int
	Completed  int
	Failed     int
	Cancelled  int
	InFlight   int
	Queued     int
}

// Crawl is the metadata record for one crawl invocation.
type Crawl struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`

	SeedURL string `json:"seed_url"`
	Config  Config `json:"config"`

	Counters Counters `json:"counters"`
	Status   Status   `json:"status"`

	SeedTaskID string `json:"seed_task_id"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ExpiresAt is the 24-hour budget deadline; a crawl
	// still processing past this instant flips to expired.
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the crawl persistence port.
type Store interface {
	EnsureSchema(ctx context.Context) error

	// Create persists a new crawl in status=processing.
	Create(ctx context.Context, c *Crawl) error

	// Find retrieves a crawl by id.
	Find(ctx context.Context, id string) (*Crawl, error)

	// IncrementCounters atomically bumps the named counters by delta and
	// returns the updated Crawl; used by the crawl executor as children
	// start, finish, or new URLs are discovered.
	IncrementCounters(ctx context.Context, id string, discovered, completed, failed, cancelled, inFlight, queued int) (*Crawl, error)

	// TryComplete flips status to completed iff the frontier is drained
	// and every spawned child is terminal (Queued == 0 && InFlight == 0),
	// returning whether the transition happened.
	TryComplete(ctx context.Context, id string) (bool, error)

	// Cancel marks the crawl cancelled; the caller is responsible for
	// cancelling non-terminal children via the task store in the same
	// logical operation.
	Cancel(ctx context.Context, id string) error

	// Expire marks crawls whose ExpiresAt has elapsed and are still
	// processing as expired, returning their ids.
	Expire(ctx context.Context, now time.Time) ([]string, error)

	// ListChildren returns paginated crawl-child task ids for the
	// GET /v1/crawl/{id}/results endpoint.
	ListChildren(ctx context.Context, crawlID string, page, limit int) ([]string, int, error)
}
