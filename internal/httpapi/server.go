package httpapi

import (
	crawl "github.com/crawlrs/crawlrs/internal/domain/crawl"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
	"github.com/crawlrs/crawlrs/internal/logging"
	"github.com/crawlrs/crawlrs/internal/ratelimit"
)

// DefaultMaxRetries is applied to every HTTP-enqueued task; retry
// policy is not yet exposed as a per-request override.
const DefaultMaxRetries = 3

// Server holds the dependencies every handler needs. It owns no
// lifecycle of its own — construction and shutdown are cmd/crawlrs-server's
// job.
type Server struct {
	Tasks    task.Store
	Crawls   crawl.Store
	Webhooks webhook.Store

	Auth    Authenticator
	Limiter *ratelimit.Limiter
	Logger  logging.Logger
}

// NewServer builds a Server from its required dependencies.
func NewServer(tasks task.Store, crawls crawl.Store, webhooks webhook.Store, auth Authenticator, limiter *ratelimit.Limiter, logger logging.Logger) *Server {
	return &Server{
		Tasks:    tasks,
		Crawls:   crawls,
		Webhooks: webhooks,
		Auth:     auth,
		Limiter:  limiter,
		Logger:   logger,
	}
}
