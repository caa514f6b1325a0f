package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	crawl "github.com/crawlrs/crawlrs/internal/domain/crawl"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

// crawlRequest is the POST /v1/crawl body.
type crawlRequest struct {
	URL            string   `json:"url" binding:"required"`
	MaxDepth       int      `json:"max_depth"`
	Limit          int      `json:"limit"`
	IncludePaths   []string `json:"include_paths"`
	ExcludePaths   []string `json:"exclude_paths"`
	IgnoreRobots   bool     `json:"ignore_robots"`
	CrawlDelayMS   int      `json:"crawl_delay_ms"`
	MaxConcurrency int      `json:"max_concurrency"`
	WebhookURL     string   `json:"webhook_url"`
}

// crawlTTL is the fixed budget deadline applied to every crawl;
// crawls still processing past this instant expire.
const crawlTTL = 24 * time.Hour

func (s *Server) handleCreateCrawl(c *gin.Context) {
	var req crawlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.New(domainerrors.KindInvalidInput, "malformed crawl request", err))
		return
	}

	principal := currentPrincipal(c)
	now := time.Now()

	seedTask := &task.Task{
		ID:         uuid.NewString(),
		Kind:       task.KindCrawlSeed,
		Tenant:     principal.Tenant,
		Status:     task.StatusQueued,
		MaxRetries: DefaultMaxRetries,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
	}

	cr := &crawl.Crawl{
		ID:      uuid.NewString(),
		Tenant:  principal.Tenant,
		SeedURL: req.URL,
		Config: crawl.Config{
			MaxDepth:       req.MaxDepth,
			PageCap:        req.Limit,
			IncludePaths:   req.IncludePaths,
			ExcludePaths:   req.ExcludePaths,
			IgnoreRobots:   req.IgnoreRobots,
			CrawlDelayMS:   req.CrawlDelayMS,
			MaxConcurrency: req.MaxConcurrency,
		},
		SeedTaskID: seedTask.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(crawlTTL),
		Status:     crawl.StatusProcessing,
	}

	payload, err := json.Marshal(taskpayload.CrawlFetchPayload{CrawlID: cr.ID, URL: cr.SeedURL, Depth: 0})
	if err != nil {
		respondError(c, domainerrors.New(domainerrors.KindInternal, "encoding crawl seed payload", err))
		return
	}
	seedTask.Payload = payload
	seedTask.CrawlID = &cr.ID

	if err := s.Crawls.Create(c.Request.Context(), cr); err != nil {
		respondError(c, err)
		return
	}
	if err := s.Tasks.Enqueue(c.Request.Context(), seedTask); err != nil {
		respondError(c, err)
		return
	}
	// The seed task itself counts as one discovered, queued unit until
	// CrawlExecutor picks it up.
	if _, err := s.Crawls.IncrementCounters(c.Request.Context(), cr.ID, 1, 0, 0, 0, 0, 1); err != nil {
		respondError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{"id": cr.ID, "status": string(cr.Status)}, nil)
}

func (s *Server) handleGetCrawl(c *gin.Context) {
	cr, err := s.Crawls.Find(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, crawlView(cr), nil)
}

func (s *Server) handleCrawlResults(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 1000 {
		limit = 50
	}

	ids, total, err := s.Crawls.ListChildren(c.Request.Context(), c.Param("id"), page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	results := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		t, err := s.Tasks.Find(c.Request.Context(), id)
		if err != nil {
			continue
		}
		results = append(results, taskView(t))
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"page":    page,
		"limit":   limit,
		"total":   total,
		"results": results,
	}, nil)
}

func (s *Server) handleCancelCrawl(c *gin.Context) {
	id := c.Param("id")
	if err := s.Crawls.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	ids, total, err := s.Crawls.ListChildren(c.Request.Context(), id, 1, maxCancelPageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(ids) > 0 {
		if err := s.Tasks.Cancel(c.Request.Context(), ids, false); err != nil {
			respondError(c, err)
			return
		}
	}

	respondSuccess(c, http.StatusOK, gin.H{"id": id, "status": "cancelled", "cancelled_children": total}, nil)
}

// maxCancelPageSize bounds the single-page child listing DELETE
// /v1/crawl/{id} cancels in one request; crawls spawning more children
// than this would need a follow-up cancel call.
const maxCancelPageSize = 10000

func crawlView(cr *crawl.Crawl) gin.H {
	return gin.H{
		"id":           cr.ID,
		"status":       string(cr.Status),
		"seed_url":     cr.SeedURL,
		"created_at":   cr.CreatedAt,
		"completed_at": cr.CompletedAt,
		"expires_at":   cr.ExpiresAt,
		"counters": gin.H{
			"discovered": cr.Counters.Discovered,
			"completed":  cr.Counters.Completed,
			"failed":     cr.Counters.Failed,
			"cancelled":  cr.Counters.Cancelled,
			"in_flight":  cr.Counters.InFlight,
			"queued":     cr.Counters.Queued,
		},
	}
}
