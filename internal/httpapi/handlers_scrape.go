package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/syncwait"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

// scrapeRequest is the POST /v1/scrape body.
type scrapeRequest struct {
	URL        string                       `json:"url" binding:"required"`
	Formats    []string                     `json:"formats"`
	Options    taskpayload.ScrapeOptions    `json:"options"`
	Actions    []taskpayload.ActionStep     `json:"actions"`
	WebhookURL string                       `json:"webhook_url"`
	SyncWaitMS int                          `json:"sync_wait_ms"`
}

func (s *Server) handleCreateScrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.New(domainerrors.KindInvalidInput, "malformed scrape request", err))
		return
	}

	principal := currentPrincipal(c)
	payload, err := json.Marshal(taskpayload.ScrapePayload{URL: req.URL, Formats: req.Formats, Options: req.Options, Actions: req.Actions})
	if err != nil {
		respondError(c, domainerrors.New(domainerrors.KindInternal, "encoding scrape payload", err))
		return
	}

	t := &task.Task{
		ID:         uuid.NewString(),
		Kind:       task.KindScrape,
		Tenant:     principal.Tenant,
		Status:     task.StatusQueued,
		MaxRetries: DefaultMaxRetries,
		Payload:    payload,
		WebhookURL: req.WebhookURL,
		CreatedAt:  time.Now(),
	}
	if err := s.Tasks.Enqueue(c.Request.Context(), t); err != nil {
		respondError(c, err)
		return
	}

	s.respondAfterSyncWait(c, t.ID, req.SyncWaitMS)
}

func (s *Server) handleGetScrape(c *gin.Context) {
	t, err := s.Tasks.Find(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, taskView(t), nil)
}

// respondAfterSyncWait optionally blocks on syncwait.Wait before
// responding, settling credits only when the task actually reached a
// terminal state within the bound.
func (s *Server) respondAfterSyncWait(c *gin.Context, taskID string, syncWaitMS int) {
	outcome, err := syncwait.Wait(c.Request.Context(), s.Tasks, taskID, syncWaitMS)
	if err != nil {
		respondError(c, err)
		return
	}

	if outcome.TimedOut || !outcome.Task.Status.IsTerminal() {
		respondSuccess(c, http.StatusOK, gin.H{"status": "processing", "task_id": taskID}, nil)
		return
	}

	respondTerminalTask(c, outcome.Task)
}

// respondTerminalTask writes the envelope for a task that has already
// reached a terminal state, settling credits on success.
func respondTerminalTask(c *gin.Context, t *task.Task) {
	credits := 1
	if t.Status == task.StatusCompleted {
		var data any = json.RawMessage(t.Result)
		if len(t.Result) == 0 {
			data = gin.H{"status": string(t.Status), "task_id": t.ID}
		}
		respondSuccess(c, http.StatusOK, data, &credits)
		return
	}

	c.JSON(http.StatusOK, Envelope{
		Success:     false,
		Error:       "task failed",
		ErrorCode:   upperSnake(t.Error),
		CreditsUsed: &credits,
	})
}

// taskView is the GET-by-id response shape: the task's full status
// without internal lease bookkeeping clients have no use for.
func taskView(t *task.Task) gin.H {
	return gin.H{
		"id":           t.ID,
		"kind":         t.Kind,
		"status":       t.Status,
		"retry_count":  t.RetryCount,
		"created_at":   t.CreatedAt,
		"completed_at": t.CompletedAt,
		"result":       json.RawMessage(t.Result),
		"error":        t.Error,
	}
}
