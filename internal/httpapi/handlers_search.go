package httpapi

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/taskpayload"
)

// searchRequest is the POST /v1/search body.
type searchRequest struct {
	Query      string   `json:"query" binding:"required"`
	Engines    []string `json:"engines"`
	Limit      int      `json:"limit"`
	Lang       string   `json:"lang"`
	SyncWaitMS int      `json:"sync_wait_ms"`
}

func (s *Server) handleCreateSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.New(domainerrors.KindInvalidInput, "malformed search request", err))
		return
	}

	principal := currentPrincipal(c)
	payload, err := json.Marshal(taskpayload.SearchPayload{Query: req.Query, Engines: req.Engines, Limit: req.Limit, Lang: req.Lang})
	if err != nil {
		respondError(c, domainerrors.New(domainerrors.KindInternal, "encoding search payload", err))
		return
	}

	t := &task.Task{
		ID:         uuid.NewString(),
		Kind:       task.KindSearch,
		Tenant:     principal.Tenant,
		Status:     task.StatusQueued,
		MaxRetries: DefaultMaxRetries,
		Payload:    payload,
		CreatedAt:  time.Now(),
	}
	if err := s.Tasks.Enqueue(c.Request.Context(), t); err != nil {
		respondError(c, err)
		return
	}

	s.respondAfterSyncWait(c, t.ID, req.SyncWaitMS)
}
