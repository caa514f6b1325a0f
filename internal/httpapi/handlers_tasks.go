package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// taskQueryRequest is the POST /v2/tasks/query body.
type taskQueryRequest struct {
	TaskIDs       []string `json:"task_ids"`
	Statuses      []string `json:"statuses"`
	Kinds         []string `json:"kinds"`
	IncludeResult bool     `json:"include_result"`
}

func (s *Server) handleQueryTasks(c *gin.Context) {
	var req taskQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.New(domainerrors.KindInvalidInput, "malformed task query", err))
		return
	}

	filters := task.QueryFilters{}
	for _, st := range req.Statuses {
		filters.Statuses = append(filters.Statuses, task.Status(st))
	}
	for _, k := range req.Kinds {
		filters.Kinds = append(filters.Kinds, task.Kind(k))
	}

	tasks, err := s.Tasks.Query(c.Request.Context(), req.TaskIDs, filters, req.IncludeResult)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]gin.H, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView(t))
	}
	respondSuccess(c, http.StatusOK, gin.H{"tasks": views}, nil)
}

// taskCancelRequest is the POST /v2/tasks/cancel body.
type taskCancelRequest struct {
	TaskIDs []string `json:"task_ids" binding:"required"`
	Force   bool     `json:"force"`
}

func (s *Server) handleCancelTasks(c *gin.Context) {
	var req taskCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domainerrors.New(domainerrors.KindInvalidInput, "malformed task cancel request", err))
		return
	}

	if err := s.Tasks.Cancel(c.Request.Context(), req.TaskIDs, req.Force); err != nil {
		respondError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"cancelled": req.TaskIDs}, nil)
}
