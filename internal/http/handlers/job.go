package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lprior-repo/nuoc-sub001/internal/domain"
	"github.com/lprior-repo/nuoc-sub001/internal/http/response"
	"github.com/lprior-repo/nuoc-sub001/internal/platform/apperr"
)

// JobStore is the subset of *store.Store the control plane needs to report
// job status.
type JobStore interface {
	GetJob(id uuid.UUID) (*domain.Job, error)
	ListTasks(jobID uuid.UUID) ([]domain.Task, error)
}

// JobHandler implements the read-only job status endpoint external callers
// poll instead of subscribing to the event bus.
type JobHandler struct {
	store JobStore
}

func NewJobHandler(store JobStore) *JobHandler {
	return &JobHandler{store: store}
}

// taskSummary is the trimmed per-task view returned in a job status
// response — enough to see what's still running without shipping the raw
// journal.
type taskSummary struct {
	Name             string                   `json:"name"`
	Status           domain.Status            `json:"status"`
	Attempt          int                      `json:"attempt"`
	RetryCount       int                      `json:"retry_count"`
	CompletionResult *domain.CompletionResult `json:"completion_result,omitempty"`
}

// Get handles GET /jobs/:id, returning the job's current status plus a
// summary of every task belonging to it.
func (h *JobHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", err)
		return
	}

	job, err := h.store.GetJob(id)
	if err != nil {
		writeJobError(c, err)
		return
	}
	tasks, err := h.store.ListTasks(id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_tasks_failed", err)
		return
	}

	summaries := make([]taskSummary, 0, len(tasks))
	for _, t := range tasks {
		summaries = append(summaries, taskSummary{
			Name:             t.Name,
			Status:           t.Status,
			Attempt:          t.Attempt,
			RetryCount:       t.RetryCount,
			CompletionResult: t.CompletionResult,
		})
	}

	response.RespondOK(c, gin.H{
		"id":                 job.ID,
		"name":               job.Name,
		"status":             job.Status,
		"completion_result":  job.CompletionResult,
		"completion_failure": job.CompletionFailure,
		"tasks":              summaries,
	})
}

func writeJobError(c *gin.Context, err error) {
	var ae *apperr.Error
	if apperr.As(err, &ae) && ae.Kind == apperr.KindNotFound {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": ae.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
}
