package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/leadflow/leadflow-backend/internal/api/dto"
	"github.com/leadflow/leadflow-backend/internal/queue/domain"
	"github.com/leadflow/leadflow-backend/internal/queue/storage"
)

// JobHandler serves the job queue control surface.
type JobHandler struct {
	logger     *slog.Logger
	jobs       JobStore
	activities ActivityReader
}

// NewJobHandler creates a JobHandler.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		jobs:       deps.Jobs,
		activities: deps.Activities,
	}
}

// EnqueueJob handles POST /api/v1/jobs
func (h *JobHandler) EnqueueJob(c *gin.Context) {
	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	jobType := domain.Type(req.JobType)
	if !jobType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job type: " + req.JobType})
		return
	}

	job, err := h.jobs.Enqueue(c.Request.Context(), jobType, req.Payload, storage.EnqueueOptions{
		Priority:     req.Priority,
		MaxAttempts:  req.MaxAttempts,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("status", string(job.Status)),
	)
	c.JSON(http.StatusCreated, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var query dto.ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	if query.Status != "" && !domain.Status(query.Status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + query.Status})
		return
	}
	if query.JobType != "" && !domain.Type(query.JobType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job type: " + query.JobType})
		return
	}

	jobs, total, err := h.jobs.List(c.Request.Context(), storage.Filter{
		Status:    domain.Status(query.Status),
		Type:      domain.Type(query.JobType),
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortBy,
		SortOrder: query.SortOrder,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	page := query.Page
	if page <= 0 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:     dto.FromJobs(jobs),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	activities, err := h.activities.ListByEntity(c.Request.Context(), "job", jobID, 50)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.JobDetailResponse{
		JobResponse: dto.FromJob(job),
		Activities:  make([]dto.ActivityResponse, len(activities)),
	}
	for i, a := range activities {
		resp.Activities[i] = dto.FromActivity(a)
	}
	c.JSON(http.StatusOK, resp)
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if err := h.jobs.Retry(c.Request.Context(), jobID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job queued for retry", slog.String("job_id", jobID))
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": string(domain.StatusPending)})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if err := h.jobs.Cancel(c.Request.Context(), jobID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Job cancelled", slog.String("job_id", jobID))
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": string(domain.StatusCancelled)})
}

// BulkRetryJobs handles POST /api/v1/jobs/bulk/retry
func (h *JobHandler) BulkRetryJobs(c *gin.Context) {
	h.bulk(c, h.jobs.Retry)
}

// BulkCancelJobs handles POST /api/v1/jobs/bulk/cancel
func (h *JobHandler) BulkCancelJobs(c *gin.Context) {
	h.bulk(c, h.jobs.Cancel)
}

func (h *JobHandler) bulk(c *gin.Context, op func(ctx context.Context, jobID string) error) {
	var req dto.BulkJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.JobIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_ids must not be empty"})
		return
	}

	resp := dto.BulkJobsResponse{Failed: make(map[string]string)}
	for _, jobID := range req.JobIDs {
		if err := op(c.Request.Context(), jobID); err != nil {
			resp.Failed[jobID] = err.Error()
			continue
		}
		resp.Succeeded = append(resp.Succeeded, jobID)
	}
	if len(resp.Failed) == 0 {
		resp.Failed = nil
	}
	c.JSON(http.StatusOK, resp)
}

// ClearJobs handles POST /api/v1/jobs/clear
func (h *JobHandler) ClearJobs(c *gin.Context) {
	var req dto.ClearJobsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	status := domain.Status(req.Status)
	if !status.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only terminal statuses can be cleared"})
		return
	}

	removed, err := h.jobs.Clear(c.Request.Context(), status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Jobs cleared",
		slog.String("status", string(status)),
		slog.Int64("removed", removed),
	)
	c.JSON(http.StatusOK, gin.H{"status": string(status), "removed": removed})
}

// GetStats handles GET /api/v1/jobs/stats
func (h *JobHandler) GetStats(c *gin.Context) {
	stats, err := h.jobs.Stats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListDeadLetters handles GET /api/v1/dlq
func (h *JobHandler) ListDeadLetters(c *gin.Context) {
	showResolved := c.Query("show_resolved") == "true"

	items, err := h.jobs.ListDeadLetters(c.Request.Context(), showResolved)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := make([]dto.DeadLetterResponse, len(items))
	for i := range items {
		resp[i] = dto.FromDeadLetter(&items[i])
	}
	c.JSON(http.StatusOK, gin.H{"items": resp})
}

// ResolveDeadLetter handles POST /api/v1/dlq/:dlq_id/resolve
func (h *JobHandler) ResolveDeadLetter(c *gin.Context) {
	var req dto.ResolveDeadLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	dlqID := c.Param("dlq_id")
	if err := h.jobs.ResolveDeadLetter(c.Request.Context(), dlqID, req.Notes); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dlq_id": dlqID, "resolved": true})
}

// RetryDeadLetter handles POST /api/v1/dlq/:dlq_id/retry
func (h *JobHandler) RetryDeadLetter(c *gin.Context) {
	dlqID := c.Param("dlq_id")

	job, err := h.jobs.RetryFromDeadLetter(c.Request.Context(), dlqID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.Info("Dead-letter item requeued",
		slog.String("dlq_id", dlqID),
		slog.String("job_id", job.ID),
	)
	c.JSON(http.StatusCreated, dto.FromJob(job))
}
