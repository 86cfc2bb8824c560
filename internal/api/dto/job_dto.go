package dto

import (
	"encoding/json"
	"time"

	"github.com/leadflow/leadflow-backend/internal/crm"
	"github.com/leadflow/leadflow-backend/internal/queue/domain"
)

// EnqueueJobRequest creates a new job.
type EnqueueJobRequest struct {
	JobType      string          `json:"job_type" binding:"required"`
	Payload      json.RawMessage `json:"payload" binding:"required"`
	Priority     int             `json:"priority"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// ListJobsQuery filters and paginates the job list.
type ListJobsQuery struct {
	Status    string `form:"status"`
	JobType   string `form:"job_type"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}

// BulkJobsRequest names the jobs a bulk retry/cancel applies to.
type BulkJobsRequest struct {
	JobIDs []string `json:"job_ids" binding:"required"`
}

// ClearJobsRequest removes all jobs in one terminal status.
type ClearJobsRequest struct {
	Status string `json:"status" binding:"required"`
}

// JobResponse is the wire shape of one job.
type JobResponse struct {
	JobID        string          `json:"job_id"`
	JobType      string          `json:"job_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Error        string          `json:"error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListJobsResponse pages through jobs.
type ListJobsResponse struct {
	Jobs     []JobResponse `json:"jobs"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// BulkJobsResponse reports per-id outcomes of a bulk operation.
type BulkJobsResponse struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// ActivityResponse is one audit-trail entry.
type ActivityResponse struct {
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JobDetailResponse is a job plus its audit trail.
type JobDetailResponse struct {
	JobResponse
	Activities []ActivityResponse `json:"activities"`
}

// DeadLetterResponse is the wire shape of one archived failure.
type DeadLetterResponse struct {
	DLQID           string          `json:"dlq_id"`
	JobID           string          `json:"job_id"`
	JobType         string          `json:"job_type"`
	JobData         json.RawMessage `json:"job_data"`
	ErrorMessage    string          `json:"error_message"`
	FailedAt        time.Time       `json:"failed_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	ResolutionNotes string          `json:"resolution_notes,omitempty"`
}

// ResolveDeadLetterRequest closes a dead-letter item.
type ResolveDeadLetterRequest struct {
	Notes string `json:"notes" binding:"required"`
}

// FromJob converts a domain job.
func FromJob(job *domain.Job) JobResponse {
	resp := JobResponse{
		JobID:        job.ID,
		JobType:      string(job.Type),
		Payload:      json.RawMessage(job.Payload),
		Status:       string(job.Status),
		Priority:     job.Priority,
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		ScheduledFor: job.ScheduledFor,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if job.ErrorMessage.Valid {
		resp.Error = job.ErrorMessage.String
	}
	if job.Result.Valid {
		resp.Result = json.RawMessage(job.Result.JSONText)
	}
	return resp
}

// FromJobs converts a page of domain jobs.
func FromJobs(jobs []domain.Job) []JobResponse {
	out := make([]JobResponse, len(jobs))
	for i := range jobs {
		out[i] = FromJob(&jobs[i])
	}
	return out
}

// FromActivity converts one audit entry.
func FromActivity(a crm.Activity) ActivityResponse {
	return ActivityResponse{Event: a.Event, Detail: a.Detail, CreatedAt: a.CreatedAt}
}

// FromDeadLetter converts one archived failure.
func FromDeadLetter(item *domain.DeadLetterItem) DeadLetterResponse {
	resp := DeadLetterResponse{
		DLQID:        item.ID,
		JobID:        item.JobID,
		JobType:      string(item.JobType),
		JobData:      json.RawMessage(item.JobData),
		ErrorMessage: item.ErrorMessage,
		FailedAt:     item.FailedAt,
		ResolvedAt:   item.ResolvedAt,
	}
	if item.ResolutionNotes.Valid {
		resp.ResolutionNotes = item.ResolutionNotes.String
	}
	return resp
}
