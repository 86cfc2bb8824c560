// Package domain defines the durable job model shared by the API and
// worker services.
package domain

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions
// short of an explicit manual retry.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusScheduled, StatusCancelled:
		return true
	}
	return false
}

// Type identifies which handler services a job.
type Type string

const (
	TypeSendEmail        Type = "send_email"
	TypeAnalyzeWebsite   Type = "analyze_website"
	TypeGenerateProposal Type = "generate_proposal"
	TypeProcessWebhook   Type = "process_webhook"
	TypeDiscover         Type = "discover"
	TypeCapture          Type = "capture"
	TypeGenerate         Type = "generate"
	TypeDeploy           Type = "deploy"
	TypeFollowup         Type = "followup"
	TypeScore            Type = "score"
)

// Types lists every known job type.
func Types() []Type {
	return []Type{
		TypeSendEmail,
		TypeAnalyzeWebsite,
		TypeGenerateProposal,
		TypeProcessWebhook,
		TypeDiscover,
		TypeCapture,
		TypeGenerate,
		TypeDeploy,
		TypeFollowup,
		TypeScore,
	}
}

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	for _, known := range Types() {
		if t == known {
			return true
		}
	}
	return false
}

// ArchivesToDeadLetter reports whether a job of this type is copied to
// the dead-letter archive once its retry budget is exhausted. Only work
// with external side effects worth manual replay opts in.
func (t Type) ArchivesToDeadLetter() bool {
	switch t {
	case TypeSendEmail, TypeGenerateProposal, TypeProcessWebhook:
		return true
	}
	return false
}

// DefaultMaxAttempts is applied when a job is enqueued without an
// explicit retry budget.
const DefaultMaxAttempts = 3

// Job is one retryable unit of background work.
type Job struct {
	ID           string             `db:"job_id"`
	Type         Type               `db:"job_type"`
	Payload      types.JSONText     `db:"payload"`
	Status       Status             `db:"status"`
	Priority     int                `db:"priority"`
	Attempts     int                `db:"attempts"`
	MaxAttempts  int                `db:"max_attempts"`
	ScheduledFor *time.Time         `db:"scheduled_for"`
	StartedAt    *time.Time         `db:"started_at"`
	CompletedAt  *time.Time         `db:"completed_at"`
	ErrorMessage sql.NullString     `db:"error_message"`
	Result       types.NullJSONText `db:"result"`
	CreatedAt    time.Time          `db:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at"`
}

// RetryBudgetLeft reports whether another attempt may run before the
// job goes terminal. A job whose attempts already reached the budget
// must never be requeued: the next claim would push attempts past
// max_attempts.
func (j *Job) RetryBudgetLeft() bool {
	return j.Attempts < j.MaxAttempts
}

// FailureStatus is the status a failed or abandoned attempt lands the
// job in: pending while the retry budget lasts, failed once it is
// spent.
func (j *Job) FailureStatus() Status {
	if j.RetryBudgetLeft() {
		return StatusPending
	}
	return StatusFailed
}

// QueueStats aggregates job counts for the control surface.
type QueueStats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	ByType   map[Type]int   `json:"by_type"`
}
