package domain

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// DeadLetterItem is an archived copy of a job that exhausted its retry
// budget. It keeps the original type and payload so the job can be
// inspected and resubmitted manually.
type DeadLetterItem struct {
	ID              string         `db:"dlq_id"`
	JobID           string         `db:"job_id"`
	JobType         Type           `db:"job_type"`
	JobData         types.JSONText `db:"job_data"`
	ErrorMessage    string         `db:"error_message"`
	FailedAt        time.Time      `db:"failed_at"`
	ResolvedAt      *time.Time     `db:"resolved_at"`
	ResolutionNotes sql.NullString `db:"resolution_notes"`
}

// Resolved reports whether the item has been handled by an operator.
func (d DeadLetterItem) Resolved() bool {
	return d.ResolvedAt != nil
}
