package domain

import (
	"database/sql"
	"time"
)

// EnrollmentStatus is the lifecycle state of a lead's progress through
// one sequence.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentCancelled
}

// Stop reasons recorded when an enrollment halts.
const (
	StopReasonReplied      = "replied"
	StopReasonBounced      = "bounced"
	StopReasonUnsubscribed = "unsubscribed"
	StopReasonManual       = "manual"
)

// Enrollment tracks one lead inside one sequence. NextEmailAt is
// non-nil exactly while the enrollment is active.
type Enrollment struct {
	ID          string           `db:"enrollment_id"`
	SequenceID  string           `db:"sequence_id"`
	LeadID      string           `db:"lead_id"`
	CurrentStep int              `db:"current_step"`
	Status      EnrollmentStatus `db:"status"`
	NextEmailAt *time.Time       `db:"next_email_at"`
	LastEmailAt *time.Time       `db:"last_email_at"`
	CompletedAt *time.Time       `db:"completed_at"`
	StopReason  sql.NullString   `db:"stop_reason"`
	CreatedAt   time.Time        `db:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at"`
}

// EngagementEvent is an inbound signal about a lead that interrupts
// outreach. Opens and clicks only move counters and are not events here.
type EngagementEvent string

const (
	EngagementReplied      EngagementEvent = "replied"
	EngagementBounced      EngagementEvent = "bounced"
	EngagementUnsubscribed EngagementEvent = "unsubscribed"
)

// Valid reports whether e is a known engagement event.
func (e EngagementEvent) Valid() bool {
	switch e {
	case EngagementReplied, EngagementBounced, EngagementUnsubscribed:
		return true
	}
	return false
}
