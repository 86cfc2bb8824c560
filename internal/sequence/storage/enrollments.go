package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

const enrollmentColumns = `
	enrollment_id, sequence_id, lead_id, current_step, status,
	next_email_at, last_email_at, completed_at, stop_reason,
	created_at, updated_at`

// CreateEnrollment inserts a new active enrollment and bumps the
// sequence's total_enrolled in the same statement, so the counter never
// drifts from the rows. The insert is guarded against an existing
// active enrollment for the same (sequence, lead) pair; a concurrent
// duplicate is also stopped by the partial unique index on the table.
func (s *Storage) CreateEnrollment(ctx context.Context, enr *domain.Enrollment) error {
	now := time.Now().UTC()
	enr.ID = uuid.New().String()
	enr.Status = domain.EnrollmentActive
	enr.CreatedAt = now
	enr.UpdatedAt = now

	query := `
		WITH created AS (
			INSERT INTO sequence_enrollments (
				enrollment_id, sequence_id, lead_id, current_step, status,
				next_email_at, created_at, updated_at
			)
			SELECT $1, $2, $3, $4, $5, $6, $7, $7
			WHERE NOT EXISTS (
				SELECT 1 FROM sequence_enrollments
				WHERE sequence_id = $2 AND lead_id = $3 AND status = $5
			)
			RETURNING sequence_id
		)
		UPDATE email_sequences
		SET total_enrolled = total_enrolled + 1,
		    updated_at = NOW()
		WHERE sequence_id IN (SELECT sequence_id FROM created)
	`

	res, err := s.db.ExecContext(ctx, query,
		enr.ID, enr.SequenceID, enr.LeadID, enr.CurrentStep,
		domain.EnrollmentActive, enr.NextEmailAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create enrollment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrAlreadyEnrolled
	}

	s.logger.Info("Lead enrolled",
		slog.String("enrollment_id", enr.ID),
		slog.String("sequence_id", enr.SequenceID),
		slog.String("lead_id", enr.LeadID),
	)
	return nil
}

// GetEnrollment retrieves an enrollment by id.
func (s *Storage) GetEnrollment(ctx context.Context, enrollmentID string) (*domain.Enrollment, error) {
	var enr domain.Enrollment
	query := `SELECT ` + enrollmentColumns + ` FROM sequence_enrollments WHERE enrollment_id = $1`

	if err := s.db.GetContext(ctx, &enr, query, enrollmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return &enr, nil
}

// EnrollmentFilter narrows an enrollment listing.
type EnrollmentFilter struct {
	SequenceID string
	LeadID     string
	Status     domain.EnrollmentStatus
	Limit      int
}

// ListEnrollments returns enrollments matching the filter, newest first.
func (s *Storage) ListEnrollments(ctx context.Context, filter EnrollmentFilter) ([]domain.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM sequence_enrollments WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.SequenceID != "" {
		query += fmt.Sprintf(" AND sequence_id = $%d", argIdx)
		args = append(args, filter.SequenceID)
		argIdx++
	}
	if filter.LeadID != "" {
		query += fmt.Sprintf(" AND lead_id = $%d", argIdx)
		args = append(args, filter.LeadID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	var enrollments []domain.Enrollment
	if err := s.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}

// ListDue returns active enrollments whose next send is due, oldest-due
// first with id as the deterministic tie-break.
func (s *Storage) ListDue(ctx context.Context, limit int, now time.Time) ([]domain.Enrollment, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + enrollmentColumns + `
		FROM sequence_enrollments
		WHERE status = $1 AND next_email_at <= $2
		ORDER BY next_email_at ASC, enrollment_id ASC
		LIMIT $3
	`

	var enrollments []domain.Enrollment
	if err := s.db.SelectContext(ctx, &enrollments, query, domain.EnrollmentActive, now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("failed to list due enrollments: %w", err)
	}
	return enrollments, nil
}

// AdvanceStep moves an active enrollment to the given step with a new
// send time. sentAt is recorded as last_email_at only when an email was
// actually sent; on a condition skip it is nil and the prior value is
// kept.
func (s *Storage) AdvanceStep(ctx context.Context, enrollmentID string, step int, nextEmailAt time.Time, sentAt *time.Time) error {
	query := `
		UPDATE sequence_enrollments
		SET current_step = $1,
		    next_email_at = $2,
		    last_email_at = COALESCE($3, last_email_at),
		    updated_at = NOW()
		WHERE enrollment_id = $4 AND status = $5
	`
	res, err := s.db.ExecContext(ctx, query, step, nextEmailAt.UTC(), sentAt, enrollmentID, domain.EnrollmentActive)
	if err != nil {
		return fmt.Errorf("failed to advance enrollment: %w", err)
	}
	return s.guardEnrollment(ctx, res, enrollmentID)
}

// CompleteEnrollment finishes an active enrollment: terminal status,
// send schedule cleared, completion stamped, and the sequence's
// total_completed bumped, all in one statement.
func (s *Storage) CompleteEnrollment(ctx context.Context, enrollmentID string, step int, sentAt *time.Time) error {
	query := `
		WITH finished AS (
			UPDATE sequence_enrollments
			SET current_step = $1,
			    status = $2,
			    next_email_at = NULL,
			    last_email_at = COALESCE($3, last_email_at),
			    completed_at = NOW(),
			    updated_at = NOW()
			WHERE enrollment_id = $4 AND status = $5
			RETURNING sequence_id
		)
		UPDATE email_sequences
		SET total_completed = total_completed + 1,
		    updated_at = NOW()
		WHERE sequence_id IN (SELECT sequence_id FROM finished)
	`
	res, err := s.db.ExecContext(ctx, query, step, domain.EnrollmentCompleted, sentAt, enrollmentID, domain.EnrollmentActive)
	if err != nil {
		return fmt.Errorf("failed to complete enrollment: %w", err)
	}
	return s.guardEnrollment(ctx, res, enrollmentID)
}

// PauseEnrollment halts an active enrollment. The send schedule is
// cleared; Resume recomputes it.
func (s *Storage) PauseEnrollment(ctx context.Context, enrollmentID, reason string) error {
	query := `
		UPDATE sequence_enrollments
		SET status = $1,
		    next_email_at = NULL,
		    stop_reason = $2,
		    updated_at = NOW()
		WHERE enrollment_id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query, domain.EnrollmentPaused, reason, enrollmentID, domain.EnrollmentActive)
	if err != nil {
		return fmt.Errorf("failed to pause enrollment: %w", err)
	}
	return s.guardEnrollment(ctx, res, enrollmentID)
}

// ResumeEnrollment reactivates a paused enrollment with a fresh send
// time.
func (s *Storage) ResumeEnrollment(ctx context.Context, enrollmentID string, nextEmailAt time.Time) error {
	query := `
		UPDATE sequence_enrollments
		SET status = $1,
		    next_email_at = $2,
		    stop_reason = NULL,
		    updated_at = NOW()
		WHERE enrollment_id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query, domain.EnrollmentActive, nextEmailAt.UTC(), enrollmentID, domain.EnrollmentPaused)
	if err != nil {
		return fmt.Errorf("failed to resume enrollment: %w", err)
	}
	return s.guardEnrollment(ctx, res, enrollmentID)
}

// CancelEnrollment terminates an active or paused enrollment.
func (s *Storage) CancelEnrollment(ctx context.Context, enrollmentID, reason string) error {
	query := `
		UPDATE sequence_enrollments
		SET status = $1,
		    next_email_at = NULL,
		    stop_reason = $2,
		    updated_at = NOW()
		WHERE enrollment_id = $3 AND status IN ($4, $5)
	`
	res, err := s.db.ExecContext(ctx, query, domain.EnrollmentCancelled, reason, enrollmentID,
		domain.EnrollmentActive, domain.EnrollmentPaused)
	if err != nil {
		return fmt.Errorf("failed to cancel enrollment: %w", err)
	}
	return s.guardEnrollment(ctx, res, enrollmentID)
}

// PauseAllForLead pauses every active enrollment for the lead and
// returns the count.
func (s *Storage) PauseAllForLead(ctx context.Context, leadID, reason string) (int64, error) {
	query := `
		UPDATE sequence_enrollments
		SET status = $1,
		    next_email_at = NULL,
		    stop_reason = $2,
		    updated_at = NOW()
		WHERE lead_id = $3 AND status = $4
	`
	res, err := s.db.ExecContext(ctx, query, domain.EnrollmentPaused, reason, leadID, domain.EnrollmentActive)
	if err != nil {
		return 0, fmt.Errorf("failed to pause enrollments for lead: %w", err)
	}
	return res.RowsAffected()
}

// CancelAllForLead cancels every active and paused enrollment for the
// lead and returns the count.
func (s *Storage) CancelAllForLead(ctx context.Context, leadID, reason string) (int64, error) {
	query := `
		UPDATE sequence_enrollments
		SET status = $1,
		    next_email_at = NULL,
		    stop_reason = $2,
		    updated_at = NOW()
		WHERE lead_id = $3 AND status IN ($4, $5)
	`
	res, err := s.db.ExecContext(ctx, query, domain.EnrollmentCancelled, reason, leadID,
		domain.EnrollmentActive, domain.EnrollmentPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel enrollments for lead: %w", err)
	}
	return res.RowsAffected()
}

func (s *Storage) guardEnrollment(ctx context.Context, res sql.Result, enrollmentID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM sequence_enrollments WHERE enrollment_id = $1)`, enrollmentID); err != nil {
			return fmt.Errorf("failed to check enrollment existence: %w", err)
		}
		if !exists {
			return domain.ErrEnrollmentNotFound
		}
		return domain.ErrInvalidTransition
	}
	return nil
}
