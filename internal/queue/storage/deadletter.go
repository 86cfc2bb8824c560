package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow-backend/internal/queue/domain"
)

const deadLetterColumns = `
	dlq_id, job_id, job_type, job_data, error_message, failed_at,
	resolved_at, resolution_notes`

// ListDeadLetters returns archived items, newest failures first.
// Resolved items are excluded unless showResolved is set.
func (s *Storage) ListDeadLetters(ctx context.Context, showResolved bool) ([]domain.DeadLetterItem, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_queue`
	if !showResolved {
		query += ` WHERE resolved_at IS NULL`
	}
	query += ` ORDER BY failed_at DESC`

	var items []domain.DeadLetterItem
	if err := s.db.SelectContext(ctx, &items, query); err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}
	return items, nil
}

// ResolveDeadLetter marks an unresolved item as handled with the
// operator's notes.
func (s *Storage) ResolveDeadLetter(ctx context.Context, dlqID, notes string) error {
	query := `
		UPDATE dead_letter_queue
		SET resolved_at = NOW(),
		    resolution_notes = $1
		WHERE dlq_id = $2 AND resolved_at IS NULL
	`

	res, err := s.db.ExecContext(ctx, query, notes, dlqID)
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return s.deadLetterNotFoundOrResolved(ctx, dlqID)
	}

	s.logger.Info("Dead letter item resolved",
		slog.String("dlq_id", dlqID),
	)
	return nil
}

// RetryFromDeadLetter creates a fresh pending job from the archived
// type and payload and marks the item resolved, all in one transaction.
func (s *Storage) RetryFromDeadLetter(ctx context.Context, dlqID string) (*domain.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var item domain.DeadLetterItem
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_queue WHERE dlq_id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &item, query, dlqID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("failed to load dead letter item: %w", err)
	}
	if item.Resolved() {
		return nil, domain.ErrDeadLetterResolved
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Type:        item.JobType,
		Payload:     item.JobData,
		Status:      domain.StatusPending,
		MaxAttempts: domain.DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	insert := `
		INSERT INTO jobs (
			job_id, job_type, payload, status, priority, attempts,
			max_attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $6)
	`
	if _, err := tx.ExecContext(ctx, insert, job.ID, job.Type, []byte(job.Payload), job.Status, job.MaxAttempts, now); err != nil {
		return nil, fmt.Errorf("failed to requeue dead letter job: %w", err)
	}

	resolve := `
		UPDATE dead_letter_queue
		SET resolved_at = NOW(),
		    resolution_notes = $1
		WHERE dlq_id = $2
	`
	if _, err := tx.ExecContext(ctx, resolve, fmt.Sprintf("requeued as job %s", job.ID), dlqID); err != nil {
		return nil, fmt.Errorf("failed to mark dead letter item resolved: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dead letter retry: %w", err)
	}

	s.logger.Info("Dead letter item requeued",
		slog.String("dlq_id", dlqID),
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)
	return job, nil
}

func (s *Storage) deadLetterNotFoundOrResolved(ctx context.Context, dlqID string) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM dead_letter_queue WHERE dlq_id = $1)`, dlqID); err != nil {
		return fmt.Errorf("failed to check dead letter existence: %w", err)
	}
	if !exists {
		return domain.ErrDeadLetterNotFound
	}
	return domain.ErrDeadLetterResolved
}
