// Package storage persists jobs and the dead-letter archive in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leadflow/leadflow-backend/internal/queue/domain"
	"github.com/leadflow/leadflow-backend/shared/postgresql"
)

const jobColumns = `
	job_id, job_type, payload, status, priority, attempts, max_attempts,
	scheduled_for, started_at, completed_at, error_message, result,
	created_at, updated_at`

// Storage handles all database operations for the job queue.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.DB(),
		logger: logger,
	}
}

// EnqueueOptions tune a newly created job. Zero values apply defaults.
type EnqueueOptions struct {
	Priority     int
	MaxAttempts  int
	ScheduledFor *time.Time
}

// Enqueue creates a job in pending, or scheduled when ScheduledFor lies
// in the future.
func (s *Storage) Enqueue(ctx context.Context, jobType domain.Type, payload []byte, opts EnqueueOptions) (*domain.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownType, jobType)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	now := time.Now().UTC()
	status := domain.StatusPending
	if opts.ScheduledFor != nil && opts.ScheduledFor.After(now) {
		status = domain.StatusScheduled
	}

	job := &domain.Job{
		ID:           uuid.New().String(),
		Type:         jobType,
		Payload:      payload,
		Status:       status,
		Priority:     opts.Priority,
		MaxAttempts:  maxAttempts,
		ScheduledFor: opts.ScheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := `
		INSERT INTO jobs (
			job_id, job_type, payload, status, priority, attempts,
			max_attempts, scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Type, []byte(job.Payload), job.Status, job.Priority,
		job.MaxAttempts, job.ScheduledFor, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("status", string(job.Status)),
		slog.Int("priority", job.Priority),
	)

	return job, nil
}

// GetByID retrieves a job by its id.
func (s *Storage) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &job, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ClaimDue atomically claims up to limit due jobs, transitioning each
// from pending/scheduled to running with attempts incremented. The
// conditional update plus SKIP LOCKED guarantees no two workers ever
// claim the same job, and a job with its retry budget already spent is
// never eligible. Results are ordered priority desc, created_at asc.
func (s *Storage) ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    attempts = attempts + 1,
		    started_at = $2,
		    updated_at = $2
		WHERE job_id IN (
			SELECT job_id FROM jobs
			WHERE status IN ($3, $4)
			  AND (scheduled_for IS NULL OR scheduled_for <= $2)
			  AND attempts < max_attempts
			ORDER BY priority DESC, created_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var jobs []domain.Job
	err := s.db.SelectContext(ctx, &jobs, query,
		domain.StatusRunning, now.UTC(),
		domain.StatusPending, domain.StatusScheduled, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}

	// RETURNING does not guarantee row order; restore the claim order.
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	if len(jobs) > 0 {
		s.logger.Debug("Jobs claimed",
			slog.Int("count", len(jobs)),
		)
	}

	return jobs, nil
}

// Complete transitions a running job to completed and stores its result.
func (s *Storage) Complete(ctx context.Context, jobID string, result []byte) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    result = $2,
		    error_message = NULL,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	res, err := s.db.ExecContext(ctx, query, domain.StatusCompleted, nullableJSON(result), jobID, domain.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return s.guardTransition(ctx, res, jobID)
}

// Fail records a failed attempt for a running job. While the retry
// budget lasts the job returns to pending; once exhausted it becomes
// failed and, for opted-in types, is archived to the dead-letter queue.
// The final status is returned.
func (s *Storage) Fail(ctx context.Context, jobID, message string) (domain.Status, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1 AND status = $2 FOR UPDATE`
	if err := tx.GetContext(ctx, &job, query, jobID, domain.StatusRunning); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", s.notFoundOrInvalid(ctx, jobID)
		}
		return "", fmt.Errorf("failed to load job for failure: %w", err)
	}

	next := job.FailureStatus()

	update := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    completed_at = CASE WHEN $1 = $3 THEN NOW() ELSE NULL END,
		    started_at = CASE WHEN $1 = $3 THEN started_at ELSE NULL END,
		    updated_at = NOW()
		WHERE job_id = $4
	`
	if _, err := tx.ExecContext(ctx, update, next, message, domain.StatusFailed, jobID); err != nil {
		return "", fmt.Errorf("failed to record job failure: %w", err)
	}

	if next == domain.StatusFailed && job.Type.ArchivesToDeadLetter() {
		archive := `
			INSERT INTO dead_letter_queue (dlq_id, job_id, job_type, job_data, error_message, failed_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
		`
		if _, err := tx.ExecContext(ctx, archive, uuid.New().String(), job.ID, job.Type, []byte(job.Payload), message); err != nil {
			return "", fmt.Errorf("failed to archive job to dead letter queue: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit job failure: %w", err)
	}

	s.logger.Info("Job failure recorded",
		slog.String("job_id", jobID),
		slog.String("job_type", string(job.Type)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.String("status", string(next)),
	)

	return next, nil
}

// Cancel transitions a job to cancelled. Allowed from pending,
// scheduled, or running only.
func (s *Storage) Cancel(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2 AND status IN ($3, $4, $5)
	`

	res, err := s.db.ExecContext(ctx, query, domain.StatusCancelled, jobID,
		domain.StatusPending, domain.StatusScheduled, domain.StatusRunning)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return s.guardTransition(ctx, res, jobID)
}

// Retry resets a failed or cancelled job to pending with a fresh retry
// budget. Error, timestamps, and any schedule are cleared.
func (s *Storage) Retry(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempts = 0,
		    error_message = NULL,
		    scheduled_for = NULL,
		    started_at = NULL,
		    completed_at = NULL,
		    updated_at = NOW()
		WHERE job_id = $2 AND status IN ($3, $4)
	`

	res, err := s.db.ExecContext(ctx, query, domain.StatusPending, jobID,
		domain.StatusFailed, domain.StatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}
	return s.guardTransition(ctx, res, jobID)
}

// staleJobError is recorded on jobs abandoned past the running cutoff.
const staleJobError = "worker lost: job exceeded the running staleness cutoff"

// ReapStale handles jobs stuck in running past the cutoff. Jobs with
// retry budget left return to pending so the next tick can pick them
// up; the attempt counted on the lost claim is kept. Jobs abandoned on
// their final attempt go terminal failed instead, archived to the
// dead-letter queue for opted-in types, so they never re-enter the
// claim window with an exhausted budget.
func (s *Storage) ReapStale(ctx context.Context, cutoff time.Duration, now time.Time) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var stale []domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 AND started_at < $2 FOR UPDATE SKIP LOCKED`
	if err := tx.SelectContext(ctx, &stale, query, domain.StatusRunning, now.UTC().Add(-cutoff)); err != nil {
		return 0, fmt.Errorf("failed to select stale jobs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var requeued, exhausted []string
	for i := range stale {
		job := &stale[i]
		if job.RetryBudgetLeft() {
			requeued = append(requeued, job.ID)
			continue
		}
		exhausted = append(exhausted, job.ID)

		if job.Type.ArchivesToDeadLetter() {
			archive := `
				INSERT INTO dead_letter_queue (dlq_id, job_id, job_type, job_data, error_message, failed_at)
				VALUES ($1, $2, $3, $4, $5, NOW())
			`
			if _, err := tx.ExecContext(ctx, archive, uuid.New().String(), job.ID, job.Type, []byte(job.Payload), staleJobError); err != nil {
				return 0, fmt.Errorf("failed to archive stale job to dead letter queue: %w", err)
			}
		}
	}

	if len(requeued) > 0 {
		requeue := `
			UPDATE jobs
			SET status = $1,
			    started_at = NULL,
			    updated_at = NOW()
			WHERE job_id = ANY($2)
		`
		if _, err := tx.ExecContext(ctx, requeue, domain.StatusPending, pq.Array(requeued)); err != nil {
			return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
		}
	}

	if len(exhausted) > 0 {
		fail := `
			UPDATE jobs
			SET status = $1,
			    error_message = $2,
			    completed_at = NOW(),
			    updated_at = NOW()
			WHERE job_id = ANY($3)
		`
		if _, err := tx.ExecContext(ctx, fail, domain.StatusFailed, staleJobError, pq.Array(exhausted)); err != nil {
			return 0, fmt.Errorf("failed to fail stale jobs: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit stale job reap: %w", err)
	}

	s.logger.Warn("Stale running jobs reaped",
		slog.Int("requeued", len(requeued)),
		slog.Int("failed", len(exhausted)),
		slog.Duration("cutoff", cutoff),
	)
	return int64(len(stale)), nil
}

func (s *Storage) guardTransition(ctx context.Context, res sql.Result, jobID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return s.notFoundOrInvalid(ctx, jobID)
	}
	return nil
}

func (s *Storage) notFoundOrInvalid(ctx context.Context, jobID string) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM jobs WHERE job_id = $1)`, jobID); err != nil {
		return fmt.Errorf("failed to check job existence: %w", err)
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return domain.ErrInvalidTransition
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
