// Package executor dispatches claimed jobs to type-specific handlers and
// records the outcome on the job store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadflow/leadflow-backend/internal/queue/domain"
)

// Handler services one job type. Execute returns an optional JSON
// result; a non-nil error counts as a failed attempt.
type Handler interface {
	Type() domain.Type
	Execute(ctx context.Context, job *domain.Job) ([]byte, error)
}

// Store records job outcomes. Implemented by queue/storage.
type Store interface {
	Complete(ctx context.Context, jobID string, result []byte) error
	Fail(ctx context.Context, jobID, message string) (domain.Status, error)
}

// Executor routes claimed jobs to registered handlers.
type Executor struct {
	store      Store
	handlers   map[domain.Type]Handler
	jobTimeout time.Duration
	logger     *slog.Logger
}

// New creates an Executor. jobTimeout bounds each handler invocation;
// zero disables the bound.
func New(store Store, jobTimeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		store:      store,
		handlers:   make(map[domain.Type]Handler),
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// Register adds a handler. Registering two handlers for one type is a
// wiring bug and returns an error.
func (e *Executor) Register(h Handler) error {
	t := h.Type()
	if !t.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownType, t)
	}
	if _, dup := e.handlers[t]; dup {
		return fmt.Errorf("handler already registered for job type %q", t)
	}
	e.handlers[t] = h
	return nil
}

// Process runs a claimed job through its handler and records the
// outcome. Handler panics are recovered and recorded as failures. The
// returned error reports the handler outcome for logging; recording
// errors are folded in.
func (e *Executor) Process(ctx context.Context, job *domain.Job) error {
	handler, ok := e.handlers[job.Type]
	if !ok {
		err := fmt.Errorf("%w: %q", domain.ErrUnknownType, job.Type)
		return e.recordFailure(ctx, job, err)
	}

	runCtx := ctx
	if e.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.jobTimeout)
		defer cancel()
	}

	result, err := e.run(runCtx, handler, job)
	if err != nil {
		return e.recordFailure(ctx, job, err)
	}

	if err := e.store.Complete(ctx, job.ID, result); err != nil {
		return fmt.Errorf("failed to record completion for job %s: %w", job.ID, err)
	}

	e.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.Int("attempt", job.Attempts),
	)
	return nil
}

func (e *Executor) run(ctx context.Context, handler Handler, job *domain.Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, job)
}

func (e *Executor) recordFailure(ctx context.Context, job *domain.Job, cause error) error {
	status, recordErr := e.store.Fail(ctx, job.ID, cause.Error())
	if recordErr != nil {
		return errors.Join(cause, fmt.Errorf("failed to record failure for job %s: %w", job.ID, recordErr))
	}

	e.logger.Error("Job attempt failed",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.Int("attempt", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
		slog.String("status", string(status)),
		slog.String("error", cause.Error()),
	)
	return cause
}
