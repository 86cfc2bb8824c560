// Package worker runs the polling loop that drains due jobs and due
// sequence steps on a fixed interval.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadflow/leadflow-backend/internal/queue/domain"
	"github.com/leadflow/leadflow-backend/internal/sequence/engine"
)

// JobStore claims due jobs and recovers stale ones.
type JobStore interface {
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]domain.Job, error)
	ReapStale(ctx context.Context, cutoff time.Duration, now time.Time) (int64, error)
}

// JobProcessor executes one claimed job and records its outcome.
type JobProcessor interface {
	Process(ctx context.Context, job *domain.Job) error
}

// SequenceProcessor drains due enrollments.
type SequenceProcessor interface {
	ProcessDueEnrollments(ctx context.Context, batchSize int, now time.Time) (engine.Report, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Jobs              JobStore
	Executor          JobProcessor
	Engine            SequenceProcessor
	TickInterval      time.Duration
	JobBatchSize      int
	SequenceBatchSize int
	StaleJobCutoff    time.Duration
	ReaperSchedule    string
}

// Worker coordinates the tick loop. Several worker processes can run
// against one database: the job store's atomic claim and the
// enrollment status guards are the only coordination needed.
type Worker struct {
	logger            *slog.Logger
	jobs              JobStore
	executor          JobProcessor
	engine            SequenceProcessor
	tickInterval      time.Duration
	jobBatchSize      int
	sequenceBatchSize int
	staleJobCutoff    time.Duration
	reaperSchedule    string
}

// NewWorker creates a new worker instance. Zero config values fall
// back to defaults.
func NewWorker(cfg *Config) *Worker {
	w := &Worker{
		logger:            cfg.Logger,
		jobs:              cfg.Jobs,
		executor:          cfg.Executor,
		engine:            cfg.Engine,
		tickInterval:      cfg.TickInterval,
		jobBatchSize:      cfg.JobBatchSize,
		sequenceBatchSize: cfg.SequenceBatchSize,
		staleJobCutoff:    cfg.StaleJobCutoff,
		reaperSchedule:    cfg.ReaperSchedule,
	}
	if w.tickInterval <= 0 {
		w.tickInterval = time.Minute
	}
	if w.jobBatchSize <= 0 {
		w.jobBatchSize = 20
	}
	if w.sequenceBatchSize <= 0 {
		w.sequenceBatchSize = 50
	}
	if w.staleJobCutoff <= 0 {
		w.staleJobCutoff = 15 * time.Minute
	}
	if w.reaperSchedule == "" {
		w.reaperSchedule = "@every 5m"
	}
	return w
}

// TickReport summarizes one tick pass.
type TickReport struct {
	JobsClaimed   int           `json:"jobs_claimed"`
	JobsSucceeded int           `json:"jobs_succeeded"`
	JobsFailed    int           `json:"jobs_failed"`
	Sequences     engine.Report `json:"sequences"`
}

// Run ticks once immediately, then on the fixed interval until the
// context is cancelled. The stale-job reaper runs on its own cron
// schedule alongside.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker starting",
		slog.Duration("tick_interval", w.tickInterval),
		slog.Int("job_batch_size", w.jobBatchSize),
		slog.Int("sequence_batch_size", w.sequenceBatchSize),
		slog.String("reaper_schedule", w.reaperSchedule),
	)

	reaper := cron.New()
	if _, err := reaper.AddFunc(w.reaperSchedule, func() { w.reap(ctx) }); err != nil {
		return err
	}
	reaper.Start()
	defer reaper.Stop()

	w.Tick(ctx, time.Now().UTC())

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopping")
			return nil
		case now := <-ticker.C:
			w.Tick(ctx, now.UTC())
		}
	}
}

// Tick drains one batch of due jobs and one batch of due enrollments.
// Per-item failures are recorded and never abort the batch.
func (w *Worker) Tick(ctx context.Context, now time.Time) TickReport {
	var report TickReport

	jobs, err := w.jobs.ClaimDue(ctx, w.jobBatchSize, now)
	if err != nil {
		w.logger.Error("Failed to claim due jobs", slog.String("error", err.Error()))
	}

	report.JobsClaimed = len(jobs)
	for i := range jobs {
		if err := w.executor.Process(ctx, &jobs[i]); err != nil {
			report.JobsFailed++
		} else {
			report.JobsSucceeded++
		}
	}

	seqReport, err := w.engine.ProcessDueEnrollments(ctx, w.sequenceBatchSize, now)
	if err != nil {
		w.logger.Error("Failed to process due enrollments", slog.String("error", err.Error()))
	}
	report.Sequences = seqReport

	if report.JobsClaimed > 0 || seqReport.Processed > 0 {
		w.logger.Info("Tick finished",
			slog.Int("jobs_claimed", report.JobsClaimed),
			slog.Int("jobs_succeeded", report.JobsSucceeded),
			slog.Int("jobs_failed", report.JobsFailed),
			slog.Int("enrollments_processed", seqReport.Processed),
			slog.Int("emails_sent", seqReport.Sent),
			slog.Int("steps_skipped", seqReport.Skipped),
			slog.Int("enrollments_completed", seqReport.Completed),
		)
	}
	return report
}

func (w *Worker) reap(ctx context.Context) {
	count, err := w.jobs.ReapStale(ctx, w.staleJobCutoff, time.Now().UTC())
	if err != nil {
		w.logger.Error("Failed to reap stale jobs", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		w.logger.Info("Stale jobs requeued", slog.Int64("count", count))
	}
}
