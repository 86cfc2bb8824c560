package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

// Report summarizes one processing pass over due enrollments.
type Report struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Completed int `json:"completed"`
	Paused    int `json:"paused"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// ProcessDueEnrollments selects active enrollments due at now, bounded
// by batchSize, and advances each through its current step. Failures
// are isolated per enrollment: a failed send leaves the enrollment in
// place for the next tick and never aborts the batch.
func (e *Engine) ProcessDueEnrollments(ctx context.Context, batchSize int, now time.Time) (Report, error) {
	var report Report

	due, err := e.store.ListDue(ctx, batchSize, now)
	if err != nil {
		return report, fmt.Errorf("failed to list due enrollments: %w", err)
	}

	for i := range due {
		enr := &due[i]
		report.Processed++

		if err := e.processOne(ctx, enr, now, &report); err != nil {
			report.Failed++
			e.logger.Error("Failed to process enrollment",
				slog.String("enrollment_id", enr.ID),
				slog.String("sequence_id", enr.SequenceID),
				slog.String("lead_id", enr.LeadID),
				slog.Int("current_step", enr.CurrentStep),
				slog.String("error", err.Error()),
			)
		}
	}

	return report, nil
}

func (e *Engine) processOne(ctx context.Context, enr *domain.Enrollment, now time.Time, report *Report) error {
	lead, err := e.leads.Get(ctx, enr.LeadID)
	if err != nil {
		return fmt.Errorf("failed to load lead: %w", err)
	}

	// Global opt-out wins over everything else.
	if lead.Unsubscribed {
		if err := e.store.CancelEnrollment(ctx, enr.ID, domain.StopReasonUnsubscribed); err != nil {
			return err
		}
		report.Cancelled++
		e.activity.Log(ctx, "enrollment", enr.ID, "sequence_cancelled", domain.StopReasonUnsubscribed)
		return nil
	}

	// A reply since our last send pauses outreach until an explicit
	// resume.
	if lead.LastRespondedAt != nil && enr.LastEmailAt != nil && lead.LastRespondedAt.After(*enr.LastEmailAt) {
		if err := e.store.PauseEnrollment(ctx, enr.ID, domain.StopReasonReplied); err != nil {
			return err
		}
		report.Paused++
		e.activity.Log(ctx, "enrollment", enr.ID, "sequence_paused", domain.StopReasonReplied)
		return nil
	}

	def, err := e.store.GetDefinition(ctx, enr.SequenceID)
	if err != nil {
		return fmt.Errorf("failed to load sequence: %w", err)
	}

	if enr.CurrentStep >= len(def.Steps) {
		return e.complete(ctx, enr, def, enr.CurrentStep, nil, report)
	}

	step := def.Steps[enr.CurrentStep]
	var sentAt *time.Time

	if evaluateCondition(step.Condition, lead) {
		subject, html := renderStep(step, lead)
		if _, err := e.mailer.Send(ctx, lead.Email, subject, html, ""); err != nil {
			// Leave the enrollment untouched; the next tick retries.
			return fmt.Errorf("failed to send step %d: %w", enr.CurrentStep, err)
		}

		sentAt = &now
		report.Sent++

		if err := e.leads.RecordEmailSent(ctx, enr.LeadID); err != nil {
			e.logger.Warn("Failed to record email sent on lead",
				slog.String("lead_id", enr.LeadID),
				slog.String("error", err.Error()),
			)
		}
		e.activity.Log(ctx, "enrollment", enr.ID, "sequence_email_sent",
			fmt.Sprintf("step %d: %s", enr.CurrentStep, subject))
	} else {
		report.Skipped++
		e.activity.Log(ctx, "enrollment", enr.ID, "sequence_step_skipped",
			fmt.Sprintf("step %d condition %s not met", enr.CurrentStep, step.Condition))
	}

	next := enr.CurrentStep + 1
	if next >= len(def.Steps) {
		return e.complete(ctx, enr, def, next, sentAt, report)
	}

	nextAt := e.policy.NextBusinessSendTime(now, def.Steps[next].DelayDays)
	if err := e.store.AdvanceStep(ctx, enr.ID, next, nextAt, sentAt); err != nil {
		return err
	}

	e.logger.Debug("Enrollment advanced",
		slog.String("enrollment_id", enr.ID),
		slog.Int("step", next),
		slog.Time("next_email_at", nextAt),
		slog.Bool("sent", sentAt != nil),
	)
	return nil
}

func (e *Engine) complete(ctx context.Context, enr *domain.Enrollment, def *domain.Definition, step int, sentAt *time.Time, report *Report) error {
	if err := e.store.CompleteEnrollment(ctx, enr.ID, step, sentAt); err != nil {
		return err
	}

	report.Completed++
	e.activity.Log(ctx, "enrollment", enr.ID, "sequence_completed", def.Name)

	e.logger.Info("Enrollment completed",
		slog.String("enrollment_id", enr.ID),
		slog.String("sequence_id", def.ID),
		slog.String("lead_id", enr.LeadID),
	)
	return nil
}
