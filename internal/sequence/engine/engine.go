// Package engine advances leads through time-delayed, condition-gated
// email sequences. It is the sole mutator of enrollments and sequence
// counters.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadflow/leadflow-backend/internal/schedule"
	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

// Store is the persistence contract the engine drives. Implemented by
// sequence/storage; enrollment updates must be conditional on the prior
// status, and CreateEnrollment/CompleteEnrollment maintain the sequence
// aggregate counters atomically with the enrollment write.
type Store interface {
	GetDefinition(ctx context.Context, sequenceID string) (*domain.Definition, error)

	CreateEnrollment(ctx context.Context, enr *domain.Enrollment) error
	GetEnrollment(ctx context.Context, enrollmentID string) (*domain.Enrollment, error)
	ListDue(ctx context.Context, limit int, now time.Time) ([]domain.Enrollment, error)
	AdvanceStep(ctx context.Context, enrollmentID string, step int, nextEmailAt time.Time, sentAt *time.Time) error
	CompleteEnrollment(ctx context.Context, enrollmentID string, step int, sentAt *time.Time) error
	PauseEnrollment(ctx context.Context, enrollmentID, reason string) error
	ResumeEnrollment(ctx context.Context, enrollmentID string, nextEmailAt time.Time) error
	CancelEnrollment(ctx context.Context, enrollmentID, reason string) error
	PauseAllForLead(ctx context.Context, leadID, reason string) (int64, error)
	CancelAllForLead(ctx context.Context, leadID, reason string) (int64, error)
}

// Engine coordinates enrollment state transitions and step sends.
type Engine struct {
	store    Store
	leads    LeadStore
	mailer   EmailSender
	activity ActivityLogger
	policy   schedule.Policy
	logger   *slog.Logger
}

// New creates an Engine.
func New(store Store, leads LeadStore, mailer EmailSender, activity ActivityLogger, policy schedule.Policy, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		leads:    leads,
		mailer:   mailer,
		activity: activity,
		policy:   policy,
		logger:   logger,
	}
}

// EnrollOptions tune a new enrollment.
type EnrollOptions struct {
	// StartImmediately makes a zero-delay first step due right away
	// instead of waiting for the next business window.
	StartImmediately bool
}

// Enroll validates the lead and sequence and creates an active
// enrollment at step zero. A lead with an active enrollment in the same
// sequence is rejected with no state mutation.
func (e *Engine) Enroll(ctx context.Context, sequenceID, leadID string, opts EnrollOptions) (*domain.Enrollment, error) {
	lead, err := e.leads.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if lead.Email == "" {
		return nil, domain.ErrNoRecipientAddress
	}
	if lead.Unsubscribed {
		return nil, domain.ErrLeadUnsubscribed
	}

	def, err := e.store.GetDefinition(ctx, sequenceID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, domain.ErrSequenceInactive
	}
	if len(def.Steps) == 0 {
		return nil, domain.ErrSequenceEmpty
	}

	now := time.Now().UTC()
	first := def.Steps[0]
	nextAt := e.policy.NextBusinessSendTime(now, first.DelayDays)
	if opts.StartImmediately && first.DelayDays == 0 {
		nextAt = now
	}

	enr := &domain.Enrollment{
		SequenceID:  sequenceID,
		LeadID:      leadID,
		CurrentStep: 0,
		NextEmailAt: &nextAt,
	}
	if err := e.store.CreateEnrollment(ctx, enr); err != nil {
		return nil, err
	}

	e.activity.Log(ctx, "enrollment", enr.ID, "sequence_enrolled",
		fmt.Sprintf("lead %s enrolled in sequence %q", leadID, def.Name))

	e.logger.Info("Lead enrolled in sequence",
		slog.String("enrollment_id", enr.ID),
		slog.String("sequence_id", sequenceID),
		slog.String("lead_id", leadID),
		slog.Time("next_email_at", nextAt),
	)
	return enr, nil
}

// Pause halts an active enrollment until an explicit Resume.
func (e *Engine) Pause(ctx context.Context, enrollmentID, reason string) error {
	if reason == "" {
		reason = domain.StopReasonManual
	}
	if err := e.store.PauseEnrollment(ctx, enrollmentID, reason); err != nil {
		return err
	}
	e.activity.Log(ctx, "enrollment", enrollmentID, "sequence_paused", reason)
	return nil
}

// Resume reactivates a paused enrollment. The current step becomes due
// at the next business send time.
func (e *Engine) Resume(ctx context.Context, enrollmentID string) error {
	nextAt := e.policy.NextBusinessSendTime(time.Now().UTC(), 0)
	if err := e.store.ResumeEnrollment(ctx, enrollmentID, nextAt); err != nil {
		return err
	}
	e.activity.Log(ctx, "enrollment", enrollmentID, "sequence_resumed", "")
	return nil
}

// Cancel terminates an active or paused enrollment. Terminal and
// irreversible short of re-enrollment.
func (e *Engine) Cancel(ctx context.Context, enrollmentID, reason string) error {
	if reason == "" {
		reason = domain.StopReasonManual
	}
	if err := e.store.CancelEnrollment(ctx, enrollmentID, reason); err != nil {
		return err
	}
	e.activity.Log(ctx, "enrollment", enrollmentID, "sequence_cancelled", reason)
	return nil
}

// HandleEngagementEvent reacts to an inbound lead signal: a reply
// pauses all active enrollments for the lead, a bounce or unsubscribe
// cancels all active and paused ones.
func (e *Engine) HandleEngagementEvent(ctx context.Context, leadID string, event domain.EngagementEvent) error {
	var (
		count int64
		err   error
	)

	switch event {
	case domain.EngagementReplied:
		count, err = e.store.PauseAllForLead(ctx, leadID, domain.StopReasonReplied)
	case domain.EngagementBounced:
		count, err = e.store.CancelAllForLead(ctx, leadID, domain.StopReasonBounced)
	case domain.EngagementUnsubscribed:
		count, err = e.store.CancelAllForLead(ctx, leadID, domain.StopReasonUnsubscribed)
	default:
		return fmt.Errorf("unknown engagement event %q", event)
	}
	if err != nil {
		return err
	}

	e.activity.Log(ctx, "lead", leadID, "engagement_"+string(event),
		fmt.Sprintf("%d enrollments affected", count))

	e.logger.Info("Engagement event handled",
		slog.String("lead_id", leadID),
		slog.String("event", string(event)),
		slog.Int64("enrollments_affected", count),
	)
	return nil
}
