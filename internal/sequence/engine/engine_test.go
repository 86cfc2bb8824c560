package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow-backend/internal/crm"
	"github.com/leadflow/leadflow-backend/internal/schedule"
	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

// fakeStore is an in-memory Store that mirrors the conditional-update
// semantics of the real one.
type fakeStore struct {
	nextID      int
	definitions map[string]*domain.Definition
	enrollments map[string]*domain.Enrollment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		definitions: make(map[string]*domain.Definition),
		enrollments: make(map[string]*domain.Enrollment),
	}
}

func (f *fakeStore) addDefinition(def *domain.Definition) {
	f.definitions[def.ID] = def
}

func (f *fakeStore) GetDefinition(_ context.Context, id string) (*domain.Definition, error) {
	def, ok := f.definitions[id]
	if !ok {
		return nil, domain.ErrSequenceNotFound
	}
	copied := *def
	return &copied, nil
}

func (f *fakeStore) CreateEnrollment(_ context.Context, enr *domain.Enrollment) error {
	for _, existing := range f.enrollments {
		if existing.SequenceID == enr.SequenceID && existing.LeadID == enr.LeadID && existing.Status == domain.EnrollmentActive {
			return domain.ErrAlreadyEnrolled
		}
	}
	f.nextID++
	enr.ID = fmt.Sprintf("enr-%03d", f.nextID)
	enr.Status = domain.EnrollmentActive
	copied := *enr
	f.enrollments[enr.ID] = &copied
	// total_enrolled moves with the insert, as in the real store.
	if def, ok := f.definitions[enr.SequenceID]; ok {
		def.TotalEnrolled++
	}
	return nil
}

func (f *fakeStore) GetEnrollment(_ context.Context, id string) (*domain.Enrollment, error) {
	enr, ok := f.enrollments[id]
	if !ok {
		return nil, domain.ErrEnrollmentNotFound
	}
	copied := *enr
	return &copied, nil
}

func (f *fakeStore) ListDue(_ context.Context, limit int, now time.Time) ([]domain.Enrollment, error) {
	var due []domain.Enrollment
	for _, enr := range f.enrollments {
		if enr.Status == domain.EnrollmentActive && enr.NextEmailAt != nil && !enr.NextEmailAt.After(now) {
			due = append(due, *enr)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextEmailAt.Equal(*due[j].NextEmailAt) {
			return due[i].NextEmailAt.Before(*due[j].NextEmailAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeStore) guarded(id string, from ...domain.EnrollmentStatus) (*domain.Enrollment, error) {
	enr, ok := f.enrollments[id]
	if !ok {
		return nil, domain.ErrEnrollmentNotFound
	}
	for _, s := range from {
		if enr.Status == s {
			return enr, nil
		}
	}
	return nil, domain.ErrInvalidTransition
}

func (f *fakeStore) AdvanceStep(_ context.Context, id string, step int, nextEmailAt time.Time, sentAt *time.Time) error {
	enr, err := f.guarded(id, domain.EnrollmentActive)
	if err != nil {
		return err
	}
	enr.CurrentStep = step
	next := nextEmailAt
	enr.NextEmailAt = &next
	if sentAt != nil {
		at := *sentAt
		enr.LastEmailAt = &at
	}
	return nil
}

func (f *fakeStore) CompleteEnrollment(_ context.Context, id string, step int, sentAt *time.Time) error {
	enr, err := f.guarded(id, domain.EnrollmentActive)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	enr.CurrentStep = step
	enr.Status = domain.EnrollmentCompleted
	enr.NextEmailAt = nil
	enr.CompletedAt = &now
	if sentAt != nil {
		at := *sentAt
		enr.LastEmailAt = &at
	}
	// total_completed moves with the transition, as in the real store.
	if def, ok := f.definitions[enr.SequenceID]; ok {
		def.TotalCompleted++
	}
	return nil
}

func (f *fakeStore) PauseEnrollment(_ context.Context, id, reason string) error {
	enr, err := f.guarded(id, domain.EnrollmentActive)
	if err != nil {
		return err
	}
	enr.Status = domain.EnrollmentPaused
	enr.NextEmailAt = nil
	enr.StopReason.String = reason
	enr.StopReason.Valid = true
	return nil
}

func (f *fakeStore) ResumeEnrollment(_ context.Context, id string, nextEmailAt time.Time) error {
	enr, err := f.guarded(id, domain.EnrollmentPaused)
	if err != nil {
		return err
	}
	enr.Status = domain.EnrollmentActive
	next := nextEmailAt
	enr.NextEmailAt = &next
	enr.StopReason.Valid = false
	return nil
}

func (f *fakeStore) CancelEnrollment(_ context.Context, id, reason string) error {
	enr, err := f.guarded(id, domain.EnrollmentActive, domain.EnrollmentPaused)
	if err != nil {
		return err
	}
	enr.Status = domain.EnrollmentCancelled
	enr.NextEmailAt = nil
	enr.StopReason.String = reason
	enr.StopReason.Valid = true
	return nil
}

func (f *fakeStore) PauseAllForLead(_ context.Context, leadID, reason string) (int64, error) {
	var count int64
	for _, enr := range f.enrollments {
		if enr.LeadID == leadID && enr.Status == domain.EnrollmentActive {
			enr.Status = domain.EnrollmentPaused
			enr.NextEmailAt = nil
			enr.StopReason.String = reason
			enr.StopReason.Valid = true
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) CancelAllForLead(_ context.Context, leadID, reason string) (int64, error) {
	var count int64
	for _, enr := range f.enrollments {
		if enr.LeadID == leadID && (enr.Status == domain.EnrollmentActive || enr.Status == domain.EnrollmentPaused) {
			enr.Status = domain.EnrollmentCancelled
			enr.NextEmailAt = nil
			enr.StopReason.String = reason
			enr.StopReason.Valid = true
			count++
		}
	}
	return count, nil
}

// checkInvariants asserts next_email_at is non-nil exactly while active.
func (f *fakeStore) checkInvariants(t *testing.T) {
	t.Helper()
	for id, enr := range f.enrollments {
		if enr.Status == domain.EnrollmentActive {
			assert.NotNil(t, enr.NextEmailAt, "active enrollment %s must have next_email_at", id)
		} else {
			assert.Nil(t, enr.NextEmailAt, "%s enrollment %s must not have next_email_at", enr.Status, id)
		}
	}
}

type fakeLeads struct {
	leads map[string]*crm.Lead
	sent  map[string]int
}

func newFakeLeads(leads ...*crm.Lead) *fakeLeads {
	f := &fakeLeads{leads: make(map[string]*crm.Lead), sent: make(map[string]int)}
	for _, l := range leads {
		f.leads[l.ID] = l
	}
	return f
}

func (f *fakeLeads) Get(_ context.Context, id string) (*crm.Lead, error) {
	lead, ok := f.leads[id]
	if !ok {
		return nil, crm.ErrLeadNotFound
	}
	copied := *lead
	return &copied, nil
}

func (f *fakeLeads) RecordEmailSent(_ context.Context, id string) error {
	f.sent[id]++
	return nil
}

type sentMail struct {
	To      string
	Subject string
	HTML    string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, html, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, HTML: html})
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

type fakeActivity struct {
	events []string
}

func (f *fakeActivity) Log(_ context.Context, _, _, event, _ string) {
	f.events = append(f.events, event)
}

type fixture struct {
	store    *fakeStore
	leads    *fakeLeads
	mailer   *fakeMailer
	activity *fakeActivity
	engine   *Engine
}

func newFixture(leads ...*crm.Lead) *fixture {
	store := newFakeStore()
	leadStore := newFakeLeads(leads...)
	mailer := &fakeMailer{}
	activity := &fakeActivity{}
	return &fixture{
		store:    store,
		leads:    leadStore,
		mailer:   mailer,
		activity: activity,
		engine:   New(store, leadStore, mailer, activity, schedule.DefaultPolicy(), slog.Default()),
	}
}

func testLead(id string) *crm.Lead {
	return &crm.Lead{
		ID:        id,
		Email:     id + "@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Company:   "Analytical Engines",
	}
}

func twoStepSequence() *domain.Definition {
	return &domain.Definition{
		ID:       "seq-1",
		Name:     "Cold outreach",
		IsActive: true,
		Steps: []domain.Step{
			{DelayDays: 0, Subject: "Hi {{first_name}}", BodyTemplate: "<p>Quick question about {{company}}</p>", Condition: domain.ConditionAlways},
			{DelayDays: 3, Subject: "Following up", BodyTemplate: "<p>Any thoughts?</p>", Condition: domain.ConditionNotOpened},
		},
	}
}

func TestEnrollValidation(t *testing.T) {
	f := newFixture(testLead("lead-1"))
	f.store.addDefinition(twoStepSequence())

	noEmail := testLead("lead-2")
	noEmail.Email = ""
	f.leads.leads[noEmail.ID] = noEmail

	optedOut := testLead("lead-3")
	optedOut.Unsubscribed = true
	f.leads.leads[optedOut.ID] = optedOut

	inactive := twoStepSequence()
	inactive.ID = "seq-inactive"
	inactive.IsActive = false
	f.store.addDefinition(inactive)

	empty := twoStepSequence()
	empty.ID = "seq-empty"
	empty.Steps = nil
	f.store.addDefinition(empty)

	ctx := context.Background()

	tests := []struct {
		name       string
		sequenceID string
		leadID     string
		wantErr    error
	}{
		{"unknown lead", "seq-1", "lead-missing", crm.ErrLeadNotFound},
		{"missing email", "seq-1", "lead-2", domain.ErrNoRecipientAddress},
		{"unsubscribed lead", "seq-1", "lead-3", domain.ErrLeadUnsubscribed},
		{"unknown sequence", "seq-missing", "lead-1", domain.ErrSequenceNotFound},
		{"inactive sequence", "seq-inactive", "lead-1", domain.ErrSequenceInactive},
		{"empty sequence", "seq-empty", "lead-1", domain.ErrSequenceEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Enroll(ctx, tt.sequenceID, tt.leadID, EnrollOptions{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Empty(t, f.store.enrollments, "failed enrollments must not mutate state")
}

func TestEnrollRejectsDuplicateActive(t *testing.T) {
	f := newFixture(testLead("lead-1"))
	f.store.addDefinition(twoStepSequence())
	ctx := context.Background()

	first, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)
	require.NotNil(t, first.NextEmailAt)
	assert.Equal(t, 0, first.CurrentStep)
	assert.Equal(t, 1, f.store.definitions["seq-1"].TotalEnrolled)

	_, err = f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{})
	assert.ErrorIs(t, err, domain.ErrAlreadyEnrolled)
	assert.Len(t, f.store.enrollments, 1)
	assert.Equal(t, 1, f.store.definitions["seq-1"].TotalEnrolled)

	f.store.checkInvariants(t)
}

func TestProcessSendsFirstStepAndSchedulesNext(t *testing.T) {
	f := newFixture(testLead("lead-1"))
	f.store.addDefinition(twoStepSequence())
	ctx := context.Background()

	enr, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)

	report, err := f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Sent: 1}, report)

	require.Len(t, f.mailer.sent, 1)
	assert.Equal(t, "lead-1@example.com", f.mailer.sent[0].To)
	assert.Equal(t, "Hi Ada", f.mailer.sent[0].Subject)
	assert.Contains(t, f.mailer.sent[0].HTML, "Analytical Engines")
	assert.Equal(t, 1, f.leads.sent["lead-1"])

	got := f.store.enrollments[enr.ID]
	assert.Equal(t, 1, got.CurrentStep)
	assert.Equal(t, domain.EnrollmentActive, got.Status)
	require.NotNil(t, got.LastEmailAt)
	require.NotNil(t, got.NextEmailAt)
	// Second step is 3 days out, normalized to the business window.
	assert.True(t, got.NextEmailAt.After(got.LastEmailAt.Add(48*time.Hour)))

	f.store.checkInvariants(t)
}

func TestProcessSkipsConditionAndCompletesWithoutSecondSend(t *testing.T) {
	f := newFixture(testLead("lead-1"))
	f.store.addDefinition(twoStepSequence())
	ctx := context.Background()

	enr, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)

	_, err = f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, f.mailer.sent, 1)

	// The lead opens the first email before step two comes due.
	f.leads.leads["lead-1"].OpenCount = 2
	lastEmail := *f.store.enrollments[enr.ID].LastEmailAt

	due := *f.store.enrollments[enr.ID].NextEmailAt
	report, err := f.engine.ProcessDueEnrollments(ctx, 10, due)
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Skipped: 1, Completed: 1}, report)

	got := f.store.enrollments[enr.ID]
	assert.Equal(t, domain.EnrollmentCompleted, got.Status)
	assert.Nil(t, got.NextEmailAt)
	require.NotNil(t, got.CompletedAt)
	assert.Len(t, f.mailer.sent, 1, "skip must not send")
	require.NotNil(t, got.LastEmailAt)
	assert.True(t, got.LastEmailAt.Equal(lastEmail), "skip must not move last_email_at")
	assert.Equal(t, 1, f.store.definitions["seq-1"].TotalCompleted)

	f.store.checkInvariants(t)
}

func TestProcessCancelsUnsubscribedLead(t *testing.T) {
	f := newFixture(testLead("lead-1"))
	f.store.addDefinition(twoStepSequence())
	ctx := context.Background()

	enr, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)

	f.leads.leads["lead-1"].Unsubscribed = true

	report, err := f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Cancelled: 1}, report)

	got := f.store.enrollments[enr.ID]
	assert.Equal(t, domain.EnrollmentCancelled, got.Status)
	assert.Equal(t, domain.StopReasonUnsubscribed, got.StopReason.String)
	assert.Empty(t, f.mailer.sent)

	// Terminal: subsequent ticks never touch the row again.
	report, err = f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)

	f.store.checkInvariants(t)
}

func TestProcessPausesOnReply(t *testing.T) {
	f := newFixture(testLead("lead-1"))
	f.store.addDefinition(twoStepSequence())
	ctx := context.Background()

	enr, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)

	_, err = f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC())
	require.NoError(t, err)

	replied := f.store.enrollments[enr.ID].LastEmailAt.Add(time.Hour)
	f.leads.leads["lead-1"].LastRespondedAt = &replied

	due := *f.store.enrollments[enr.ID].NextEmailAt
	report, err := f.engine.ProcessDueEnrollments(ctx, 10, due)
	require.NoError(t, err)
	assert.Equal(t, Report{Processed: 1, Paused: 1}, report)

	got := f.store.enrollments[enr.ID]
	assert.Equal(t, domain.EnrollmentPaused, got.Status)
	assert.Equal(t, domain.StopReasonReplied, got.StopReason.String)
	assert.Len(t, f.mailer.sent, 1)

	// An explicit resume is required to continue.
	require.NoError(t, f.engine.Resume(ctx, enr.ID))
	got = f.store.enrollments[enr.ID]
	assert.Equal(t, domain.EnrollmentActive, got.Status)
	assert.NotNil(t, got.NextEmailAt)

	f.store.checkInvariants(t)
}

func TestProcessSendFailureLeavesEnrollmentForNextTick(t *testing.T) {
	f := newFixture(testLead("lead-1"))
	f.store.addDefinition(twoStepSequence())
	ctx := context.Background()

	enr, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)

	f.mailer.err = errors.New("smtp unavailable")

	before := *f.store.enrollments[enr.ID]
	report, err := f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC())
	require.NoError(t, err, "batch must not abort on a send failure")
	assert.Equal(t, Report{Processed: 1, Failed: 1}, report)

	got := f.store.enrollments[enr.ID]
	assert.Equal(t, before.CurrentStep, got.CurrentStep)
	assert.Equal(t, domain.EnrollmentActive, got.Status)
	require.NotNil(t, got.NextEmailAt)
	assert.True(t, got.NextEmailAt.Equal(*before.NextEmailAt))

	// Sender recovers; the next tick retries the same step.
	f.mailer.err = nil
	report, err = f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)

	f.store.checkInvariants(t)
}

func TestProcessIsolatesPerEnrollmentFailures(t *testing.T) {
	f := newFixture(testLead("lead-1"), testLead("lead-2"))
	f.store.addDefinition(twoStepSequence())
	ctx := context.Background()

	_, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)
	_, err = f.engine.Enroll(ctx, "seq-1", "lead-2", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)

	// lead-1 disappears from the CRM; lead-2 must still be processed.
	delete(f.leads.leads, "lead-1")

	report, err := f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Sent)
}

func TestHandleEngagementEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("replied pauses active enrollments only", func(t *testing.T) {
		f := newFixture(testLead("lead-1"))
		f.store.addDefinition(twoStepSequence())

		enr, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
		require.NoError(t, err)

		require.NoError(t, f.engine.HandleEngagementEvent(ctx, "lead-1", domain.EngagementReplied))
		assert.Equal(t, domain.EnrollmentPaused, f.store.enrollments[enr.ID].Status)
		f.store.checkInvariants(t)
	})

	t.Run("unsubscribed cancels active and paused", func(t *testing.T) {
		f := newFixture(testLead("lead-1"))
		seq2 := twoStepSequence()
		seq2.ID = "seq-2"
		f.store.addDefinition(twoStepSequence())
		f.store.addDefinition(seq2)

		active, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
		require.NoError(t, err)
		paused, err := f.engine.Enroll(ctx, "seq-2", "lead-1", EnrollOptions{StartImmediately: true})
		require.NoError(t, err)
		require.NoError(t, f.engine.Pause(ctx, paused.ID, ""))

		require.NoError(t, f.engine.HandleEngagementEvent(ctx, "lead-1", domain.EngagementUnsubscribed))

		for _, id := range []string{active.ID, paused.ID} {
			got := f.store.enrollments[id]
			assert.Equal(t, domain.EnrollmentCancelled, got.Status)
			assert.Equal(t, domain.StopReasonUnsubscribed, got.StopReason.String)
		}

		// Terminal states never transition further.
		report, err := f.engine.ProcessDueEnrollments(ctx, 10, time.Now().UTC().Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, Report{}, report)
		f.store.checkInvariants(t)
	})

	t.Run("unknown event rejected", func(t *testing.T) {
		f := newFixture(testLead("lead-1"))
		err := f.engine.HandleEngagementEvent(ctx, "lead-1", domain.EngagementEvent("sneezed"))
		require.Error(t, err)
	})
}

func TestPauseResumeCancelTransitions(t *testing.T) {
	f := newFixture(testLead("lead-1"))
	f.store.addDefinition(twoStepSequence())
	ctx := context.Background()

	enr, err := f.engine.Enroll(ctx, "seq-1", "lead-1", EnrollOptions{StartImmediately: true})
	require.NoError(t, err)

	// Resume of an active enrollment is invalid.
	assert.ErrorIs(t, f.engine.Resume(ctx, enr.ID), domain.ErrInvalidTransition)

	require.NoError(t, f.engine.Pause(ctx, enr.ID, ""))
	assert.Equal(t, domain.StopReasonManual, f.store.enrollments[enr.ID].StopReason.String)

	// Pause of a paused enrollment is invalid.
	assert.ErrorIs(t, f.engine.Pause(ctx, enr.ID, ""), domain.ErrInvalidTransition)

	require.NoError(t, f.engine.Cancel(ctx, enr.ID, ""))
	assert.Equal(t, domain.EnrollmentCancelled, f.store.enrollments[enr.ID].Status)

	// Terminal: nothing transitions out.
	assert.ErrorIs(t, f.engine.Resume(ctx, enr.ID), domain.ErrInvalidTransition)
	assert.ErrorIs(t, f.engine.Cancel(ctx, enr.ID, ""), domain.ErrInvalidTransition)
	assert.ErrorIs(t, f.engine.Pause(ctx, enr.ID, ""), domain.ErrInvalidTransition)

	f.store.checkInvariants(t)
}
