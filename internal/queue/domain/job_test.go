package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	open := []Status{StatusPending, StatusRunning, StatusScheduled}
	for _, s := range open {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestTypeValid(t *testing.T) {
	for _, typ := range Types() {
		assert.True(t, typ.Valid())
	}
	assert.False(t, Type("").Valid())
	assert.False(t, Type("mine_bitcoin").Valid())
}

func TestFailureStatus(t *testing.T) {
	tests := []struct {
		name        string
		attempts    int
		maxAttempts int
		wantRequeue bool
		wantStatus  Status
	}{
		{
			name:        "first attempt failed",
			attempts:    1,
			maxAttempts: 3,
			wantRequeue: true,
			wantStatus:  StatusPending,
		},
		{
			name:        "one attempt left",
			attempts:    2,
			maxAttempts: 3,
			wantRequeue: true,
			wantStatus:  StatusPending,
		},
		{
			// A job abandoned mid-run on its final attempt must go
			// terminal, not pending: requeueing it would make the next
			// claim push attempts past max_attempts.
			name:        "budget exhausted",
			attempts:    3,
			maxAttempts: 3,
			wantRequeue: false,
			wantStatus:  StatusFailed,
		},
		{
			name:        "single-attempt job",
			attempts:    1,
			maxAttempts: 1,
			wantRequeue: false,
			wantStatus:  StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{Attempts: tt.attempts, MaxAttempts: tt.maxAttempts}
			assert.Equal(t, tt.wantRequeue, job.RetryBudgetLeft())
			assert.Equal(t, tt.wantStatus, job.FailureStatus())
		})
	}
}

func TestRetryBudgetLifecycle(t *testing.T) {
	// A job that fails every attempt walks pending -> running -> pending
	// until the budget is spent, then lands in failed.
	job := &Job{Status: StatusPending, MaxAttempts: DefaultMaxAttempts}

	for job.Status == StatusPending {
		assert.True(t, job.RetryBudgetLeft(), "a pending job must have budget for the claim")
		job.Attempts++
		job.Status = StatusRunning
		assert.LessOrEqual(t, job.Attempts, job.MaxAttempts)

		job.Status = job.FailureStatus()
	}

	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, DefaultMaxAttempts, job.Attempts)

	// Manual retry grants a fresh budget and makes the job claimable
	// again.
	job.Status = StatusPending
	job.Attempts = 0
	assert.True(t, job.RetryBudgetLeft())
	assert.Equal(t, StatusPending, job.FailureStatus())
}

func TestArchivesToDeadLetter(t *testing.T) {
	assert.True(t, TypeSendEmail.ArchivesToDeadLetter())
	assert.True(t, TypeGenerateProposal.ArchivesToDeadLetter())
	assert.True(t, TypeProcessWebhook.ArchivesToDeadLetter())
	assert.False(t, TypeScore.ArchivesToDeadLetter())
	assert.False(t, TypeDiscover.ArchivesToDeadLetter())
}
