package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leadflow/leadflow-backend/internal/crm"
	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

func TestEvaluateCondition(t *testing.T) {
	respondedAt := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	cold := &crm.Lead{}
	engaged := &crm.Lead{OpenCount: 3, ClickCount: 1, LastRespondedAt: &respondedAt}

	tests := []struct {
		condition domain.Condition
		lead      *crm.Lead
		want      bool
	}{
		{domain.ConditionAlways, cold, true},
		{domain.ConditionAlways, engaged, true},
		{domain.ConditionNotOpened, cold, true},
		{domain.ConditionNotOpened, engaged, false},
		{domain.ConditionNotClicked, cold, true},
		{domain.ConditionNotClicked, engaged, false},
		{domain.ConditionNotReplied, cold, true},
		{domain.ConditionNotReplied, engaged, false},
		{domain.ConditionOpened, cold, false},
		{domain.ConditionOpened, engaged, true},
		{domain.ConditionClicked, cold, false},
		{domain.ConditionClicked, engaged, true},
		// Drifted data falls back to sending.
		{domain.Condition("phase_of_moon"), cold, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.condition), func(t *testing.T) {
			assert.Equal(t, tt.want, evaluateCondition(tt.condition, tt.lead))
		})
	}
}

func TestConditionValid(t *testing.T) {
	valid := []domain.Condition{
		domain.ConditionAlways, domain.ConditionNotOpened, domain.ConditionNotClicked,
		domain.ConditionNotReplied, domain.ConditionOpened, domain.ConditionClicked,
	}
	for _, c := range valid {
		assert.True(t, c.Valid(), "%s", c)
	}
	assert.False(t, domain.Condition("").Valid())
	assert.False(t, domain.Condition("phase_of_moon").Valid())
}
