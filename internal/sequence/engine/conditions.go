package engine

import (
	"github.com/leadflow/leadflow-backend/internal/crm"
	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

// evaluateCondition gates a step against the lead's aggregate
// engagement counters. Unknown conditions send; definitions are
// validated at the API boundary so this only covers drifted data.
func evaluateCondition(c domain.Condition, lead *crm.Lead) bool {
	switch c {
	case domain.ConditionNotOpened:
		return lead.OpenCount == 0
	case domain.ConditionNotClicked:
		return lead.ClickCount == 0
	case domain.ConditionNotReplied:
		return lead.LastRespondedAt == nil
	case domain.ConditionOpened:
		return lead.OpenCount > 0
	case domain.ConditionClicked:
		return lead.ClickCount > 0
	default:
		return true
	}
}
