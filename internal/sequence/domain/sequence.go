// Package domain defines campaign sequences and per-lead enrollments.
package domain

import "time"

// Condition gates whether a step sends, evaluated against the lead's
// engagement counters at processing time.
type Condition string

const (
	ConditionAlways     Condition = "always"
	ConditionNotOpened  Condition = "not_opened"
	ConditionNotClicked Condition = "not_clicked"
	ConditionNotReplied Condition = "not_replied"
	ConditionOpened     Condition = "opened"
	ConditionClicked    Condition = "clicked"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionAlways, ConditionNotOpened, ConditionNotClicked,
		ConditionNotReplied, ConditionOpened, ConditionClicked:
		return true
	}
	return false
}

// Step is one timed, conditionally gated email within a sequence.
type Step struct {
	DelayDays    int               `json:"delay_days"`
	Subject      string            `json:"subject"`
	BodyTemplate string            `json:"body_template"`
	Condition    Condition         `json:"condition"`
	Variables    map[string]string `json:"custom_variables,omitempty"`
}

// Definition is a reusable multi-step campaign.
type Definition struct {
	ID             string    `db:"sequence_id"`
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	IsActive       bool      `db:"is_active"`
	Steps          []Step    `db:"-"`
	TotalEnrolled  int       `db:"total_enrolled"`
	TotalCompleted int       `db:"total_completed"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}
