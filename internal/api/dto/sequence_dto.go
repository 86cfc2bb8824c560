package dto

import (
	"time"

	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
)

// StepRequest is one step inside a sequence create/update.
type StepRequest struct {
	DelayDays    int               `json:"delay_days"`
	Subject      string            `json:"subject" binding:"required"`
	BodyTemplate string            `json:"body_template" binding:"required"`
	Condition    string            `json:"condition"`
	Variables    map[string]string `json:"custom_variables,omitempty"`
}

// SequenceRequest creates or replaces a sequence definition.
type SequenceRequest struct {
	Name        string        `json:"name" binding:"required"`
	Description string        `json:"description"`
	IsActive    *bool         `json:"is_active"`
	Steps       []StepRequest `json:"steps" binding:"required"`
}

// SequenceResponse is the wire shape of one definition.
type SequenceResponse struct {
	SequenceID     string         `json:"sequence_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	IsActive       bool           `json:"is_active"`
	Steps          []StepResponse `json:"steps"`
	TotalEnrolled  int            `json:"total_enrolled"`
	TotalCompleted int            `json:"total_completed"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// StepResponse is one step of a definition.
type StepResponse struct {
	DelayDays    int               `json:"delay_days"`
	Subject      string            `json:"subject"`
	BodyTemplate string            `json:"body_template"`
	Condition    string            `json:"condition"`
	Variables    map[string]string `json:"custom_variables,omitempty"`
}

// EnrollRequest enrolls one lead.
type EnrollRequest struct {
	LeadID           string `json:"lead_id" binding:"required"`
	StartImmediately bool   `json:"start_immediately"`
}

// BulkEnrollRequest enrolls many leads into one sequence.
type BulkEnrollRequest struct {
	LeadIDs          []string `json:"lead_ids" binding:"required"`
	StartImmediately bool     `json:"start_immediately"`
}

// BulkEnrollResponse reports per-lead outcomes.
type BulkEnrollResponse struct {
	Enrolled []EnrollmentResponse `json:"enrolled"`
	Failed   map[string]string    `json:"failed,omitempty"`
}

// EnrollmentResponse is the wire shape of one enrollment.
type EnrollmentResponse struct {
	EnrollmentID string     `json:"enrollment_id"`
	SequenceID   string     `json:"sequence_id"`
	LeadID       string     `json:"lead_id"`
	CurrentStep  int        `json:"current_step"`
	Status       string     `json:"status"`
	NextEmailAt  *time.Time `json:"next_email_at,omitempty"`
	LastEmailAt  *time.Time `json:"last_email_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	StopReason   string     `json:"stop_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// PauseEnrollmentRequest optionally records why.
type PauseEnrollmentRequest struct {
	Reason string `json:"reason"`
}

// WebhookEventRequest is one inbound email-provider event.
type WebhookEventRequest struct {
	LeadID     string     `json:"lead_id" binding:"required"`
	Event      string     `json:"event" binding:"required"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// Steps converts request steps into domain steps.
func (r *SequenceRequest) DomainSteps() []domain.Step {
	steps := make([]domain.Step, len(r.Steps))
	for i, s := range r.Steps {
		condition := domain.Condition(s.Condition)
		if s.Condition == "" {
			condition = domain.ConditionAlways
		}
		steps[i] = domain.Step{
			DelayDays:    s.DelayDays,
			Subject:      s.Subject,
			BodyTemplate: s.BodyTemplate,
			Condition:    condition,
			Variables:    s.Variables,
		}
	}
	return steps
}

// FromDefinition converts a domain definition.
func FromDefinition(def *domain.Definition) SequenceResponse {
	steps := make([]StepResponse, len(def.Steps))
	for i, s := range def.Steps {
		steps[i] = StepResponse{
			DelayDays:    s.DelayDays,
			Subject:      s.Subject,
			BodyTemplate: s.BodyTemplate,
			Condition:    string(s.Condition),
			Variables:    s.Variables,
		}
	}
	return SequenceResponse{
		SequenceID:     def.ID,
		Name:           def.Name,
		Description:    def.Description,
		IsActive:       def.IsActive,
		Steps:          steps,
		TotalEnrolled:  def.TotalEnrolled,
		TotalCompleted: def.TotalCompleted,
		CreatedAt:      def.CreatedAt,
		UpdatedAt:      def.UpdatedAt,
	}
}

// FromEnrollment converts a domain enrollment.
func FromEnrollment(enr *domain.Enrollment) EnrollmentResponse {
	resp := EnrollmentResponse{
		EnrollmentID: enr.ID,
		SequenceID:   enr.SequenceID,
		LeadID:       enr.LeadID,
		CurrentStep:  enr.CurrentStep,
		Status:       string(enr.Status),
		NextEmailAt:  enr.NextEmailAt,
		LastEmailAt:  enr.LastEmailAt,
		CompletedAt:  enr.CompletedAt,
		CreatedAt:    enr.CreatedAt,
	}
	if enr.StopReason.Valid {
		resp.StopReason = enr.StopReason.String
	}
	return resp
}

// FromEnrollments converts a list of enrollments.
func FromEnrollments(enrollments []domain.Enrollment) []EnrollmentResponse {
	out := make([]EnrollmentResponse, len(enrollments))
	for i := range enrollments {
		out[i] = FromEnrollment(&enrollments[i])
	}
	return out
}
