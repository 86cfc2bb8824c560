package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadflow/leadflow-backend/internal/crm"
	"github.com/leadflow/leadflow-backend/internal/platform"
	"github.com/leadflow/leadflow-backend/internal/queue/domain"
	"github.com/leadflow/leadflow-backend/internal/queue/executor"
	seqdomain "github.com/leadflow/leadflow-backend/internal/sequence/domain"
	"github.com/leadflow/leadflow-backend/internal/sequence/engine"
)

// LeadStore is the slice of crm.LeadStore the handlers need.
type LeadStore interface {
	Get(ctx context.Context, leadID string) (*crm.Lead, error)
	RecordEmailSent(ctx context.Context, leadID string) error
	RecordOpen(ctx context.Context, leadID string) error
	RecordClick(ctx context.Context, leadID string) error
	RecordResponse(ctx context.Context, leadID string, at time.Time) error
	MarkUnsubscribed(ctx context.Context, leadID string) error
}

// EmailSender sends one rendered email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error)
}

// Enroller starts and reacts to sequence enrollments. Implemented by
// sequence/engine.
type Enroller interface {
	Enroll(ctx context.Context, sequenceID, leadID string, opts engine.EnrollOptions) (*seqdomain.Enrollment, error)
	HandleEngagementEvent(ctx context.Context, leadID string, event seqdomain.EngagementEvent) error
}

// SendEmailHandler delivers a one-off email to a lead.
type SendEmailHandler struct {
	leads  LeadStore
	mailer EmailSender
}

func NewSendEmailHandler(leads LeadStore, mailer EmailSender) *SendEmailHandler {
	return &SendEmailHandler{leads: leads, mailer: mailer}
}

func (h *SendEmailHandler) Type() domain.Type { return domain.TypeSendEmail }

type sendEmailPayload struct {
	LeadID   string `json:"lead_id"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	BodyText string `json:"body_text"`
}

type sendEmailResult struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
}

func (h *SendEmailHandler) Execute(ctx context.Context, job *domain.Job) ([]byte, error) {
	var payload sendEmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if payload.LeadID == "" || payload.Subject == "" {
		return nil, fmt.Errorf("%w: lead_id and subject are required", domain.ErrInvalidPayload)
	}

	lead, err := h.leads.Get(ctx, payload.LeadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}
	if lead.Unsubscribed {
		return nil, seqdomain.ErrLeadUnsubscribed
	}
	if lead.Email == "" {
		return nil, seqdomain.ErrNoRecipientAddress
	}

	messageID, err := h.mailer.Send(ctx, lead.Email, payload.Subject, payload.BodyHTML, payload.BodyText)
	if err != nil {
		return nil, fmt.Errorf("failed to send email: %w", err)
	}
	if err := h.leads.RecordEmailSent(ctx, lead.ID); err != nil {
		return nil, fmt.Errorf("email sent but lead counters not updated: %w", err)
	}
	return json.Marshal(sendEmailResult{MessageID: messageID, To: lead.Email})
}

// FollowupHandler enrolls a lead into a sequence. An already-active
// enrollment is treated as success so re-delivered jobs stay
// idempotent.
type FollowupHandler struct {
	enroller Enroller
}

func NewFollowupHandler(enroller Enroller) *FollowupHandler {
	return &FollowupHandler{enroller: enroller}
}

func (h *FollowupHandler) Type() domain.Type { return domain.TypeFollowup }

type followupPayload struct {
	SequenceID       string `json:"sequence_id"`
	LeadID           string `json:"lead_id"`
	StartImmediately bool   `json:"start_immediately"`
}

func (h *FollowupHandler) Execute(ctx context.Context, job *domain.Job) ([]byte, error) {
	var payload followupPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if payload.SequenceID == "" || payload.LeadID == "" {
		return nil, fmt.Errorf("%w: sequence_id and lead_id are required", domain.ErrInvalidPayload)
	}

	enrollment, err := h.enroller.Enroll(ctx, payload.SequenceID, payload.LeadID, engine.EnrollOptions{
		StartImmediately: payload.StartImmediately,
	})
	if err != nil {
		if errors.Is(err, seqdomain.ErrAlreadyEnrolled) {
			return json.Marshal(map[string]string{"outcome": "already_enrolled"})
		}
		return nil, err
	}
	return json.Marshal(map[string]string{
		"outcome":       "enrolled",
		"enrollment_id": enrollment.ID,
	})
}

// ProcessWebhookHandler applies an engagement event from an email
// provider webhook to the lead record and the sequence engine.
type ProcessWebhookHandler struct {
	leads    LeadStore
	enroller Enroller
	logger   *slog.Logger
}

func NewProcessWebhookHandler(leads LeadStore, enroller Enroller, logger *slog.Logger) *ProcessWebhookHandler {
	return &ProcessWebhookHandler{leads: leads, enroller: enroller, logger: logger}
}

func (h *ProcessWebhookHandler) Type() domain.Type { return domain.TypeProcessWebhook }

type webhookPayload struct {
	LeadID     string     `json:"lead_id"`
	Event      string     `json:"event"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

func (h *ProcessWebhookHandler) Execute(ctx context.Context, job *domain.Job) ([]byte, error) {
	var payload webhookPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if payload.LeadID == "" || payload.Event == "" {
		return nil, fmt.Errorf("%w: lead_id and event are required", domain.ErrInvalidPayload)
	}
	occurredAt := time.Now().UTC()
	if payload.OccurredAt != nil {
		occurredAt = *payload.OccurredAt
	}

	switch payload.Event {
	case "opened":
		if err := h.leads.RecordOpen(ctx, payload.LeadID); err != nil {
			return nil, err
		}
	case "clicked":
		if err := h.leads.RecordClick(ctx, payload.LeadID); err != nil {
			return nil, err
		}
	case "replied":
		if err := h.leads.RecordResponse(ctx, payload.LeadID, occurredAt); err != nil {
			return nil, err
		}
		if err := h.enroller.HandleEngagementEvent(ctx, payload.LeadID, seqdomain.EngagementReplied); err != nil {
			return nil, err
		}
	case "bounced":
		if err := h.enroller.HandleEngagementEvent(ctx, payload.LeadID, seqdomain.EngagementBounced); err != nil {
			return nil, err
		}
	case "unsubscribed":
		if err := h.leads.MarkUnsubscribed(ctx, payload.LeadID); err != nil {
			return nil, err
		}
		if err := h.enroller.HandleEngagementEvent(ctx, payload.LeadID, seqdomain.EngagementUnsubscribed); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown event %q", domain.ErrInvalidPayload, payload.Event)
	}

	return json.Marshal(map[string]string{"event": payload.Event, "lead_id": payload.LeadID})
}

// platformHandler forwards a job's payload to one pipeline operation
// on the platform service and stores the response as the result.
type platformHandler struct {
	jobType   domain.Type
	operation string
	client    *platform.Client
}

func (h *platformHandler) Type() domain.Type { return h.jobType }

func (h *platformHandler) Execute(ctx context.Context, job *domain.Job) ([]byte, error) {
	result, err := h.client.Run(ctx, h.operation, job.Payload)
	if err != nil {
		return nil, fmt.Errorf("platform operation %s failed: %w", h.operation, err)
	}
	return result, nil
}

// PlatformHandlers builds one handler per pipeline-backed job type.
func PlatformHandlers(client *platform.Client) []executor.Handler {
	ops := map[domain.Type]string{
		domain.TypeAnalyzeWebsite:   "analyze-website",
		domain.TypeGenerateProposal: "generate-proposal",
		domain.TypeDiscover:         "discover",
		domain.TypeCapture:          "capture",
		domain.TypeGenerate:         "generate",
		domain.TypeDeploy:           "deploy",
		domain.TypeScore:            "score",
	}
	handlers := make([]executor.Handler, 0, len(ops))
	for jobType, op := range ops {
		handlers = append(handlers, &platformHandler{jobType: jobType, operation: op, client: client})
	}
	return handlers
}
