package engine

import (
	"context"

	"github.com/leadflow/leadflow-backend/internal/crm"
)

// LeadStore is the engine's read/annotate view of the CRM. Engagement
// counters are read here; the engine never owns them.
type LeadStore interface {
	Get(ctx context.Context, leadID string) (*crm.Lead, error)
	RecordEmailSent(ctx context.Context, leadID string) error
}

// EmailSender delivers one rendered email and returns the provider
// message id. Implementations enforce their own outbound quotas.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html, text string) (string, error)
}

// ActivityLogger records audit events. Fire-and-forget: implementations
// must not fail the calling workflow.
type ActivityLogger interface {
	Log(ctx context.Context, entityType, entityID, event, detail string)
}
