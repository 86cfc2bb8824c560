// Package crm provides the thin lead and activity collaborators the
// outreach core reads and annotates. Engagement counters live here; the
// sequence engine consumes them but never owns them.
package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/leadflow/leadflow-backend/shared/postgresql"
)

// ErrLeadNotFound is returned when a lead id does not exist.
var ErrLeadNotFound = errors.New("lead not found")

// Lead is the engagement snapshot the outreach core works with.
type Lead struct {
	ID              string     `db:"lead_id"`
	Email           string     `db:"email"`
	FirstName       string     `db:"first_name"`
	LastName        string     `db:"last_name"`
	Company         string     `db:"company"`
	Unsubscribed    bool       `db:"unsubscribed"`
	OpenCount       int        `db:"open_count"`
	ClickCount      int        `db:"click_count"`
	EmailsSent      int        `db:"emails_sent"`
	LastContactedAt *time.Time `db:"last_contacted_at"`
	LastRespondedAt *time.Time `db:"last_responded_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

const leadColumns = `
	lead_id, email, first_name, last_name, company, unsubscribed,
	open_count, click_count, emails_sent, last_contacted_at,
	last_responded_at, created_at, updated_at`

// LeadStore reads and updates lead engagement state.
type LeadStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewLeadStore creates a LeadStore.
func NewLeadStore(pg *postgresql.Client, logger *slog.Logger) *LeadStore {
	return &LeadStore{
		db:     pg.DB(),
		logger: logger,
	}
}

// Get retrieves a lead by id.
func (s *LeadStore) Get(ctx context.Context, leadID string) (*Lead, error) {
	var lead Lead
	query := `SELECT ` + leadColumns + ` FROM leads WHERE lead_id = $1`

	if err := s.db.GetContext(ctx, &lead, query, leadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

// RecordEmailSent bumps the outbound counter and contact timestamp.
func (s *LeadStore) RecordEmailSent(ctx context.Context, leadID string) error {
	query := `
		UPDATE leads
		SET emails_sent = emails_sent + 1,
		    last_contacted_at = NOW(),
		    updated_at = NOW()
		WHERE lead_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, leadID); err != nil {
		return fmt.Errorf("failed to record email sent: %w", err)
	}
	return nil
}

// RecordOpen increments the lead's aggregate open counter.
func (s *LeadStore) RecordOpen(ctx context.Context, leadID string) error {
	query := `UPDATE leads SET open_count = open_count + 1, updated_at = NOW() WHERE lead_id = $1`
	if _, err := s.db.ExecContext(ctx, query, leadID); err != nil {
		return fmt.Errorf("failed to record open: %w", err)
	}
	return nil
}

// RecordClick increments the lead's aggregate click counter.
func (s *LeadStore) RecordClick(ctx context.Context, leadID string) error {
	query := `UPDATE leads SET click_count = click_count + 1, updated_at = NOW() WHERE lead_id = $1`
	if _, err := s.db.ExecContext(ctx, query, leadID); err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}
	return nil
}

// RecordResponse stamps the last inbound response time.
func (s *LeadStore) RecordResponse(ctx context.Context, leadID string, at time.Time) error {
	query := `UPDATE leads SET last_responded_at = $1, updated_at = NOW() WHERE lead_id = $2`
	if _, err := s.db.ExecContext(ctx, query, at.UTC(), leadID); err != nil {
		return fmt.Errorf("failed to record response: %w", err)
	}
	return nil
}

// MarkUnsubscribed flags the lead as globally opted out.
func (s *LeadStore) MarkUnsubscribed(ctx context.Context, leadID string) error {
	query := `UPDATE leads SET unsubscribed = TRUE, updated_at = NOW() WHERE lead_id = $1`
	if _, err := s.db.ExecContext(ctx, query, leadID); err != nil {
		return fmt.Errorf("failed to mark lead unsubscribed: %w", err)
	}

	s.logger.Info("Lead unsubscribed", slog.String("lead_id", leadID))
	return nil
}
