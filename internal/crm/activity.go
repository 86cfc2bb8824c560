package crm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/leadflow/leadflow-backend/shared/postgresql"
)

// Activity is one audit-trail entry tied to an entity (job, enrollment,
// lead).
type Activity struct {
	ID         string    `db:"activity_id"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	Event      string    `db:"event"`
	Detail     string    `db:"detail"`
	CreatedAt  time.Time `db:"created_at"`
}

// ActivityLog is a write-mostly audit trail. Writes are fire-and-forget
// from the caller's perspective; a failed insert is logged, never
// propagated into the calling workflow.
type ActivityLog struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewActivityLog creates an ActivityLog.
func NewActivityLog(pg *postgresql.Client, logger *slog.Logger) *ActivityLog {
	return &ActivityLog{
		db:     pg.DB(),
		logger: logger,
	}
}

// Log records an audit entry.
func (l *ActivityLog) Log(ctx context.Context, entityType, entityID, event, detail string) {
	query := `
		INSERT INTO activities (activity_id, entity_type, entity_id, event, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	if _, err := l.db.ExecContext(ctx, query, uuid.New().String(), entityType, entityID, event, detail); err != nil {
		l.logger.Warn("Failed to write activity entry",
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// ListByEntity returns the most recent entries for one entity.
func (l *ActivityLog) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT activity_id, entity_type, entity_id, event, detail, created_at
		FROM activities
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	var entries []Activity
	if err := l.db.SelectContext(ctx, &entries, query, entityType, entityID, limit); err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return entries, nil
}
