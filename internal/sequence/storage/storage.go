// Package storage persists sequence definitions and enrollments in
// PostgreSQL. Enrollment updates are conditional on the prior status so
// that concurrent workers never overwrite each other's transitions.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/leadflow/leadflow-backend/internal/sequence/domain"
	"github.com/leadflow/leadflow-backend/shared/postgresql"
)

const definitionColumns = `
	sequence_id, name, description, is_active, steps, total_enrolled,
	total_completed, created_at, updated_at`

// Storage handles all database operations for sequences.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance.
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.DB(),
		logger: logger,
	}
}

type definitionRow struct {
	domain.Definition
	StepsRaw types.JSONText `db:"steps"`
}

func (r *definitionRow) unpack() (*domain.Definition, error) {
	def := r.Definition
	if err := json.Unmarshal(r.StepsRaw, &def.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode sequence steps: %w", err)
	}
	return &def, nil
}

// CreateDefinition stores a new sequence. The id and timestamps are
// assigned here.
func (s *Storage) CreateDefinition(ctx context.Context, def *domain.Definition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode sequence steps: %w", err)
	}

	now := time.Now().UTC()
	def.ID = uuid.New().String()
	def.CreatedAt = now
	def.UpdatedAt = now

	query := `
		INSERT INTO email_sequences (
			sequence_id, name, description, is_active, steps,
			total_enrolled, total_completed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $6)
	`
	if _, err := s.db.ExecContext(ctx, query, def.ID, def.Name, def.Description, def.IsActive, steps, now); err != nil {
		return fmt.Errorf("failed to create sequence: %w", err)
	}

	s.logger.Info("Sequence created",
		slog.String("sequence_id", def.ID),
		slog.String("name", def.Name),
		slog.Int("steps", len(def.Steps)),
	)
	return nil
}

// GetDefinition retrieves a sequence by id.
func (s *Storage) GetDefinition(ctx context.Context, sequenceID string) (*domain.Definition, error) {
	var row definitionRow
	query := `SELECT ` + definitionColumns + ` FROM email_sequences WHERE sequence_id = $1`

	if err := s.db.GetContext(ctx, &row, query, sequenceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSequenceNotFound
		}
		return nil, fmt.Errorf("failed to get sequence: %w", err)
	}
	return row.unpack()
}

// ListDefinitions returns every sequence, newest first.
func (s *Storage) ListDefinitions(ctx context.Context) ([]domain.Definition, error) {
	var rows []definitionRow
	query := `SELECT ` + definitionColumns + ` FROM email_sequences ORDER BY created_at DESC`

	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}

	defs := make([]domain.Definition, 0, len(rows))
	for i := range rows {
		def, err := rows[i].unpack()
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// UpdateDefinition rewrites name, description, active flag, and steps.
func (s *Storage) UpdateDefinition(ctx context.Context, def *domain.Definition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode sequence steps: %w", err)
	}

	query := `
		UPDATE email_sequences
		SET name = $1,
		    description = $2,
		    is_active = $3,
		    steps = $4,
		    updated_at = NOW()
		WHERE sequence_id = $5
	`
	res, err := s.db.ExecContext(ctx, query, def.Name, def.Description, def.IsActive, steps, def.ID)
	if err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrSequenceNotFound
	}
	return nil
}

// DeleteDefinition removes a sequence that has no live enrollments.
func (s *Storage) DeleteDefinition(ctx context.Context, sequenceID string) error {
	var live int
	countQuery := `
		SELECT COUNT(*) FROM sequence_enrollments
		WHERE sequence_id = $1 AND status IN ($2, $3)
	`
	if err := s.db.GetContext(ctx, &live, countQuery, sequenceID, domain.EnrollmentActive, domain.EnrollmentPaused); err != nil {
		return fmt.Errorf("failed to count live enrollments: %w", err)
	}
	if live > 0 {
		return fmt.Errorf("%w: sequence has %d live enrollments", domain.ErrInvalidTransition, live)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM email_sequences WHERE sequence_id = $1`, sequenceID)
	if err != nil {
		return fmt.Errorf("failed to delete sequence: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrSequenceNotFound
	}

	s.logger.Info("Sequence deleted", slog.String("sequence_id", sequenceID))
	return nil
}
