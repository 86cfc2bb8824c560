package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadflow/leadflow-backend/internal/queue/domain"
)

// Filter narrows and pages a job listing.
type Filter struct {
	Status    domain.Status
	Type      domain.Type
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Sortable columns exposed to the control surface, keyed by API name.
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"priority":  "priority",
	"status":    "status",
	"type":      "job_type",
}

// List returns one page of jobs matching the filter plus the total
// number of matching rows.
func (s *Storage) List(ctx context.Context, filter Filter) ([]domain.Job, int, error) {
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	where := []string{"1=1"}
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Type != "" {
		where = append(where, fmt.Sprintf("job_type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM jobs WHERE ` + whereClause
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}

	query := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY %s %s, job_id ASC LIMIT $%d OFFSET $%d`,
		jobColumns, whereClause, column, order, argIdx, argIdx+1,
	)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, total, nil
}

// Stats returns queue-wide counts grouped by status and by type.
func (s *Storage) Stats(ctx context.Context) (*domain.QueueStats, error) {
	stats := &domain.QueueStats{
		ByStatus: make(map[domain.Status]int),
		ByType:   make(map[domain.Type]int),
	}

	type row struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	var byStatus []row
	if err := s.db.SelectContext(ctx, &byStatus, `SELECT status AS key, COUNT(*) AS count FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	for _, r := range byStatus {
		stats.ByStatus[domain.Status(r.Key)] = r.Count
		stats.Total += r.Count
	}

	var byType []row
	if err := s.db.SelectContext(ctx, &byType, `SELECT job_type AS key, COUNT(*) AS count FROM jobs GROUP BY job_type`); err != nil {
		return nil, fmt.Errorf("failed to count jobs by type: %w", err)
	}
	for _, r := range byType {
		stats.ByType[domain.Type(r.Key)] = r.Count
	}

	return stats, nil
}

// Clear removes all jobs with the given terminal status and returns the
// exact count removed. Non-terminal statuses are rejected.
func (s *Storage) Clear(ctx context.Context, status domain.Status) (int64, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("%w: cannot clear non-terminal status %q", domain.ErrInvalidTransition, status)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE status = $1`, status)
	if err != nil {
		return 0, fmt.Errorf("failed to clear jobs: %w", err)
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info("Jobs cleared",
		slog.String("status", string(status)),
		slog.Int64("count", count),
	)
	return count, nil
}
