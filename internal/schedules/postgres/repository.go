// Package postgres provides the PostgreSQL implementation of the schedules
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaybird/relaybird/internal/domain"
	"github.com/relaybird/relaybird/internal/schedules"
)

// Repository implements schedules.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const scheduleColumns = `id, name, trigger_mode, cron_expr, batch_times,
	timezone, source_ref, destination_ids, template_ref, active,
	created_at, updated_at`

func scanSchedule(row pgx.Row, s *domain.Schedule) error {
	return row.Scan(
		&s.ID,
		&s.Name,
		&s.TriggerMode,
		&s.CronExpr,
		&s.BatchTimes,
		&s.Timezone,
		&s.SourceRef,
		&s.DestinationIDs,
		&s.TemplateRef,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
}

// Create inserts a new schedule.
func (r *Repository) Create(ctx context.Context, s *domain.Schedule) error {
	query := `
		INSERT INTO schedules (name, trigger_mode, cron_expr, batch_times,
			timezone, source_ref, destination_ids, template_ref, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		s.Name,
		s.TriggerMode,
		s.CronExpr,
		s.BatchTimes,
		s.Timezone,
		s.SourceRef,
		s.DestinationIDs,
		s.TemplateRef,
		s.Active,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

// GetByID retrieves a schedule by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	var s domain.Schedule
	if err := scanSchedule(r.db.QueryRow(ctx, query, id), &s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, schedules.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return &s, nil
}

// List retrieves schedules matching the filter with the total count.
func (r *Repository) List(ctx context.Context, filter schedules.Filter) ([]domain.Schedule, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argn := 1

	if filter.Active != nil {
		where += fmt.Sprintf(" AND active = $%d", argn)
		args = append(args, *filter.Active)
		argn++
	}
	if filter.TriggerMode != "" {
		where += fmt.Sprintf(" AND trigger_mode = $%d", argn)
		args = append(args, filter.TriggerMode)
		argn++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM schedules"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	query := "SELECT " + scheduleColumns + " FROM schedules" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argn, argn+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Schedule, 0)
	for rows.Next() {
		var s domain.Schedule
		if err := scanSchedule(rows, &s); err != nil {
			return nil, 0, fmt.Errorf("scan schedule: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate schedules: %w", err)
	}
	return items, total, nil
}

// ListActive retrieves all active schedules ordered by creation time.
func (r *Repository) ListActive(ctx context.Context) ([]domain.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE active = true ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Schedule, 0)
	for rows.Next() {
		var s domain.Schedule
		if err := scanSchedule(rows, &s); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return items, nil
}

// Update stores all mutable schedule fields.
func (r *Repository) Update(ctx context.Context, s *domain.Schedule) error {
	query := `
		UPDATE schedules
		SET name = $2, trigger_mode = $3, cron_expr = $4, batch_times = $5,
			timezone = $6, source_ref = $7, destination_ids = $8,
			template_ref = $9, active = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := r.db.QueryRow(ctx, query,
		s.ID,
		s.Name,
		s.TriggerMode,
		s.CronExpr,
		s.BatchTimes,
		s.Timezone,
		s.SourceRef,
		s.DestinationIDs,
		s.TemplateRef,
		s.Active,
	).Scan(&s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schedules.ErrScheduleNotFound
		}
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// Delete removes a schedule. Queue items keep running with a detached
// schedule reference (FK is ON DELETE SET NULL).
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return schedules.ErrScheduleNotFound
	}
	return nil
}
