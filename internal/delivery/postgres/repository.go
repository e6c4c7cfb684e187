// Package postgres provides the PostgreSQL implementation of the delivery
// log repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaybird/relaybird/internal/delivery"
)

// Repository implements delivery.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const logColumns = `id, queue_item_id, schedule_id, destination_id, status,
	transport_message_id, error_message, content_text, media_refs,
	responded_at, created_at, sent_at`

func scanLog(row pgx.Row, l *delivery.Log) error {
	return row.Scan(
		&l.ID,
		&l.QueueItemID,
		&l.ScheduleID,
		&l.DestinationID,
		&l.Status,
		&l.TransportMessageID,
		&l.ErrorMessage,
		&l.ContentText,
		&l.MediaRefs,
		&l.RespondedAt,
		&l.CreatedAt,
		&l.SentAt,
	)
}

// Create inserts a new delivery log record.
func (r *Repository) Create(ctx context.Context, l *delivery.Log) error {
	query := `
		INSERT INTO delivery_logs (queue_item_id, schedule_id, destination_id, status,
			transport_message_id, error_message, content_text, media_refs, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		l.QueueItemID,
		l.ScheduleID,
		l.DestinationID,
		l.Status,
		l.TransportMessageID,
		l.ErrorMessage,
		l.ContentText,
		l.MediaRefs,
		l.SentAt,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create delivery log: %w", err)
	}
	return nil
}

// GetByID retrieves a delivery log record by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*delivery.Log, error) {
	query := `SELECT ` + logColumns + ` FROM delivery_logs WHERE id = $1`

	var l delivery.Log
	if err := scanLog(r.db.QueryRow(ctx, query, id), &l); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrLogNotFound
		}
		return nil, fmt.Errorf("get delivery log: %w", err)
	}
	return &l, nil
}

// List returns delivery log records matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, filter delivery.Filter) ([]delivery.Log, int, error) {
	where := " WHERE 1=1"
	args := make([]any, 0, 6)

	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.DestinationID != "" {
		args = append(args, filter.DestinationID)
		where += fmt.Sprintf(" AND destination_id = $%d", len(args))
	}
	if filter.ScheduleID != "" {
		args = append(args, filter.ScheduleID)
		where += fmt.Sprintf(" AND schedule_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM delivery_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count delivery logs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := `SELECT ` + logColumns + ` FROM delivery_logs` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	logs := make([]delivery.Log, 0)
	for rows.Next() {
		var l delivery.Log
		if err := scanLog(rows, &l); err != nil {
			return nil, 0, fmt.Errorf("scan delivery log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, total, nil
}

// UpgradeStatus applies a forward-only status upgrade keyed by transport
// message id. The status chain guard lives in the WHERE clause so concurrent
// receipts can never move a record backwards.
func (r *Repository) UpgradeStatus(ctx context.Context, transportMessageID string, status delivery.Status) error {
	var rank int
	switch status {
	case delivery.StatusDelivered:
		rank = 2
	case delivery.StatusRead:
		rank = 3
	default:
		return delivery.ErrNoForwardUpgrade
	}

	query := `
		UPDATE delivery_logs
		SET status = $2
		WHERE transport_message_id = $1
		  AND CASE status
		        WHEN 'sent' THEN 1
		        WHEN 'delivered' THEN 2
		        WHEN 'read' THEN 3
		        ELSE 0
		      END BETWEEN 1 AND $3 - 1
	`
	result, err := r.db.Exec(ctx, query, transportMessageID, status, rank)
	if err != nil {
		return fmt.Errorf("upgrade delivery status: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM delivery_logs WHERE transport_message_id = $1)`,
			transportMessageID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check delivery log existence: %w", err)
		}
		if !exists {
			return delivery.ErrLogNotFound
		}
		return delivery.ErrNoForwardUpgrade
	}
	return nil
}

// MarkResponded stamps the most recent successfully sent record for the
// destination with the reply time.
func (r *Repository) MarkResponded(ctx context.Context, destinationID string, at time.Time) error {
	query := `
		UPDATE delivery_logs
		SET responded_at = $2
		WHERE id = (
			SELECT id FROM delivery_logs
			WHERE destination_id = $1
			  AND status IN ('sent', 'delivered', 'read')
			  AND responded_at IS NULL
			ORDER BY created_at DESC
			LIMIT 1
		)
	`
	result, err := r.db.Exec(ctx, query, destinationID, at)
	if err != nil {
		return fmt.Errorf("mark responded: %w", err)
	}
	if result.RowsAffected() == 0 {
		return delivery.ErrLogNotFound
	}
	return nil
}

// RecentSends returns successfully sent records for dedup comparison,
// newest first.
func (r *Repository) RecentSends(ctx context.Context, destinationID string, since time.Time, limit int) ([]delivery.Log, error) {
	query := `SELECT ` + logColumns + `
		FROM delivery_logs
		WHERE destination_id = $1
		  AND status IN ('sent', 'delivered', 'read')
		  AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, destinationID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sends: %w", err)
	}
	defer rows.Close()

	logs := make([]delivery.Log, 0, limit)
	for rows.Next() {
		var l delivery.Log
		if err := scanLog(rows, &l); err != nil {
			return nil, fmt.Errorf("scan recent send: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// ListSince returns all records created in the window, oldest first.
func (r *Repository) ListSince(ctx context.Context, since time.Time) ([]delivery.Log, error) {
	query := `SELECT ` + logColumns + `
		FROM delivery_logs
		WHERE created_at >= $1
		ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs since: %w", err)
	}
	defer rows.Close()

	logs := make([]delivery.Log, 0)
	for rows.Next() {
		var l delivery.Log
		if err := scanLog(rows, &l); err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}
