// Package postgres provides the PostgreSQL implementation of the queue
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaybird/relaybird/internal/queue"
)

// Repository implements queue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const itemColumns = `id, schedule_id, content_item_id, destination_id,
	content_text, media_refs, status, retry_count, scheduled_for,
	next_attempt_at, error_message, created_at, updated_at, sent_at`

func scanItem(row pgx.Row, it *queue.Item) error {
	return row.Scan(
		&it.ID,
		&it.ScheduleID,
		&it.ContentItemID,
		&it.DestinationID,
		&it.ContentText,
		&it.MediaRefs,
		&it.Status,
		&it.RetryCount,
		&it.ScheduledFor,
		&it.NextAttemptAt,
		&it.ErrorMessage,
		&it.CreatedAt,
		&it.UpdatedAt,
		&it.SentAt,
	)
}

// Create inserts a new queue item. A unique-index violation on the
// (schedule, content item, destination) triple maps to ErrDuplicateItem.
func (r *Repository) Create(ctx context.Context, it *queue.Item) error {
	query := `
		INSERT INTO queue_items (schedule_id, content_item_id, destination_id,
			content_text, media_refs, status, scheduled_for, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		it.ScheduleID,
		it.ContentItemID,
		it.DestinationID,
		it.ContentText,
		it.MediaRefs,
		it.Status,
		it.ScheduledFor,
		it.NextAttemptAt,
	).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return queue.ErrDuplicateItem
		}
		return fmt.Errorf("create queue item: %w", err)
	}
	return nil
}

// GetByID retrieves a queue item by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*queue.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items WHERE id = $1`

	var it queue.Item
	if err := scanItem(r.db.QueryRow(ctx, query, id), &it); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return &it, nil
}

// List returns queue items matching the filter plus the total count.
func (r *Repository) List(ctx context.Context, filter queue.Filter) ([]queue.Item, int, error) {
	where := " WHERE 1=1"
	args := make([]any, 0, 4)

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

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM queue_items"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count queue items: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := `SELECT ` + itemColumns + ` FROM queue_items` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]queue.Item, 0)
	for rows.Next() {
		var it queue.Item
		if err := scanItem(rows, &it); err != nil {
			return nil, 0, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, it)
	}
	return items, total, nil
}

// ExistsForContent reports whether any queue item exists for the triple.
func (r *Repository) ExistsForContent(ctx context.Context, scheduleID, contentItemID, destinationID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM queue_items
			WHERE schedule_id = $1 AND content_item_id = $2 AND destination_id = $3
		)
	`, scheduleID, contentItemID, destinationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check queue item existence: %w", err)
	}
	return exists, nil
}

// EligibleDestinations lists destinations with due pending work, ordered by
// their oldest pending item so starved destinations come first.
func (r *Repository) EligibleDestinations(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT destination_id
		FROM queue_items
		WHERE status = 'pending' AND scheduled_for <= $1 AND next_attempt_at <= $1
		GROUP BY destination_id
		ORDER BY MIN(created_at)
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list eligible destinations: %w", err)
	}
	defer rows.Close()

	dests := make([]string, 0)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		dests = append(dests, d)
	}
	return dests, nil
}

// ClaimNext atomically claims the oldest due pending item for the
// destination. SKIP LOCKED keeps concurrent claimers from blocking on the
// same row; the status predicate is the compare-and-set.
func (r *Repository) ClaimNext(ctx context.Context, destinationID string, now time.Time) (*queue.Item, error) {
	query := `
		UPDATE queue_items
		SET status = 'processing', updated_at = NOW()
		WHERE id = (
			SELECT id FROM queue_items
			WHERE destination_id = $1
			  AND status = 'pending'
			  AND scheduled_for <= $2
			  AND next_attempt_at <= $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'pending'
		RETURNING ` + itemColumns

	var it queue.Item
	if err := scanItem(r.db.QueryRow(ctx, query, destinationID, now), &it); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrNoEligibleItem
		}
		return nil, fmt.Errorf("claim queue item: %w", err)
	}
	return &it, nil
}

// transition performs a guarded single-row status change.
func (r *Repository) transition(ctx context.Context, id, set string, from []queue.Status, args ...any) error {
	fromList := ""
	for i, s := range from {
		if i > 0 {
			fromList += ", "
		}
		fromList += "'" + string(s) + "'"
	}

	query := fmt.Sprintf(
		`UPDATE queue_items SET %s, updated_at = NOW() WHERE id = $1 AND status IN (%s)`,
		set, fromList,
	)

	result, err := r.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update queue item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

func (r *Repository) transitionError(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM queue_items WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check queue item existence: %w", err)
	}
	if !exists {
		return queue.ErrItemNotFound
	}
	return queue.ErrInvalidTransition
}

// MarkSent transitions processing -> sent.
func (r *Repository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id,
		"status = 'sent', sent_at = $2, error_message = ''",
		[]queue.Status{queue.StatusProcessing}, at)
}

// MarkFailed transitions processing -> failed preserving the last error.
func (r *Repository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.transition(ctx, id,
		"status = 'failed', error_message = $2",
		[]queue.Status{queue.StatusProcessing}, errMsg)
}

// MarkSkipped transitions processing -> skipped with the dedup reason.
func (r *Repository) MarkSkipped(ctx context.Context, id string, reason string) error {
	return r.transition(ctx, id,
		"status = 'skipped', error_message = $2",
		[]queue.Status{queue.StatusProcessing}, reason)
}

// ScheduleRetry moves processing back to pending with the retry bookkeeping.
func (r *Repository) ScheduleRetry(ctx context.Context, id string, errMsg string, retryCount int, nextAttemptAt time.Time) error {
	return r.transition(ctx, id,
		"status = 'pending', error_message = $2, retry_count = $3, next_attempt_at = $4",
		[]queue.Status{queue.StatusProcessing}, errMsg, retryCount, nextAttemptAt)
}

// Release returns a processing item to pending without consuming a retry.
func (r *Repository) Release(ctx context.Context, id string) error {
	return r.transition(ctx, id,
		"status = 'pending'",
		[]queue.Status{queue.StatusProcessing})
}

// Pause transitions pending/processing -> paused.
func (r *Repository) Pause(ctx context.Context, id string) error {
	return r.transition(ctx, id,
		"status = 'paused'",
		[]queue.Status{queue.StatusPending, queue.StatusProcessing})
}

// Resume transitions paused -> pending.
func (r *Repository) Resume(ctx context.Context, id string) error {
	return r.transition(ctx, id,
		"status = 'pending'",
		[]queue.Status{queue.StatusPaused})
}

// SendNow re-queues the item for immediate dispatch. Allowed from pending
// (skip the schedule), paused and failed (bounded manual retry).
func (r *Repository) SendNow(ctx context.Context, id string, now time.Time) error {
	return r.transition(ctx, id,
		"status = 'pending', scheduled_for = $2, next_attempt_at = $2",
		[]queue.Status{queue.StatusPending, queue.StatusPaused, queue.StatusFailed}, now)
}

// PatchContent replaces the rendered snapshot of a not-yet-sent item.
func (r *Repository) PatchContent(ctx context.Context, id string, text string, mediaRefs []string) error {
	return r.transition(ctx, id,
		"content_text = $2, media_refs = $3",
		[]queue.Status{queue.StatusPending, queue.StatusPaused}, text, mediaRefs)
}

// Delete removes a non-terminal queue item. Terminal items are kept for the
// delivery history and pruned by retention instead.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `
		DELETE FROM queue_items
		WHERE id = $1 AND status IN ('pending', 'processing', 'paused')
	`, id)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.transitionError(ctx, id)
	}
	return nil
}

// Stats counts items by status.
func (r *Repository) Stats(ctx context.Context) (*queue.Stats, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	var stats queue.Stats
	for rows.Next() {
		var status queue.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case queue.StatusPending:
			stats.Pending = count
		case queue.StatusProcessing:
			stats.Processing = count
		case queue.StatusSent:
			stats.Sent = count
		case queue.StatusFailed:
			stats.Failed = count
		case queue.StatusSkipped:
			stats.Skipped = count
		case queue.StatusPaused:
			stats.Paused = count
		}
	}
	return &stats, nil
}

// DeleteTerminalBefore prunes terminal items older than the cutoff.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		DELETE FROM queue_items
		WHERE status IN ('sent', 'failed', 'skipped') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune queue items: %w", err)
	}
	return result.RowsAffected(), nil
}

// RecoverProcessing returns orphaned processing items to pending.
func (r *Repository) RecoverProcessing(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx,
		`UPDATE queue_items SET status = 'pending', updated_at = NOW() WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("recover processing items: %w", err)
	}
	return result.RowsAffected(), nil
}
