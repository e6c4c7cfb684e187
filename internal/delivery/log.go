// Package delivery owns the delivery log and the confirmation tracker that
// reconciles transport receipts against logged deliveries.
package delivery

import (
	"context"
	"time"
)

// Status represents the outcome state of a delivery log record.
type Status string

// Delivery statuses. A record only ever moves forward:
// sent -> delivered -> read. failed and skipped are terminal at creation.
const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// rank orders the receipt-driven upgrade chain. Non-upgradable statuses
// rank below sent so they can never be upgraded.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// CanUpgradeTo reports whether a receipt may move the record to next.
func (s Status) CanUpgradeTo(next Status) bool {
	return s.rank() > 0 && next.rank() > s.rank()
}

// Log is an immutable record of a delivery attempt's outcome. Only
// receipt-driven status upgrades and reply timestamps mutate it after
// creation.
type Log struct {
	ID                 string     `json:"id"`
	QueueItemID        *string    `json:"queue_item_id,omitempty"`
	ScheduleID         *string    `json:"schedule_id,omitempty"`
	DestinationID      string     `json:"destination_id"`
	Status             Status     `json:"status"`
	TransportMessageID *string    `json:"transport_message_id,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	ContentText        string     `json:"content_text"`
	MediaRefs          []string   `json:"media_refs,omitempty"`
	RespondedAt        *time.Time `json:"responded_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
}

// Filter narrows delivery log queries.
type Filter struct {
	Status        Status
	DestinationID string
	ScheduleID    string
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

// Repository defines delivery log data access.
type Repository interface {
	Create(ctx context.Context, log *Log) error
	GetByID(ctx context.Context, id string) (*Log, error)
	List(ctx context.Context, filter Filter) ([]Log, int, error)
	// UpgradeStatus applies a forward-only receipt upgrade keyed by
	// transport message id. Returns ErrLogNotFound when no record matches,
	// ErrNoForwardUpgrade when the record exists but the upgrade would not
	// move it forward.
	UpgradeStatus(ctx context.Context, transportMessageID string, status Status) error
	// MarkResponded stamps the most recent sent record for the destination
	// with the reply time, if not already stamped.
	MarkResponded(ctx context.Context, destinationID string, at time.Time) error
	// RecentSends returns sent/delivered/read records for dedup comparison,
	// newest first.
	RecentSends(ctx context.Context, destinationID string, since time.Time, limit int) ([]Log, error)
	// ListSince streams records in a window for analytics aggregation.
	ListSince(ctx context.Context, since time.Time) ([]Log, error)
}
