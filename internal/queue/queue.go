// Package queue owns the delivery-task state machine, retries, pause/resume
// and per-destination serialization.
package queue

import (
	"context"
	"time"
)

// Status represents the state of a queue item.
type Status string

// Queue item statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusPaused     Status = "paused"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent,
		StatusFailed, StatusSkipped, StatusPaused:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition may occur.
// failed is terminal for the scheduler but may be re-queued manually.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status graph allows moving to next.
// The only exits from terminal states are the explicit manual
// failed -> pending retry.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusPaused
	case StatusProcessing:
		switch next {
		case StatusSent, StatusFailed, StatusSkipped, StatusPending, StatusPaused:
			return true
		}
		return false
	case StatusPaused:
		return next == StatusPending
	case StatusFailed:
		return next == StatusPending
	}
	return false
}

// Item is one pending or in-flight delivery task for a specific content item
// and destination. ScheduleID and ContentItemID are nil for manually
// composed sends.
type Item struct {
	ID            string     `json:"id"`
	ScheduleID    *string    `json:"schedule_id,omitempty"`
	ContentItemID *string    `json:"content_item_id,omitempty"`
	DestinationID string     `json:"destination_id"`
	ContentText   string     `json:"content_text"`
	MediaRefs     []string   `json:"media_refs,omitempty"`
	Status        Status     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
}

// Filter narrows queue item listings.
type Filter struct {
	Status        Status
	DestinationID string
	ScheduleID    string
	Limit         int
	Offset        int
}

// Stats counts queue items by status.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
	Paused     int `json:"paused"`
}

// Repository defines queue item data access. All status mutations are
// single-row compare-and-set statements so the state machine invariants
// hold under concurrency.
type Repository interface {
	Create(ctx context.Context, item *Item) error
	GetByID(ctx context.Context, id string) (*Item, error)
	List(ctx context.Context, filter Filter) ([]Item, int, error)
	// ExistsForContent reports whether any queue item already exists for
	// the (schedule, content item, destination) triple, regardless of
	// status. Dispatch idempotence rests on it.
	ExistsForContent(ctx context.Context, scheduleID, contentItemID, destinationID string) (bool, error)

	// EligibleDestinations lists destinations that have at least one
	// pending item whose scheduled_for and next_attempt_at are due.
	EligibleDestinations(ctx context.Context, now time.Time) ([]string, error)
	// ClaimNext atomically moves the oldest eligible pending item for the
	// destination to processing and returns it. Returns ErrNoEligibleItem
	// when nothing is due.
	ClaimNext(ctx context.Context, destinationID string, now time.Time) (*Item, error)

	// Terminal transitions from processing.
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkSkipped(ctx context.Context, id string, reason string) error
	// ScheduleRetry moves processing back to pending with an incremented
	// retry count and the next attempt time.
	ScheduleRetry(ctx context.Context, id string, errMsg string, retryCount int, nextAttemptAt time.Time) error
	// Release returns a processing item to pending without consuming a
	// retry (quiet hold, shutdown).
	Release(ctx context.Context, id string) error

	// Manual operations. Each returns ErrInvalidTransition when the
	// current status does not allow it.
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	SendNow(ctx context.Context, id string, now time.Time) error
	PatchContent(ctx context.Context, id string, text string, mediaRefs []string) error
	Delete(ctx context.Context, id string) error

	Stats(ctx context.Context) (*Stats, error)
	// DeleteTerminalBefore prunes terminal items older than the cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// RecoverProcessing returns all processing items to pending. Used at
	// startup so a crash never leaves items stuck.
	RecoverProcessing(ctx context.Context) (int64, error)
}
