// Package dispatch turns schedule definitions into queue items. It owns the
// periodic trigger tick and the immediate on-new-content path.
package dispatch

import (
	"context"
	"time"

	"github.com/relaybird/relaybird/internal/domain"
)

// ContentSource supplies new items for a schedule's source reference.
// Implementations are external to this service.
type ContentSource interface {
	// ListNewItems returns items published after since, oldest first.
	ListNewItems(ctx context.Context, sourceRef string, since time.Time) ([]domain.ContentItem, error)
}

// Renderer produces the message body for one content item. Implementations
// are external to this service; the queue stores the result as a snapshot.
type Renderer interface {
	Render(ctx context.Context, templateRef string, item domain.ContentItem) (domain.RenderedContent, error)
}

// ScheduleSource lists the schedules the trigger evaluates each tick.
type ScheduleSource interface {
	ListActive(ctx context.Context) ([]domain.Schedule, error)
}
