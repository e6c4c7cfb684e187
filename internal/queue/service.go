package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Service implements manual queue operations on top of the repository.
type Service struct {
	repo Repository
}

// NewService creates a new queue service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// EnqueueInput describes a manually composed send.
type EnqueueInput struct {
	DestinationID string
	ContentText   string
	MediaRefs     []string
	ScheduledFor  *time.Time
}

// Enqueue creates a pending item for a manually composed message. It has no
// schedule or content item attached and so bypasses dispatch idempotence.
func (s *Service) Enqueue(ctx context.Context, in EnqueueInput) (*Item, error) {
	scheduledFor := time.Now()
	if in.ScheduledFor != nil {
		scheduledFor = *in.ScheduledFor
	}

	item := &Item{
		DestinationID: in.DestinationID,
		ContentText:   in.ContentText,
		MediaRefs:     in.MediaRefs,
		Status:        StatusPending,
		ScheduledFor:  scheduledFor,
		NextAttemptAt: scheduledFor,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue manual item: %w", err)
	}

	slog.Info("manual queue item created",
		"item_id", item.ID,
		"destination_id", item.DestinationID,
		"scheduled_for", item.ScheduledFor,
	)
	return item, nil
}

// Get returns a queue item by id.
func (s *Service) Get(ctx context.Context, id string) (*Item, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns queue items matching the filter with the total count.
func (s *Service) List(ctx context.Context, filter Filter) ([]Item, int, error) {
	return s.repo.List(ctx, filter)
}

// Stats returns queue item counts by status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}

// Pause holds a pending item so no worker claims it.
func (s *Service) Pause(ctx context.Context, id string) error {
	if err := s.repo.Pause(ctx, id); err != nil {
		return err
	}
	slog.Info("queue item paused", "item_id", id)
	return nil
}

// Resume returns a paused item to pending.
func (s *Service) Resume(ctx context.Context, id string) error {
	if err := s.repo.Resume(ctx, id); err != nil {
		return err
	}
	slog.Info("queue item resumed", "item_id", id)
	return nil
}

// SendNow makes a pending, paused or failed item immediately eligible,
// clearing any backoff. For failed items this is the manual retry path.
func (s *Service) SendNow(ctx context.Context, id string) error {
	if err := s.repo.SendNow(ctx, id, time.Now()); err != nil {
		return err
	}
	slog.Info("queue item released for immediate send", "item_id", id)
	return nil
}

// PatchContent edits the rendered snapshot of an item that has not been
// claimed yet.
func (s *Service) PatchContent(ctx context.Context, id, text string, mediaRefs []string) (*Item, error) {
	if err := s.repo.PatchContent(ctx, id, text, mediaRefs); err != nil {
		return nil, err
	}
	slog.Info("queue item content updated", "item_id", id)
	return s.repo.GetByID(ctx, id)
}

// Delete removes a non-terminal item. Deleting a processing item revokes its
// retries; the worker's terminal write then targets a missing row and is
// logged.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("queue item deleted", "item_id", id)
	return nil
}
