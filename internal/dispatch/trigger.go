package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaybird/relaybird/internal/domain"
	"github.com/relaybird/relaybird/internal/queue"
)

// cronParser accepts standard five-field expressions plus descriptors like
// @hourly.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates a cron expression against the trigger's parser.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(expr)
}

// TriggerConfig contains dispatch trigger configuration.
type TriggerConfig struct {
	TickInterval time.Duration
	// SourceWindow bounds the first content fetch for a schedule that has
	// no cursor yet.
	SourceWindow time.Duration
}

// Trigger evaluates schedules on a periodic tick and enqueues one queue item
// per (content item, destination) pair.
type Trigger struct {
	config    TriggerConfig
	schedules ScheduleSource
	source    ContentSource
	renderer  Renderer
	repo      queue.Repository

	mu       sync.Mutex
	lastTick time.Time
	// cursors tracks the last content fetch instant per schedule so a fire
	// only pulls items published since the previous fire.
	cursors map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTrigger creates a dispatch trigger.
func NewTrigger(
	config TriggerConfig,
	schedules ScheduleSource,
	source ContentSource,
	renderer Renderer,
	repo queue.Repository,
) *Trigger {
	return &Trigger{
		config:    config,
		schedules: schedules,
		source:    source,
		renderer:  renderer,
		repo:      repo,
		lastTick:  time.Now(),
		cursors:   make(map[string]time.Time),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the tick loop.
func (t *Trigger) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.run(ctx)
	slog.Info("dispatch trigger started", "tick_interval", t.config.TickInterval)
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (t *Trigger) Stop() {
	close(t.stopCh)
	t.wg.Wait()
	slog.Info("dispatch trigger stopped")
}

func (t *Trigger) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.Tick(ctx, time.Now())
		}
	}
}

// Tick evaluates every active schedule against the window since the previous
// tick. A failing schedule is logged and skipped, never aborting the others.
func (t *Trigger) Tick(ctx context.Context, now time.Time) {
	t.mu.Lock()
	prev := t.lastTick
	t.lastTick = now
	t.mu.Unlock()

	recordTick()

	scheds, err := t.schedules.ListActive(ctx)
	if err != nil {
		slog.Error("failed to list active schedules", "error", err)
		return
	}

	for i := range scheds {
		sched := &scheds[i]

		fire, err := shouldFire(sched, prev, now)
		if err != nil {
			recordScheduleError(sched.ID)
			slog.Error("failed to evaluate schedule trigger",
				"schedule_id", sched.ID,
				"trigger_mode", sched.TriggerMode,
				"error", err,
			)
			continue
		}
		if !fire {
			continue
		}

		if err := t.fire(ctx, sched, now); err != nil {
			recordScheduleError(sched.ID)
			slog.Error("schedule dispatch failed",
				"schedule_id", sched.ID,
				"error", err,
			)
		}
	}
}

// OnNewContent dispatches a single item through every active immediate
// schedule bound to the source.
func (t *Trigger) OnNewContent(ctx context.Context, sourceRef string, item domain.ContentItem) error {
	scheds, err := t.schedules.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active schedules: %w", err)
	}

	var firstErr error
	for i := range scheds {
		sched := &scheds[i]
		if sched.TriggerMode != domain.TriggerModeImmediate || sched.SourceRef != sourceRef {
			continue
		}
		if err := t.enqueueItem(ctx, sched, item, time.Now()); err != nil {
			recordScheduleError(sched.ID)
			slog.Error("immediate dispatch failed",
				"schedule_id", sched.ID,
				"content_item_id", item.ID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// shouldFire reports whether the schedule's trigger matched inside the
// (prev, now] window, evaluated in the schedule's timezone.
func shouldFire(sched *domain.Schedule, prev, now time.Time) (bool, error) {
	switch sched.TriggerMode {
	case domain.TriggerModeCron:
		cs, err := cronParser.Parse(sched.CronExpr)
		if err != nil {
			return false, fmt.Errorf("invalid cron expression %q: %w", sched.CronExpr, err)
		}
		next := cs.Next(prev.In(sched.Location()))
		return !next.IsZero() && !next.After(now.In(sched.Location())), nil

	case domain.TriggerModeBatchTimes:
		return batchTimeInWindow(sched, prev, now)

	case domain.TriggerModeImmediate:
		// Immediate schedules also poll their source each tick so content
		// arriving between explicit OnNewContent calls is not lost.
		return true, nil
	}
	return false, fmt.Errorf("unknown trigger mode %q", sched.TriggerMode)
}

// batchTimeInWindow checks each "HH:MM" entry against the days the window
// spans in the schedule's timezone.
func batchTimeInWindow(sched *domain.Schedule, prev, now time.Time) (bool, error) {
	loc := sched.Location()
	prevLoc, nowLoc := prev.In(loc), now.In(loc)

	for _, bt := range sched.BatchTimes {
		if !domain.ValidBatchTime(bt) {
			return false, fmt.Errorf("invalid batch time %q", bt)
		}
		var hh, mm int
		fmt.Sscanf(bt, "%d:%d", &hh, &mm)

		day := time.Date(prevLoc.Year(), prevLoc.Month(), prevLoc.Day(), 0, 0, 0, 0, loc)
		for ; !day.After(nowLoc); day = day.AddDate(0, 0, 1) {
			occ := time.Date(day.Year(), day.Month(), day.Day(), hh, mm, 0, 0, loc)
			if occ.After(prevLoc) && !occ.After(nowLoc) {
				return true, nil
			}
		}
	}
	return false, nil
}

// fire pulls new content for the schedule and enqueues it.
func (t *Trigger) fire(ctx context.Context, sched *domain.Schedule, now time.Time) error {
	t.mu.Lock()
	since, ok := t.cursors[sched.ID]
	if !ok {
		window := t.config.SourceWindow
		if window <= 0 {
			window = t.config.TickInterval
		}
		since = now.Add(-window)
	}
	t.mu.Unlock()

	items, err := t.source.ListNewItems(ctx, sched.SourceRef, since)
	if err != nil {
		return fmt.Errorf("failed to list new content: %w", err)
	}

	var firstErr error
	for _, item := range items {
		if err := t.enqueueItem(ctx, sched, item, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	t.mu.Lock()
	t.cursors[sched.ID] = now
	t.mu.Unlock()
	return nil
}

// enqueueItem creates one pending queue item per destination, skipping pairs
// that were already dispatched. The repository's unique index closes the race
// between the lookup and the insert.
func (t *Trigger) enqueueItem(ctx context.Context, sched *domain.Schedule, item domain.ContentItem, now time.Time) error {
	rendered, err := t.renderer.Render(ctx, sched.TemplateRef, item)
	if err != nil {
		return fmt.Errorf("failed to render content item %s: %w", item.ID, err)
	}

	var firstErr error
	for _, dest := range sched.DestinationIDs {
		exists, err := t.repo.ExistsForContent(ctx, sched.ID, item.ID, dest)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if exists {
			recordItemSkipped()
			continue
		}

		qi := &queue.Item{
			ScheduleID:    &sched.ID,
			ContentItemID: &item.ID,
			DestinationID: dest,
			ContentText:   rendered.Text,
			MediaRefs:     rendered.MediaRefs,
			Status:        queue.StatusPending,
			ScheduledFor:  now,
			NextAttemptAt: now,
		}
		if err := t.repo.Create(ctx, qi); err != nil {
			if errors.Is(err, queue.ErrDuplicateItem) {
				recordItemSkipped()
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		recordItemEnqueued()
		slog.Debug("queue item dispatched",
			"schedule_id", sched.ID,
			"content_item_id", item.ID,
			"destination_id", dest,
			"item_id", qi.ID,
		)
	}
	return firstErr
}
