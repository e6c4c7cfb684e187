package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybird/relaybird/internal/domain"
	"github.com/relaybird/relaybird/internal/queue"
)

type stubSchedules struct {
	scheds []domain.Schedule
	err    error
}

func (s stubSchedules) ListActive(ctx context.Context) ([]domain.Schedule, error) {
	return s.scheds, s.err
}

// stubSource records every fetch and serves a fixed item set, with optional
// per-source errors.
type stubSource struct {
	mu     sync.Mutex
	items  []domain.ContentItem
	errFor map[string]error
	calls  []sourceCall
}

type sourceCall struct {
	sourceRef string
	since     time.Time
}

func (s *stubSource) ListNewItems(ctx context.Context, sourceRef string, since time.Time) ([]domain.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sourceCall{sourceRef, since})
	if err := s.errFor[sourceRef]; err != nil {
		return nil, err
	}
	return s.items, nil
}

type stubRenderer struct {
	err error
}

func (r stubRenderer) Render(ctx context.Context, templateRef string, item domain.ContentItem) (domain.RenderedContent, error) {
	if r.err != nil {
		return domain.RenderedContent{}, r.err
	}
	return domain.RenderedContent{Text: "rendered: " + item.Fields["text"]}, nil
}

// enqueueRecorder implements the queue repository surface the trigger touches
// and remembers what was created.
type enqueueRecorder struct {
	mu        sync.Mutex
	created   []queue.Item
	createErr error
	seq       int
}

func (r *enqueueRecorder) Create(ctx context.Context, item *queue.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	item.ID = fmt.Sprintf("item-%d", r.seq)
	r.created = append(r.created, *item)
	return nil
}

func (r *enqueueRecorder) ExistsForContent(ctx context.Context, scheduleID, contentItemID, destinationID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.created {
		if item.ScheduleID != nil && *item.ScheduleID == scheduleID &&
			item.ContentItemID != nil && *item.ContentItemID == contentItemID &&
			item.DestinationID == destinationID {
			return true, nil
		}
	}
	return false, nil
}

func (r *enqueueRecorder) all() []queue.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.Item, len(r.created))
	copy(out, r.created)
	return out
}

func (r *enqueueRecorder) GetByID(ctx context.Context, id string) (*queue.Item, error) {
	return nil, queue.ErrItemNotFound
}

func (r *enqueueRecorder) List(ctx context.Context, filter queue.Filter) ([]queue.Item, int, error) {
	return nil, 0, nil
}

func (r *enqueueRecorder) EligibleDestinations(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}

func (r *enqueueRecorder) ClaimNext(ctx context.Context, destinationID string, now time.Time) (*queue.Item, error) {
	return nil, queue.ErrNoEligibleItem
}

func (r *enqueueRecorder) MarkSent(ctx context.Context, id string, at time.Time) error { return nil }
func (r *enqueueRecorder) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return nil
}
func (r *enqueueRecorder) MarkSkipped(ctx context.Context, id string, reason string) error {
	return nil
}
func (r *enqueueRecorder) ScheduleRetry(ctx context.Context, id string, errMsg string, retryCount int, nextAttemptAt time.Time) error {
	return nil
}
func (r *enqueueRecorder) Release(ctx context.Context, id string) error      { return nil }
func (r *enqueueRecorder) Pause(ctx context.Context, id string) error        { return nil }
func (r *enqueueRecorder) Resume(ctx context.Context, id string) error       { return nil }
func (r *enqueueRecorder) SendNow(ctx context.Context, id string, now time.Time) error {
	return nil
}
func (r *enqueueRecorder) PatchContent(ctx context.Context, id string, text string, mediaRefs []string) error {
	return nil
}
func (r *enqueueRecorder) Delete(ctx context.Context, id string) error { return nil }
func (r *enqueueRecorder) Stats(ctx context.Context) (*queue.Stats, error) {
	return &queue.Stats{}, nil
}
func (r *enqueueRecorder) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (r *enqueueRecorder) RecoverProcessing(ctx context.Context) (int64, error) { return 0, nil }

func cronSchedule(expr, tz string, dests ...string) domain.Schedule {
	return domain.Schedule{
		ID:             uuid.NewString(),
		Name:           "test schedule",
		TriggerMode:    domain.TriggerModeCron,
		CronExpr:       expr,
		Timezone:       tz,
		SourceRef:      "feed-1",
		DestinationIDs: dests,
		Active:         true,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 24, hour, minute, 0, 0, time.UTC)
}

func TestParseCron(t *testing.T) {
	_, err := ParseCron("0 9 * * 1,3")
	assert.NoError(t, err)

	_, err = ParseCron("@hourly")
	assert.NoError(t, err)

	_, err = ParseCron("not a cron")
	assert.Error(t, err)
}

func TestShouldFire_Cron(t *testing.T) {
	sched := cronSchedule("0 9 * * *", "UTC")

	tests := []struct {
		name string
		prev time.Time
		now  time.Time
		fire bool
	}{
		{"occurrence inside window", at(8, 58), at(9, 1), true},
		{"occurrence at window end", at(8, 59), at(9, 0), true},
		{"window before occurrence", at(8, 0), at(8, 59), false},
		{"window after occurrence", at(9, 1), at(9, 30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fire, err := shouldFire(&sched, tt.prev, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.fire, fire)
		})
	}
}

func TestShouldFire_CronInScheduleTimezone(t *testing.T) {
	// 09:00 in Moscow is 06:00 UTC.
	sched := cronSchedule("0 9 * * *", "Europe/Moscow")

	fire, err := shouldFire(&sched, at(5, 59), at(6, 1))
	require.NoError(t, err)
	assert.True(t, fire)

	fire, err = shouldFire(&sched, at(8, 59), at(9, 1))
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestShouldFire_InvalidCron(t *testing.T) {
	sched := cronSchedule("61 25 * *", "UTC")

	_, err := shouldFire(&sched, at(8, 0), at(9, 0))
	assert.Error(t, err)
}

func TestShouldFire_ImmediateAlwaysPolls(t *testing.T) {
	sched := domain.Schedule{TriggerMode: domain.TriggerModeImmediate}

	fire, err := shouldFire(&sched, at(8, 0), at(8, 1))
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestShouldFire_UnknownMode(t *testing.T) {
	sched := domain.Schedule{TriggerMode: "push"}

	_, err := shouldFire(&sched, at(8, 0), at(8, 1))
	assert.Error(t, err)
}

func TestBatchTimeInWindow(t *testing.T) {
	sched := domain.Schedule{
		TriggerMode: domain.TriggerModeBatchTimes,
		BatchTimes:  []string{"09:00", "18:30"},
		Timezone:    "UTC",
	}

	tests := []struct {
		name string
		prev time.Time
		now  time.Time
		fire bool
	}{
		{"morning entry in window", at(8, 59), at(9, 1), true},
		{"evening entry in window", at(18, 29), at(18, 31), true},
		{"between entries", at(9, 1), at(18, 29), false},
		{"occurrence equal to prev excluded", at(9, 0), at(9, 30), false},
		{"occurrence equal to now included", at(8, 30), at(9, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fire, err := batchTimeInWindow(&sched, tt.prev, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.fire, fire)
		})
	}
}

func TestBatchTimeInWindow_AcrossMidnight(t *testing.T) {
	sched := domain.Schedule{
		TriggerMode: domain.TriggerModeBatchTimes,
		BatchTimes:  []string{"00:15"},
		Timezone:    "UTC",
	}

	// Window spans Monday 23:50 through Tuesday 00:20.
	prev := time.Date(2026, 8, 24, 23, 50, 0, 0, time.UTC)
	now := time.Date(2026, 8, 25, 0, 20, 0, 0, time.UTC)

	fire, err := batchTimeInWindow(&sched, prev, now)
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestBatchTimeInWindow_InvalidEntry(t *testing.T) {
	sched := domain.Schedule{
		TriggerMode: domain.TriggerModeBatchTimes,
		BatchTimes:  []string{"24:00"},
		Timezone:    "UTC",
	}

	_, err := batchTimeInWindow(&sched, at(8, 0), at(9, 0))
	assert.Error(t, err)
}

func TestTrigger_TickEnqueuesPerDestination(t *testing.T) {
	sched := cronSchedule("0 9 * * *", "UTC", "dest-1", "dest-2")
	source := &stubSource{items: []domain.ContentItem{
		{ID: "content-1", Fields: map[string]string{"text": "first"}},
		{ID: "content-2", Fields: map[string]string{"text": "second"}},
	}}
	repo := &enqueueRecorder{}

	tr := NewTrigger(TriggerConfig{TickInterval: time.Minute}, stubSchedules{scheds: []domain.Schedule{sched}}, source, stubRenderer{}, repo)
	tr.lastTick = at(8, 59)

	tr.Tick(context.Background(), at(9, 1))

	created := repo.all()
	require.Len(t, created, 4, "one item per (content, destination) pair")

	first := created[0]
	require.NotNil(t, first.ScheduleID)
	assert.Equal(t, sched.ID, *first.ScheduleID)
	require.NotNil(t, first.ContentItemID)
	assert.Equal(t, "rendered: first", first.ContentText)
	assert.Equal(t, queue.StatusPending, first.Status)
	assert.Equal(t, at(9, 1), first.ScheduledFor)
}

func TestTrigger_TickIsIdempotent(t *testing.T) {
	sched := cronSchedule("0 9 * * *", "UTC", "dest-1")
	source := &stubSource{items: []domain.ContentItem{
		{ID: "content-1", Fields: map[string]string{"text": "first"}},
	}}
	repo := &enqueueRecorder{}

	tr := NewTrigger(TriggerConfig{TickInterval: time.Minute}, stubSchedules{scheds: []domain.Schedule{sched}}, source, stubRenderer{}, repo)

	tr.lastTick = at(8, 59)
	tr.Tick(context.Background(), at(9, 1))
	require.Len(t, repo.all(), 1)

	// Re-evaluating the same occurrence must not duplicate the item.
	tr.lastTick = at(8, 59)
	tr.Tick(context.Background(), at(9, 1))
	assert.Len(t, repo.all(), 1)
}

func TestTrigger_ScheduleFailureDoesNotAbortOthers(t *testing.T) {
	bad := cronSchedule("0 9 * * *", "UTC", "dest-1")
	bad.SourceRef = "broken-feed"
	good := cronSchedule("0 9 * * *", "UTC", "dest-1")

	source := &stubSource{
		items:  []domain.ContentItem{{ID: "content-1", Fields: map[string]string{"text": "ok"}}},
		errFor: map[string]error{"broken-feed": errors.New("feed unreachable")},
	}
	repo := &enqueueRecorder{}

	tr := NewTrigger(TriggerConfig{TickInterval: time.Minute}, stubSchedules{scheds: []domain.Schedule{bad, good}}, source, stubRenderer{}, repo)
	tr.lastTick = at(8, 59)

	tr.Tick(context.Background(), at(9, 1))

	created := repo.all()
	require.Len(t, created, 1)
	assert.Equal(t, good.ID, *created[0].ScheduleID)
}

func TestTrigger_CursorAdvancesOnlyOnSuccess(t *testing.T) {
	sched := cronSchedule("* * * * *", "UTC", "dest-1")
	source := &stubSource{errFor: map[string]error{}}
	repo := &enqueueRecorder{}

	tr := NewTrigger(TriggerConfig{TickInterval: time.Minute, SourceWindow: 10 * time.Minute}, stubSchedules{scheds: []domain.Schedule{sched}}, source, stubRenderer{}, repo)

	// First fire has no cursor and reaches back by the source window.
	tr.lastTick = at(9, 0)
	tr.Tick(context.Background(), at(9, 1))
	require.Len(t, source.calls, 1)
	assert.Equal(t, at(9, 1).Add(-10*time.Minute), source.calls[0].since)

	// Second fire resumes from the previous tick's instant.
	tr.lastTick = at(9, 1)
	tr.Tick(context.Background(), at(9, 2))
	require.Len(t, source.calls, 2)
	assert.Equal(t, at(9, 1), source.calls[1].since)

	// A failing fetch must not advance the cursor.
	source.errFor[sched.SourceRef] = errors.New("feed unreachable")
	tr.lastTick = at(9, 2)
	tr.Tick(context.Background(), at(9, 3))

	source.errFor[sched.SourceRef] = nil
	tr.lastTick = at(9, 3)
	tr.Tick(context.Background(), at(9, 4))
	require.Len(t, source.calls, 4)
	assert.Equal(t, at(9, 2), source.calls[3].since, "cursor stays at the last successful fire")
}

func TestTrigger_OnNewContent(t *testing.T) {
	immediate := domain.Schedule{
		ID:             uuid.NewString(),
		TriggerMode:    domain.TriggerModeImmediate,
		SourceRef:      "feed-1",
		DestinationIDs: []string{"dest-1"},
		Active:         true,
	}
	otherSource := immediate
	otherSource.ID = uuid.NewString()
	otherSource.SourceRef = "feed-2"
	cron := cronSchedule("0 9 * * *", "UTC", "dest-1")

	repo := &enqueueRecorder{}
	tr := NewTrigger(TriggerConfig{TickInterval: time.Minute},
		stubSchedules{scheds: []domain.Schedule{immediate, otherSource, cron}},
		&stubSource{}, stubRenderer{}, repo)

	err := tr.OnNewContent(context.Background(), "feed-1", domain.ContentItem{
		ID:     "content-1",
		Fields: map[string]string{"text": "breaking"},
	})
	require.NoError(t, err)

	created := repo.all()
	require.Len(t, created, 1, "only immediate schedules bound to the source fire")
	assert.Equal(t, immediate.ID, *created[0].ScheduleID)
	assert.Equal(t, "rendered: breaking", created[0].ContentText)
}

func TestTrigger_OnNewContent_RendererError(t *testing.T) {
	immediate := domain.Schedule{
		ID:             uuid.NewString(),
		TriggerMode:    domain.TriggerModeImmediate,
		SourceRef:      "feed-1",
		DestinationIDs: []string{"dest-1"},
		Active:         true,
	}

	repo := &enqueueRecorder{}
	tr := NewTrigger(TriggerConfig{TickInterval: time.Minute},
		stubSchedules{scheds: []domain.Schedule{immediate}},
		&stubSource{}, stubRenderer{err: errors.New("template missing")}, repo)

	err := tr.OnNewContent(context.Background(), "feed-1", domain.ContentItem{ID: "content-1"})
	require.Error(t, err)
	assert.Empty(t, repo.all())
}
