package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/relaybird/relaybird/internal/dedup"
	"github.com/relaybird/relaybird/internal/delivery"
	"github.com/relaybird/relaybird/internal/domain"
	"github.com/relaybird/relaybird/internal/quiet"
	"github.com/relaybird/relaybird/internal/ratelimit"
	"github.com/relaybird/relaybird/internal/transport"
)

// ManagerConfig contains queue manager configuration.
type ManagerConfig struct {
	PollInterval     time.Duration
	MaxWorkers       int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	SendTimeout      time.Duration
	RetentionPeriod  time.Duration
	CleanupInterval  time.Duration
	RecoverOnStartup bool
}

// DefaultManagerConfig returns default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PollInterval:     2 * time.Second,
		MaxWorkers:       8,
		MaxRetries:       5,
		RetryBaseDelay:   30 * time.Second,
		RetryMaxDelay:    30 * time.Minute,
		SendTimeout:      30 * time.Second,
		RetentionPeriod:  30 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
		RecoverOnStartup: true,
	}
}

// ReceiptExpecter registers sent messages for confirmation accounting.
type ReceiptExpecter interface {
	Expect(transportMessageID string)
}

// Manager drives queue items through the delivery pipeline. Each
// destination is processed strictly sequentially; different destinations run
// concurrently up to MaxWorkers.
type Manager struct {
	config  ManagerConfig
	repo    Repository
	logs    delivery.Repository
	gate    quiet.Policy
	filter  *dedup.Filter
	limiter *ratelimit.Limiter
	adapter transport.Adapter
	expect  ReceiptExpecter // may be nil

	mu      sync.Mutex
	busy    map[string]struct{}
	running int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a queue manager.
func NewManager(
	config ManagerConfig,
	repo Repository,
	logs delivery.Repository,
	gate quiet.Policy,
	filter *dedup.Filter,
	limiter *ratelimit.Limiter,
	adapter transport.Adapter,
	expect ReceiptExpecter,
) *Manager {
	return &Manager{
		config:  config,
		repo:    repo,
		logs:    logs,
		gate:    gate,
		filter:  filter,
		limiter: limiter,
		adapter: adapter,
		expect:  expect,
		busy:    make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Start recovers orphaned items and launches the poll and cleanup loops.
func (m *Manager) Start(ctx context.Context) {
	if m.config.RecoverOnStartup {
		recoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if n, err := m.repo.RecoverProcessing(recoverCtx); err != nil {
			slog.Error("failed to recover in-flight queue items", "error", err)
		} else if n > 0 {
			slog.Info("recovered in-flight queue items", "count", n)
		}
	}

	m.wg.Add(2)
	go m.pollLoop(ctx)
	go m.cleanupLoop(ctx)

	slog.Info("queue manager started",
		"poll_interval", m.config.PollInterval,
		"max_workers", m.config.MaxWorkers,
		"max_retries", m.config.MaxRetries,
	)
}

// Stop signals all loops and waits for in-flight workers to finish. Workers
// interrupted mid-send release their item back to pending.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	slog.Info("queue manager stopped")
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick checks the quiet gate once, then fans workers out over destinations
// with due work. Gate-held ticks claim nothing so no claim ever falls inside
// an active quiet period.
func (m *Manager) tick(ctx context.Context) {
	now := time.Now()

	if period := m.gate.Evaluate(now); period.Active {
		recordQuietHold()
		slog.Debug("quiet period active, holding queue",
			"ends_at", period.EndsAt,
			"reason", period.Reason,
		)
		return
	}

	dests, err := m.repo.EligibleDestinations(ctx, now)
	if err != nil {
		slog.Error("failed to list eligible destinations", "error", err)
		return
	}

	for _, dest := range dests {
		if !m.acquire(dest) {
			continue
		}
		m.wg.Add(1)
		go m.drain(ctx, dest)
	}
}

// acquire reserves the destination slot, enforcing at most one worker per
// destination and the global worker cap.
func (m *Manager) acquire(destinationID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running >= m.config.MaxWorkers {
		return false
	}
	if _, ok := m.busy[destinationID]; ok {
		return false
	}
	m.busy[destinationID] = struct{}{}
	m.running++
	recordWorkersRunning(m.running)
	return true
}

func (m *Manager) release(destinationID string) {
	m.mu.Lock()
	delete(m.busy, destinationID)
	m.running--
	recordWorkersRunning(m.running)
	m.mu.Unlock()
}

// drain processes the destination's due items in creation order until none
// remain, a quiet period starts, or shutdown begins.
func (m *Manager) drain(ctx context.Context, destinationID string) {
	defer m.wg.Done()
	defer m.release(destinationID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		now := time.Now()
		if m.gate.Evaluate(now).Active {
			return
		}

		item, err := m.repo.ClaimNext(ctx, destinationID, now)
		if errors.Is(err, ErrNoEligibleItem) {
			return
		}
		if err != nil {
			slog.Error("failed to claim queue item",
				"destination_id", destinationID,
				"error", err,
			)
			return
		}

		m.process(ctx, item)
	}
}

// process runs one claimed item through dedup, rate limiting and the
// transport, then records the outcome.
func (m *Manager) process(ctx context.Context, item *Item) {
	start := time.Now()
	logger := slog.With(
		"item_id", item.ID,
		"destination_id", item.DestinationID,
	)

	// Dedup check. A duplicate is terminal, not an error.
	if m.filter != nil {
		if res := m.filter.Check(ctx, item.DestinationID, item.ContentText); res.Duplicate {
			m.finishSkipped(item, res.Reason, logger)
			return
		}
	}

	// Rate limit clearance. Exceeding the wait budget is transient.
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, item.DestinationID); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				m.releaseItem(item, logger)
				return
			}
			m.handleSendError(item, err, logger)
			return
		}
	}

	content := domain.RenderedContent{Text: item.ContentText, MediaRefs: item.MediaRefs}

	sendCtx, cancel := context.WithTimeout(ctx, m.config.SendTimeout)
	transportMessageID, err := m.adapter.Send(sendCtx, item.DestinationID, content)
	cancel()

	if err != nil {
		// Shutdown mid-send: put the item back untouched.
		if ctx.Err() != nil {
			m.releaseItem(item, logger)
			return
		}
		m.handleSendError(item, err, logger)
		return
	}

	m.finishSent(item, transportMessageID, start, logger)
}

func (m *Manager) finishSent(item *Item, transportMessageID string, start time.Time, logger *slog.Logger) {
	now := time.Now()

	// The expectation must exist before the log row does: a receipt racing
	// the log write would otherwise clear an expectation registered later,
	// leaving a stale entry until the sweep.
	if m.expect != nil {
		m.expect.Expect(transportMessageID)
	}

	wctx, cancel := m.writeCtx()
	defer cancel()

	if err := m.repo.MarkSent(wctx, item.ID, now); err != nil {
		logger.Error("failed to mark queue item sent", "error", err)
	}

	log := &delivery.Log{
		QueueItemID:        &item.ID,
		ScheduleID:         item.ScheduleID,
		DestinationID:      item.DestinationID,
		Status:             delivery.StatusSent,
		TransportMessageID: &transportMessageID,
		ContentText:        item.ContentText,
		MediaRefs:          item.MediaRefs,
		SentAt:             &now,
	}
	if err := m.logs.Create(wctx, log); err != nil {
		logger.Error("failed to write delivery log", "error", err)
	}

	if m.limiter != nil {
		m.limiter.Record(item.DestinationID, now)
	}
	if m.filter != nil {
		m.filter.Remember(wctx, item.DestinationID, dedup.RecentSend{
			LogID:  log.ID,
			Text:   item.ContentText,
			SentAt: now,
		})
	}

	recordItemProcessed("sent")
	recordSendDuration(time.Since(start))

	logger.Debug("queue item sent",
		"transport_message_id", transportMessageID,
		"retry_count", item.RetryCount,
		"duration", time.Since(start),
	)
}

func (m *Manager) finishSkipped(item *Item, reason string, logger *slog.Logger) {
	wctx, cancel := m.writeCtx()
	defer cancel()

	if err := m.repo.MarkSkipped(wctx, item.ID, reason); err != nil {
		logger.Error("failed to mark queue item skipped", "error", err)
		return
	}

	log := &delivery.Log{
		QueueItemID:   &item.ID,
		ScheduleID:    item.ScheduleID,
		DestinationID: item.DestinationID,
		Status:        delivery.StatusSkipped,
		ErrorMessage:  reason,
		ContentText:   item.ContentText,
		MediaRefs:     item.MediaRefs,
	}
	if err := m.logs.Create(wctx, log); err != nil {
		logger.Error("failed to write delivery log", "error", err)
	}

	recordItemProcessed("skipped")
	logger.Info("queue item skipped as duplicate", "reason", reason)
}

func (m *Manager) handleSendError(item *Item, err error, logger *slog.Logger) {
	if transport.IsPermanent(err) {
		m.failItem(item, err, logger)
		recordItemProcessed("failed_permanent")
		return
	}

	retryCount := item.RetryCount + 1
	if retryCount > m.config.MaxRetries {
		m.failItem(item, fmt.Errorf("max retries exceeded: %w", err), logger)
		recordItemProcessed("failed_exhausted")
		return
	}

	delay := retryBackoff(m.config.RetryBaseDelay, m.config.RetryMaxDelay, retryCount)
	nextAttempt := time.Now().Add(delay)

	wctx, cancel := m.writeCtx()
	defer cancel()
	if markErr := m.repo.ScheduleRetry(wctx, item.ID, err.Error(), retryCount, nextAttempt); markErr != nil {
		logger.Error("failed to schedule retry", "error", markErr)
		return
	}

	recordItemProcessed("retry")
	logger.Warn("send failed, retry scheduled",
		"retry_count", retryCount,
		"max_retries", m.config.MaxRetries,
		"next_attempt_at", nextAttempt,
		"error", err,
	)
}

func (m *Manager) failItem(item *Item, err error, logger *slog.Logger) {
	wctx, cancel := m.writeCtx()
	defer cancel()

	if markErr := m.repo.MarkFailed(wctx, item.ID, err.Error()); markErr != nil {
		logger.Error("failed to mark queue item failed", "error", markErr)
	}

	log := &delivery.Log{
		QueueItemID:   &item.ID,
		ScheduleID:    item.ScheduleID,
		DestinationID: item.DestinationID,
		Status:        delivery.StatusFailed,
		ErrorMessage:  err.Error(),
		ContentText:   item.ContentText,
		MediaRefs:     item.MediaRefs,
	}
	if logErr := m.logs.Create(wctx, log); logErr != nil {
		logger.Error("failed to write delivery log", "error", logErr)
	}

	logger.Warn("queue item failed", "error", err)
}

// releaseItem returns a claimed item to pending without consuming a retry
// (shutdown or cancellation mid-pipeline).
func (m *Manager) releaseItem(item *Item, logger *slog.Logger) {
	wctx, cancel := m.writeCtx()
	defer cancel()

	if err := m.repo.Release(wctx, item.ID); err != nil {
		logger.Error("failed to release queue item", "error", err)
		return
	}
	logger.Info("queue item released back to pending")
}

// writeCtx returns a context for status writes that survives worker
// cancellation so items are never left stuck in processing.
func (m *Manager) writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()

	if m.config.CleanupInterval <= 0 || m.config.RetentionPeriod <= 0 {
		return
	}

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.config.RetentionPeriod)
			n, err := m.repo.DeleteTerminalBefore(ctx, cutoff)
			if err != nil {
				slog.Error("queue retention cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned terminal queue items", "count", n, "cutoff", cutoff)
			}
		}
	}
}

// retryBackoff computes base * 2^retryCount with +/-50% jitter, capped.
func retryBackoff(base, max time.Duration, retryCount int) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if max > 0 && delay > max {
		delay = max
	}

	// Jitter in [0.5, 1.5) of the computed delay.
	jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
	if max > 0 && jittered > max {
		jittered = max
	}
	return jittered
}
