package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/relaybird/relaybird/internal/transport"
)

// TrackerConfig contains confirmation tracker configuration.
type TrackerConfig struct {
	// ReceiptTimeout bounds how long a send is expected to confirm. Late
	// receipts are still applied; the timeout only feeds metrics and the
	// expectation registry size.
	ReceiptTimeout time.Duration
	// SweepInterval controls how often timed-out expectations are dropped.
	SweepInterval time.Duration
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		ReceiptTimeout: 30 * time.Second,
		SweepInterval:  10 * time.Second,
	}
}

// Tracker reconciles asynchronous transport receipts against delivery log
// records. It never touches queue item state.
type Tracker struct {
	config   TrackerConfig
	repo     Repository
	receipts <-chan transport.Receipt

	mu       sync.Mutex
	expected map[string]time.Time // transport message id -> deadline

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTracker creates a confirmation tracker reading from the given receipt
// stream.
func NewTracker(config TrackerConfig, repo Repository, receipts <-chan transport.Receipt) *Tracker {
	if config.ReceiptTimeout <= 0 {
		config.ReceiptTimeout = 30 * time.Second
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Second
	}
	return &Tracker{
		config:   config,
		repo:     repo,
		receipts: receipts,
		expected: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
	}
}

// Expect registers a freshly sent message for confirmation accounting.
func (t *Tracker) Expect(transportMessageID string) {
	t.mu.Lock()
	t.expected[transportMessageID] = time.Now().Add(t.config.ReceiptTimeout)
	t.mu.Unlock()
}

// Pending returns the number of sends still awaiting a receipt.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.expected)
}

// Start launches the receipt consumer and the expectation sweeper.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(2)
	go t.consume(ctx)
	go t.sweep(ctx)
	slog.Info("delivery confirmation tracker started",
		"receipt_timeout", t.config.ReceiptTimeout,
	)
}

// Stop shuts the tracker down and waits for its goroutines.
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
	slog.Info("delivery confirmation tracker stopped")
}

func (t *Tracker) consume(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case r, ok := <-t.receipts:
			if !ok {
				return
			}
			t.apply(ctx, r)
		}
	}
}

func (t *Tracker) apply(ctx context.Context, r transport.Receipt) {
	switch r.Kind {
	case transport.ReceiptDelivered, transport.ReceiptRead:
		t.applyUpgrade(ctx, r)
	case transport.ReceiptReply:
		t.applyReply(ctx, r)
	default:
		slog.Warn("unknown receipt kind discarded", "kind", r.Kind)
	}
}

func (t *Tracker) applyUpgrade(ctx context.Context, r transport.Receipt) {
	status := StatusDelivered
	if r.Kind == transport.ReceiptRead {
		status = StatusRead
	}

	err := t.repo.UpgradeStatus(ctx, r.TransportMessageID, status)
	switch {
	case errors.Is(err, ErrLogNotFound):
		recordReceipt(string(r.Kind), "unmatched")
		slog.Warn("receipt has no matching delivery log, discarding",
			"transport_message_id", r.TransportMessageID,
			"kind", r.Kind,
		)
		return
	case errors.Is(err, ErrNoForwardUpgrade):
		// Out-of-order receipt; the record is already further along.
		recordReceipt(string(r.Kind), "stale")
	case err != nil:
		recordReceipt(string(r.Kind), "error")
		slog.Error("failed to apply receipt",
			"transport_message_id", r.TransportMessageID,
			"kind", r.Kind,
			"error", err,
		)
		return
	default:
		recordReceipt(string(r.Kind), "applied")
	}

	t.mu.Lock()
	delete(t.expected, r.TransportMessageID)
	t.mu.Unlock()
}

func (t *Tracker) applyReply(ctx context.Context, r transport.Receipt) {
	err := t.repo.MarkResponded(ctx, r.DestinationID, r.At)
	if errors.Is(err, ErrLogNotFound) {
		recordReceipt(string(transport.ReceiptReply), "unmatched")
		slog.Debug("reply with no recent delivery to attribute",
			"destination_id", r.DestinationID,
		)
		return
	}
	if err != nil {
		recordReceipt(string(transport.ReceiptReply), "error")
		slog.Error("failed to record reply",
			"destination_id", r.DestinationID,
			"error", err,
		)
		return
	}
	recordReceipt(string(transport.ReceiptReply), "applied")
}

// sweep drops expectations whose receipt window has passed.
func (t *Tracker) sweep(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			t.mu.Lock()
			for id, deadline := range t.expected {
				if now.After(deadline) {
					delete(t.expected, id)
					recordReceiptTimeout()
				}
			}
			t.mu.Unlock()
		}
	}
}
