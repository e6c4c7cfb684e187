// Package ratelimit enforces minimum spacing between sends, globally and per
// destination.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned when clearance could not be obtained
// within the configured maximum wait. It is a transient condition: the queue
// manager routes it through the retry path.
var ErrRateLimitExceeded = errors.New("rate limit clearance exceeded max wait")

// Config holds limiter settings.
type Config struct {
	// IntraTargetDelay is the minimum gap between two sends to the same
	// destination.
	IntraTargetDelay time.Duration
	// InterTargetDelay is the minimum gap between any two sends,
	// approximating a global throughput cap.
	InterTargetDelay time.Duration
	// MaxWait bounds how long a claim may block waiting for clearance.
	MaxWait time.Duration
}

// Limiter paces sends. The global constraint uses a token bucket; the
// per-destination constraint tracks last-send timestamps. Safe for
// concurrent use, though each destination's timestamp is only ever written
// by that destination's worker.
type Limiter struct {
	config Config
	global *rate.Limiter

	mu       sync.Mutex
	lastSend map[string]time.Time
}

// New creates a limiter from config. A zero InterTargetDelay disables the
// global constraint; a zero IntraTargetDelay disables per-destination
// spacing.
func New(config Config) *Limiter {
	global := rate.NewLimiter(rate.Inf, 1)
	if config.InterTargetDelay > 0 {
		global = rate.NewLimiter(rate.Every(config.InterTargetDelay), 1)
	}
	return &Limiter{
		config:   config,
		global:   global,
		lastSend: make(map[string]time.Time),
	}
}

// Wait blocks until both spacing constraints are satisfied for the
// destination, or fails with ErrRateLimitExceeded / the context error.
func (l *Limiter) Wait(ctx context.Context, destinationID string) error {
	start := time.Now()
	defer func() { recordWait(time.Since(start)) }()

	if l.config.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.MaxWait)
		defer cancel()
	}

	if d := l.intraDelay(destinationID); d > 0 {
		if !sleep(ctx, d) {
			return waitErr(ctx)
		}
	}

	if err := l.global.Wait(ctx); err != nil {
		return waitErr(ctx)
	}
	return nil
}

// Record notes a completed send to the destination.
func (l *Limiter) Record(destinationID string, at time.Time) {
	l.mu.Lock()
	l.lastSend[destinationID] = at
	l.mu.Unlock()
}

// LastSend returns the most recent recorded send time for a destination.
func (l *Limiter) LastSend(destinationID string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.lastSend[destinationID]
	return t, ok
}

// intraDelay returns how long the destination must still wait.
func (l *Limiter) intraDelay(destinationID string) time.Duration {
	if l.config.IntraTargetDelay <= 0 {
		return 0
	}
	l.mu.Lock()
	last, ok := l.lastSend[destinationID]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	remaining := l.config.IntraTargetDelay - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// waitErr distinguishes the caller's cancellation from our own max-wait
// deadline.
func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		recordExceeded()
		return ErrRateLimitExceeded
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	recordExceeded()
	return ErrRateLimitExceeded
}
