// Package dedup decides whether a candidate message is too similar to
// recently sent content for the same destination.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RecentSend is one previously sent message kept for comparison.
type RecentSend struct {
	LogID  string    `json:"logId"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sentAt"`
}

// RecentCache holds the most recent sends per destination for fast lookup.
// Implementations may lose data (it is a cache); the filter falls back to
// the history source when the cache has nothing.
type RecentCache interface {
	Recent(ctx context.Context, destinationID string, limit int) ([]RecentSend, error)
	Remember(ctx context.Context, destinationID string, send RecentSend) error
}

// HistorySource reads recent sent messages from durable storage.
type HistorySource interface {
	RecentSends(ctx context.Context, destinationID string, since time.Time, limit int) ([]RecentSend, error)
}

// Config holds filter settings.
type Config struct {
	// Threshold is the similarity score at or above which a candidate is
	// treated as a duplicate. Valid range 0.5-1.0.
	Threshold float64
	// Lookback bounds how old a previous send may be and still count.
	Lookback time.Duration
	// MaxRecent caps how many previous sends are compared.
	MaxRecent int
}

// Result reports the outcome of a duplicate check.
type Result struct {
	Duplicate bool
	Score     float64
	MatchedID string
	Reason    string
}

// Filter compares candidates against recent sends using an injected
// similarity strategy.
type Filter struct {
	config   Config
	strategy Strategy
	cache    RecentCache // may be nil
	history  HistorySource
}

// NewFilter creates a dedup filter. cache may be nil, in which case every
// check reads from history.
func NewFilter(config Config, strategy Strategy, cache RecentCache, history HistorySource) *Filter {
	if config.MaxRecent <= 0 {
		config.MaxRecent = 20
	}
	return &Filter{
		config:   config,
		strategy: strategy,
		cache:    cache,
		history:  history,
	}
}

// Check scores the candidate against recent sends to the destination.
// Storage errors degrade to a pass: a broken cache must never block sends.
func (f *Filter) Check(ctx context.Context, destinationID, text string) Result {
	recent := f.recent(ctx, destinationID)

	cutoff := time.Now().Add(-f.config.Lookback)
	best := Result{}
	for _, prev := range recent {
		if f.config.Lookback > 0 && prev.SentAt.Before(cutoff) {
			continue
		}
		score := f.strategy.Similarity(text, prev.Text)
		if score > best.Score {
			best.Score = score
			best.MatchedID = prev.LogID
		}
	}

	if best.Score >= f.config.Threshold {
		best.Duplicate = true
		best.Reason = fmt.Sprintf("similar to %s (%s score %.2f >= %.2f)",
			best.MatchedID, f.strategy.Name(), best.Score, f.config.Threshold)
	}
	return best
}

// Remember records a successful send for future checks.
func (f *Filter) Remember(ctx context.Context, destinationID string, send RecentSend) {
	if f.cache == nil {
		return
	}
	if err := f.cache.Remember(ctx, destinationID, send); err != nil {
		slog.Warn("failed to cache recent send",
			"destination_id", destinationID,
			"error", err,
		)
	}
}

func (f *Filter) recent(ctx context.Context, destinationID string) []RecentSend {
	if f.cache != nil {
		recent, err := f.cache.Recent(ctx, destinationID, f.config.MaxRecent)
		if err != nil {
			slog.Warn("recent-sends cache read failed, falling back to history",
				"destination_id", destinationID,
				"error", err,
			)
		} else if len(recent) > 0 {
			return recent
		}
	}

	if f.history == nil {
		return nil
	}

	since := time.Now().Add(-f.config.Lookback)
	recent, err := f.history.RecentSends(ctx, destinationID, since, f.config.MaxRecent)
	if err != nil {
		slog.Error("failed to read send history for dedup",
			"destination_id", destinationID,
			"error", err,
		)
		return nil
	}
	return recent
}
