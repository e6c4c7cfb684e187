package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_IntraTargetSpacing(t *testing.T) {
	l := New(Config{IntraTargetDelay: 50 * time.Millisecond})
	ctx := context.Background()

	// First send to a destination passes immediately.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "dest-1"))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	l.Record("dest-1", time.Now())

	// Second send to the same destination waits out the gap.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "dest-1"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestLimiter_DestinationsIndependent(t *testing.T) {
	l := New(Config{IntraTargetDelay: time.Hour})
	ctx := context.Background()

	l.Record("dest-1", time.Now())

	// A different destination is not affected by dest-1's last send.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "dest-2"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_MaxWaitExceeded(t *testing.T) {
	l := New(Config{
		IntraTargetDelay: time.Hour,
		MaxWait:          20 * time.Millisecond,
	})

	l.Record("dest-1", time.Now())

	err := l.Wait(context.Background(), "dest-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimitExceeded))
}

func TestLimiter_ContextCanceled(t *testing.T) {
	l := New(Config{IntraTargetDelay: time.Hour})

	l.Record("dest-1", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Wait(ctx, "dest-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLimiter_GlobalSpacing(t *testing.T) {
	l := New(Config{InterTargetDelay: 30 * time.Millisecond})
	ctx := context.Background()

	// Token bucket starts full, so the first send passes.
	require.NoError(t, l.Wait(ctx, "dest-1"))

	// The next send, even to a different destination, waits for the gap.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "dest-2"))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLimiter_ZeroConfigNeverBlocks(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()

	l.Record("dest-1", time.Now())

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(ctx, "dest-1"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_MetricsCountExceededWaits(t *testing.T) {
	l := New(Config{
		IntraTargetDelay: time.Hour,
		MaxWait:          10 * time.Millisecond,
	})

	l.Record("dest-1", time.Now())

	before := testutil.ToFloat64(waitsExceeded)
	err := l.Wait(context.Background(), "dest-1")
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, before+1, testutil.ToFloat64(waitsExceeded))

	// A clear pass observes a wait duration but does not count as exceeded.
	require.NoError(t, l.Wait(context.Background(), "dest-2"))
	assert.Equal(t, before+1, testutil.ToFloat64(waitsExceeded))
}

func TestLimiter_LastSend(t *testing.T) {
	l := New(Config{})

	_, ok := l.LastSend("dest-1")
	assert.False(t, ok)

	at := time.Now()
	l.Record("dest-1", at)

	got, ok := l.LastSend("dest-1")
	require.True(t, ok)
	assert.Equal(t, at, got)
}
