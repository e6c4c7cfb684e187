package quiet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-08-24 is a Monday.
func mondayAt(hour, minute int, loc *time.Location) time.Time {
	return time.Date(2026, 8, 24, hour, minute, 0, 0, loc)
}

func TestWindowPolicy_Evaluate(t *testing.T) {
	policy, err := NewWindowPolicy(time.UTC, []Window{
		{Start: "22:00", End: "08:00", Reason: "night hold"},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		at     time.Time
		active bool
	}{
		{"midday is clear", mondayAt(12, 0, time.UTC), false},
		{"just before start", mondayAt(21, 59, time.UTC), false},
		{"at start", mondayAt(22, 0, time.UTC), true},
		{"late evening", mondayAt(23, 30, time.UTC), true},
		{"after midnight", mondayAt(3, 0, time.UTC), true},
		{"just before end", mondayAt(7, 59, time.UTC), true},
		{"at end", mondayAt(8, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			period := policy.Evaluate(tt.at)
			assert.Equal(t, tt.active, period.Active)
			if tt.active {
				assert.Equal(t, "night hold", period.Reason)
			}
		})
	}
}

func TestWindowPolicy_MidnightWrapBounds(t *testing.T) {
	policy, err := NewWindowPolicy(time.UTC, []Window{
		{Start: "22:00", End: "08:00"},
	})
	require.NoError(t, err)

	// Monday 03:00 falls inside the window that started Sunday evening.
	period := policy.Evaluate(mondayAt(3, 0, time.UTC))
	require.True(t, period.Active)
	assert.Equal(t, time.Date(2026, 8, 23, 22, 0, 0, 0, time.UTC), period.StartsAt)
	assert.Equal(t, time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC), period.EndsAt)

	// Monday 23:00 belongs to the window ending Tuesday morning.
	period = policy.Evaluate(mondayAt(23, 0, time.UTC))
	require.True(t, period.Active)
	assert.Equal(t, time.Date(2026, 8, 24, 22, 0, 0, 0, time.UTC), period.StartsAt)
	assert.Equal(t, time.Date(2026, 8, 25, 8, 0, 0, 0, time.UTC), period.EndsAt)
}

func TestWindowPolicy_WeekdayFilter(t *testing.T) {
	policy, err := NewWindowPolicy(time.UTC, []Window{
		{Start: "09:00", End: "17:00", Weekdays: []time.Weekday{time.Saturday, time.Sunday}},
	})
	require.NoError(t, err)

	assert.False(t, policy.Evaluate(mondayAt(12, 0, time.UTC)).Active)

	saturday := time.Date(2026, 8, 22, 12, 0, 0, 0, time.UTC)
	assert.True(t, policy.Evaluate(saturday).Active)
}

func TestWindowPolicy_WrappedWindowMatchesStartWeekday(t *testing.T) {
	// Friday-night hold: starts Friday 23:00, ends Saturday 06:00.
	policy, err := NewWindowPolicy(time.UTC, []Window{
		{Start: "23:00", End: "06:00", Weekdays: []time.Weekday{time.Friday}},
	})
	require.NoError(t, err)

	// Saturday 02:00 is inside the window that started on Friday.
	saturdayNight := time.Date(2026, 8, 22, 2, 0, 0, 0, time.UTC)
	assert.True(t, policy.Evaluate(saturdayNight).Active)

	// Sunday 02:00 would belong to a Saturday-start window, which is filtered.
	sundayNight := time.Date(2026, 8, 23, 2, 0, 0, 0, time.UTC)
	assert.False(t, policy.Evaluate(sundayNight).Active)
}

func TestWindowPolicy_LongestWindowWins(t *testing.T) {
	policy, err := NewWindowPolicy(time.UTC, []Window{
		{Start: "12:00", End: "13:00", Reason: "short"},
		{Start: "12:00", End: "18:00", Reason: "long"},
	})
	require.NoError(t, err)

	period := policy.Evaluate(mondayAt(12, 30, time.UTC))
	require.True(t, period.Active)
	assert.Equal(t, "long", period.Reason)
	assert.Equal(t, mondayAt(18, 0, time.UTC), period.EndsAt)
}

func TestWindowPolicy_Location(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	policy, err := NewWindowPolicy(loc, []Window{
		{Start: "22:00", End: "08:00"},
	})
	require.NoError(t, err)

	// 20:00 UTC is 23:00 in Moscow, inside the window.
	assert.True(t, policy.Evaluate(mondayAt(20, 0, time.UTC)).Active)
	// 10:00 UTC is 13:00 in Moscow, outside.
	assert.False(t, policy.Evaluate(mondayAt(10, 0, time.UTC)).Active)
}

func TestNewWindowPolicy_RejectsBadClock(t *testing.T) {
	_, err := NewWindowPolicy(time.UTC, []Window{{Start: "25:00", End: "08:00"}})
	assert.Error(t, err)

	_, err = NewWindowPolicy(time.UTC, []Window{{Start: "22:00", End: "8 pm"}})
	assert.Error(t, err)
}

func TestParseWeekdays(t *testing.T) {
	days, err := ParseWeekdays([]string{"mon", "Tuesday", " WED "})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Tuesday, time.Wednesday}, days)

	_, err = ParseWeekdays([]string{"noday"})
	assert.Error(t, err)

	_, err = ParseWeekdays([]string{"mo"})
	assert.Error(t, err)
}
