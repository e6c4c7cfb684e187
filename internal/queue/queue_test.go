package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_IsValid(t *testing.T) {
	valid := []Status{
		StatusPending, StatusProcessing, StatusSent,
		StatusFailed, StatusSkipped, StatusPaused,
	}
	for _, s := range valid {
		assert.True(t, s.IsValid(), "status %q should be valid", s)
	}

	assert.False(t, Status("").IsValid())
	assert.False(t, Status("delivered").IsValid())
	assert.False(t, Status("PENDING").IsValid())
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusPaused, false},
		{StatusSent, true},
		{StatusFailed, true},
		{StatusSkipped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"pending to processing", StatusPending, StatusProcessing, true},
		{"pending to paused", StatusPending, StatusPaused, true},
		{"pending to sent", StatusPending, StatusSent, false},
		{"pending to failed", StatusPending, StatusFailed, false},

		{"processing to sent", StatusProcessing, StatusSent, true},
		{"processing to failed", StatusProcessing, StatusFailed, true},
		{"processing to skipped", StatusProcessing, StatusSkipped, true},
		{"processing to pending", StatusProcessing, StatusPending, true},
		{"processing to paused", StatusProcessing, StatusPaused, true},

		{"paused to pending", StatusPaused, StatusPending, true},
		{"paused to processing", StatusPaused, StatusProcessing, false},
		{"paused to sent", StatusPaused, StatusSent, false},

		{"failed to pending", StatusFailed, StatusPending, true},
		{"failed to processing", StatusFailed, StatusProcessing, false},

		{"sent is terminal", StatusSent, StatusPending, false},
		{"skipped is terminal", StatusSkipped, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}
