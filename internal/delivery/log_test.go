package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_IsValid(t *testing.T) {
	valid := []Status{StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusSkipped}
	for _, s := range valid {
		assert.True(t, s.IsValid(), "status %q should be valid", s)
	}

	assert.False(t, Status("").IsValid())
	assert.False(t, Status("pending").IsValid())
}

func TestStatus_CanUpgradeTo(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"sent to delivered", StatusSent, StatusDelivered, true},
		{"sent to read", StatusSent, StatusRead, true},
		{"delivered to read", StatusDelivered, StatusRead, true},

		{"delivered to delivered", StatusDelivered, StatusDelivered, false},
		{"read to delivered", StatusRead, StatusDelivered, false},
		{"delivered to sent", StatusDelivered, StatusSent, false},

		{"failed never upgrades", StatusFailed, StatusDelivered, false},
		{"skipped never upgrades", StatusSkipped, StatusRead, false},
		{"nothing upgrades to failed", StatusSent, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanUpgradeTo(tt.to))
		})
	}
}
