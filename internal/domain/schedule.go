package domain

import (
	"regexp"
	"time"
)

// TriggerMode determines how a schedule decides when to dispatch.
type TriggerMode string

// Trigger modes.
const (
	TriggerModeCron       TriggerMode = "cron"
	TriggerModeBatchTimes TriggerMode = "batch_times"
	TriggerModeImmediate  TriggerMode = "immediate"
)

// IsValid checks if the trigger mode is valid.
func (m TriggerMode) IsValid() bool {
	switch m {
	case TriggerModeCron, TriggerModeBatchTimes, TriggerModeImmediate:
		return true
	}
	return false
}

// Schedule describes when and to whom content should be dispatched.
type Schedule struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	TriggerMode    TriggerMode `json:"trigger_mode"`
	CronExpr       string      `json:"cron_expr,omitempty"`
	BatchTimes     []string    `json:"batch_times,omitempty"` // "HH:MM" entries
	Timezone       string      `json:"timezone"`
	SourceRef      string      `json:"source_ref"`
	DestinationIDs []string    `json:"destination_ids"`
	TemplateRef    string      `json:"template_ref"`
	Active         bool        `json:"active"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

var reBatchTime = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ValidBatchTime reports whether s is a valid "HH:MM" wall-clock entry.
func ValidBatchTime(s string) bool {
	return reBatchTime.MatchString(s)
}

// Location resolves the schedule's timezone, falling back to UTC.
func (s *Schedule) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
