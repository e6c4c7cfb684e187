package schedules

import "errors"

// Service errors.
var (
	ErrScheduleNotFound = errors.New("schedule not found")
	// ErrInvalidTrigger means the trigger definition does not match its
	// mode (bad cron expression, malformed batch time, unknown timezone).
	ErrInvalidTrigger = errors.New("invalid trigger definition")
	// ErrNoRecommendation means analytics has too little data to suggest
	// timing for the schedule's destinations.
	ErrNoRecommendation = errors.New("no timing recommendation available")
)
