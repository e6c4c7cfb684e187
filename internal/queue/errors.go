package queue

import "errors"

// Repository errors.
var (
	ErrItemNotFound = errors.New("queue item not found")
	// ErrNoEligibleItem means no pending item is due for the destination.
	ErrNoEligibleItem = errors.New("no eligible queue item")
	// ErrDuplicateItem means a queue item already exists for the
	// (schedule, content item, destination) triple.
	ErrDuplicateItem = errors.New("queue item already exists for this content and destination")
	// ErrInvalidTransition means the item's current status does not allow
	// the requested operation.
	ErrInvalidTransition = errors.New("operation not allowed in current item status")
)
