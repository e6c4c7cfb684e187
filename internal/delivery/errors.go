package delivery

import "errors"

// Repository errors.
var (
	ErrLogNotFound = errors.New("delivery log record not found")
	// ErrNoForwardUpgrade is returned when a receipt would move a record
	// backwards (e.g. a delivered receipt after a read one). Not a fault:
	// receipts may arrive out of order.
	ErrNoForwardUpgrade = errors.New("receipt does not advance delivery status")
)
