// Package transport defines the contract with the external messaging
// transport and a webhook-based adapter implementation.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/relaybird/relaybird/internal/domain"
)

// ReceiptKind classifies an asynchronous event from the transport.
type ReceiptKind string

// Receipt kinds.
const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
	ReceiptReply     ReceiptKind = "reply"
)

// IsValid checks if the receipt kind is valid.
func (k ReceiptKind) IsValid() bool {
	switch k {
	case ReceiptDelivered, ReceiptRead, ReceiptReply:
		return true
	}
	return false
}

// Receipt is an asynchronous delivery/read/reply event emitted by the
// transport after a send. Reply receipts carry the destination instead of a
// message id.
type Receipt struct {
	TransportMessageID string
	DestinationID      string
	Kind               ReceiptKind
	At                 time.Time
}

// Adapter delivers rendered content to a destination over the messaging
// network. Implementations must be safe for concurrent use.
type Adapter interface {
	// Send delivers content and returns the transport-assigned message id.
	Send(ctx context.Context, destinationID string, content domain.RenderedContent) (string, error)
	// Receipts returns the stream of asynchronous receipt events. The
	// channel is closed when the adapter shuts down.
	Receipts() <-chan Receipt
}

// ErrPermanent marks a send failure that must not be retried (destination
// invalid or blocked). Wrap it with fmt.Errorf("...: %w", ErrPermanent) or
// use Permanent().
var ErrPermanent = errors.New("permanent transport error")

// Permanent wraps err as a non-retryable transport failure.
func Permanent(err error) error {
	return permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Is makes errors.Is(err, ErrPermanent) match wrapped permanent errors.
func (e permanentError) Is(target error) bool { return target == ErrPermanent }

// IsPermanent reports whether a send error is terminal for the queue item.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
