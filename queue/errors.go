package queue

import "errors"

var (
	// ErrDisabled is returned by Add when retry queueing is turned off.
	// Callers should record the failure as permanent instead of retrying.
	ErrDisabled = errors.New("beacon: retry queue is disabled")

	// ErrUnknownDestination is returned by Add when no sender is
	// registered for the destination key. The error is permanent: nothing
	// in the queue can make an unregistered destination deliverable.
	ErrUnknownDestination = errors.New("beacon: unknown destination")

	// ErrItemNotFound is returned when no item exists for the given ID.
	ErrItemNotFound = errors.New("beacon: queue item not found")

	// ErrConflict is returned when a state transition's precondition no
	// longer holds, e.g. cancelling an item a worker already claimed.
	ErrConflict = errors.New("beacon: queue item state conflict")

	// ErrInvalidPayload is returned by Add when the payload fails the
	// destination's registered schema.
	ErrInvalidPayload = errors.New("beacon: payload failed destination schema")
)
