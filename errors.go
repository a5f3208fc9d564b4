package beacon

import (
	"errors"

	"github.com/trackwell/beacon/queue"
	"github.com/trackwell/beacon/sender"
)

// Sentinel errors returned by Beacon operations.
var (
	// ErrNoStore is returned when a Beacon is created without a store.
	ErrNoStore = errors.New("beacon: store is required")

	// ErrNoSenders is returned when a Beacon is created without any
	// registered destination.
	ErrNoSenders = errors.New("beacon: at least one sender is required")

	// ErrInvalidSchedule is returned when the backoff schedule is empty or
	// contains a non-positive interval.
	ErrInvalidSchedule = errors.New("beacon: invalid backoff schedule")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("beacon: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("beacon: migration failed")
)

// Domain sentinels re-exported so callers can match errors without
// importing the subsystem packages.
var (
	// ErrQueueDisabled is returned by Forward and Queue.Add when retry
	// queueing is turned off.
	ErrQueueDisabled = queue.ErrDisabled

	// ErrUnknownDestination is returned when no sender is registered for
	// a destination key.
	ErrUnknownDestination = queue.ErrUnknownDestination

	// ErrItemNotFound is returned when a queue item does not exist.
	ErrItemNotFound = queue.ErrItemNotFound

	// ErrConflict is returned when a queue item transition races with
	// another worker or operator action.
	ErrConflict = queue.ErrConflict

	// ErrInvalidPayload is returned when a payload fails its destination's
	// registered schema.
	ErrInvalidPayload = queue.ErrInvalidPayload

	// ErrSchemaValidation is returned by sender registration helpers when
	// a payload does not match the registered schema.
	ErrSchemaValidation = sender.ErrSchemaValidation
)
