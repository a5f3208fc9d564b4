package queue

import (
	"time"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/internal/entity"
)

// State represents the current state of a queue item.
type State string

const (
	// StatePending indicates the item is awaiting a retry attempt.
	StatePending State = "pending"

	// StateProcessing indicates a worker has claimed the item and a send
	// is in flight. Items in this state are invisible to other workers.
	StateProcessing State = "processing"

	// StateCompleted indicates a retry eventually succeeded.
	StateCompleted State = "completed"

	// StateFailed indicates all attempts were exhausted.
	StateFailed State = "failed"

	// StateCancelled indicates an operator cancelled the item before it
	// completed.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Item represents one failed send awaiting retry.
type Item struct {
	entity.Entity

	// ID is the unique TypeID for this item.
	ID id.ID `json:"id"`

	// OrderID is the opaque reference to the purchase order.
	OrderID string `json:"order_id"`

	// Destination is the destination key the send targets.
	Destination string `json:"destination"`

	// EventType is the application-defined event category (e.g. "purchase").
	EventType string `json:"event_type"`

	// Payload is the serialized event data replayed verbatim on retry.
	Payload []byte `json:"payload,omitempty"`

	// Attribution is the attribution snapshot carried to the ledger on
	// each recorded attempt.
	Attribution map[string]string `json:"attribution,omitempty"`

	// State is the current item state.
	State State `json:"state"`

	// Attempts is the number of retry attempts made so far. It does not
	// count the original synchronous send that enqueued the item.
	Attempts int `json:"attempts"`

	// MaxAttempts is the cap after which the item fails permanently.
	MaxAttempts int `json:"max_attempts"`

	// NextRetryAt is when the item next becomes eligible.
	NextRetryAt time.Time `json:"next_retry_at"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastStatusCode is the status code from the most recent attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// ClaimedAt is when a worker claimed the item; set only while the
	// item is processing.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// CompletedAt is when the item reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListOpts configures filtering and pagination for item listing.
type ListOpts struct {
	Offset int
	Limit  int
	State  *State
}

// Stats summarizes the queue by state.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Cancelled  int64 `json:"cancelled"`

	// OldestPending is the enqueue time of the oldest pending item,
	// nil when the queue has no pending items.
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}
