package queue

import (
	"context"
	"time"

	"github.com/trackwell/beacon/id"
)

// Store is the persistence interface the queue needs.
//
// All state transitions are conditional: each method names the state the
// item must be in for the transition to apply, and implementations must
// perform the check and the write atomically. A transition whose
// precondition no longer holds returns ErrConflict, so two workers (or a
// worker and an operator) racing on the same item can never both win.
type Store interface {
	// InsertItem persists a new pending item.
	InsertItem(ctx context.Context, item *Item) error

	// ClaimDue atomically moves up to limit due pending items
	// (next_retry_at <= now) to processing, oldest next_retry_at first,
	// and returns them. Claimed items are invisible to concurrent calls.
	ClaimDue(ctx context.Context, limit int) ([]*Item, error)

	// ClaimItem atomically moves a single pending item to processing
	// regardless of its next_retry_at. Used for operator-triggered
	// immediate retries. Returns ErrConflict when the item is not pending.
	ClaimItem(ctx context.Context, itemID id.ID) (*Item, error)

	// CompleteItem moves a processing item to completed.
	CompleteItem(ctx context.Context, item *Item) error

	// RescheduleItem moves a processing item back to pending with the
	// item's updated attempt count, next retry time and last error.
	RescheduleItem(ctx context.Context, item *Item) error

	// FailItem moves a processing item to failed.
	FailItem(ctx context.Context, item *Item) error

	// ReleaseItem moves a processing item back to pending without
	// recording an attempt. Used when a claim is abandoned before any
	// send happens (e.g. throttled).
	ReleaseItem(ctx context.Context, itemID id.ID) error

	// CancelItem moves a pending item to cancelled. Returns ErrConflict
	// when the item is processing or terminal.
	CancelItem(ctx context.Context, itemID id.ID) (*Item, error)

	// ReleaseStale moves processing items claimed before the given time
	// back to pending and returns how many were released. It recovers
	// items orphaned by a crashed worker.
	ReleaseStale(ctx context.Context, before time.Time) (int64, error)

	// GetItem fetches an item by ID. Returns ErrItemNotFound when absent.
	GetItem(ctx context.Context, itemID id.ID) (*Item, error)

	// ItemsByOrder returns all items for an order, newest first.
	ItemsByOrder(ctx context.Context, orderID string) ([]*Item, error)

	// ListItems returns items with optional state filtering and pagination,
	// newest first.
	ListItems(ctx context.Context, opts ListOpts) ([]*Item, error)

	// DeleteTerminal deletes completed, failed and cancelled items that
	// reached their terminal state before the given time. Active items are
	// never touched.
	DeleteTerminal(ctx context.Context, before time.Time) (int64, error)

	// QueueStats counts items per state.
	QueueStats(ctx context.Context) (*Stats, error)
}
