package ledger

import (
	"context"
	"time"
)

// Store is the persistence interface the ledger needs.
//
// Entries are append-only: implementations expose no update path, and
// PurgeEntries is the only deletion path.
type Store interface {
	// InsertEntry persists a new immutable entry.
	InsertEntry(ctx context.Context, e *Entry) error

	// HasSuccessSince reports whether a success entry exists for the
	// order+destination+eventType triple at or after the given time.
	HasSuccessSince(ctx context.Context, orderID, destination, eventType string, since time.Time) (bool, error)

	// HasAttemptSince reports whether any entry (success or failure)
	// exists for the order+destination pair at or after the given time.
	HasAttemptSince(ctx context.Context, orderID, destination string, since time.Time) (bool, error)

	// EntriesByOrder returns all entries for an order, newest first.
	EntriesByOrder(ctx context.Context, orderID string) ([]*Entry, error)

	// LedgerStats counts entries per destination and status created at or
	// after the given time. The zero time means no lower bound.
	LedgerStats(ctx context.Context, since time.Time) (map[string]StatusCounts, error)

	// PurgeEntries deletes entries created before the given time.
	PurgeEntries(ctx context.Context, before time.Time) (int64, error)
}
