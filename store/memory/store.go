// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trackwell/beacon"
	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/queue"
	beaconstore "github.com/trackwell/beacon/store"
)

// compile-time interface check.
var _ beaconstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	items   map[string]*queue.Item   // keyed by ID string
	entries map[string]*ledger.Entry // keyed by ID string

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		items:   make(map[string]*queue.Item),
		entries: make(map[string]*ledger.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return beacon.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// queue.Store
// ──────────────────────────────────────────────────

// copyItem returns a shallow copy of the item.
func copyItem(item *queue.Item) *queue.Item {
	cp := *item
	return &cp
}

// InsertItem persists a new pending item.
func (s *Store) InsertItem(_ context.Context, item *queue.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID.String()] = copyItem(item)
	return nil
}

// ClaimDue atomically moves due pending items to processing.
// Returns copies so callers can mutate without holding a lock.
func (s *Store) ClaimDue(_ context.Context, limit int) ([]*queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	candidates := make([]*queue.Item, 0, len(s.items))

	for _, item := range s.items {
		if item.State != queue.StatePending {
			continue
		}
		if item.NextRetryAt.After(now) {
			continue
		}
		candidates = append(candidates, item)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextRetryAt.Before(candidates[j].NextRetryAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*queue.Item, 0, len(candidates))
	for _, item := range candidates {
		item.State = queue.StateProcessing
		claimed := now
		item.ClaimedAt = &claimed
		item.UpdatedAt = now
		result = append(result, copyItem(item))
	}

	return result, nil
}

// ClaimItem moves a single pending item to processing regardless of due time.
func (s *Store) ClaimItem(_ context.Context, itemID id.ID) (*queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID.String()]
	if !ok {
		return nil, queue.ErrItemNotFound
	}
	if item.State != queue.StatePending {
		return nil, queue.ErrConflict
	}

	now := time.Now().UTC()
	item.State = queue.StateProcessing
	item.ClaimedAt = &now
	item.UpdatedAt = now
	return copyItem(item), nil
}

// transition applies fn to a processing item, failing with ErrConflict when
// the item is in any other state.
func (s *Store) transition(itemID id.ID, fn func(stored *queue.Item)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[itemID.String()]
	if !ok {
		return queue.ErrItemNotFound
	}
	if stored.State != queue.StateProcessing {
		return queue.ErrConflict
	}

	fn(stored)
	stored.ClaimedAt = nil
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

// CompleteItem moves a processing item to completed.
func (s *Store) CompleteItem(_ context.Context, item *queue.Item) error {
	return s.transition(item.ID, func(stored *queue.Item) {
		stored.State = queue.StateCompleted
		stored.Attempts = item.Attempts
		stored.LastError = item.LastError
		stored.LastStatusCode = item.LastStatusCode
		stored.CompletedAt = item.CompletedAt
	})
}

// RescheduleItem moves a processing item back to pending for a later attempt.
func (s *Store) RescheduleItem(_ context.Context, item *queue.Item) error {
	return s.transition(item.ID, func(stored *queue.Item) {
		stored.State = queue.StatePending
		stored.Attempts = item.Attempts
		stored.NextRetryAt = item.NextRetryAt
		stored.LastError = item.LastError
		stored.LastStatusCode = item.LastStatusCode
	})
}

// FailItem moves a processing item to failed.
func (s *Store) FailItem(_ context.Context, item *queue.Item) error {
	return s.transition(item.ID, func(stored *queue.Item) {
		stored.State = queue.StateFailed
		stored.Attempts = item.Attempts
		stored.LastError = item.LastError
		stored.LastStatusCode = item.LastStatusCode
		stored.CompletedAt = item.CompletedAt
	})
}

// ReleaseItem moves a processing item back to pending without recording an
// attempt.
func (s *Store) ReleaseItem(_ context.Context, itemID id.ID) error {
	return s.transition(itemID, func(stored *queue.Item) {
		stored.State = queue.StatePending
	})
}

// CancelItem moves a pending item to cancelled.
func (s *Store) CancelItem(_ context.Context, itemID id.ID) (*queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID.String()]
	if !ok {
		return nil, queue.ErrItemNotFound
	}
	if item.State != queue.StatePending {
		return nil, queue.ErrConflict
	}

	now := time.Now().UTC()
	item.State = queue.StateCancelled
	item.CompletedAt = &now
	item.UpdatedAt = now
	return copyItem(item), nil
}

// ReleaseStale moves processing items claimed before the given time back to
// pending.
func (s *Store) ReleaseStale(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var count int64
	for _, item := range s.items {
		if item.State != queue.StateProcessing {
			continue
		}
		if item.ClaimedAt == nil || !item.ClaimedAt.Before(before) {
			continue
		}
		item.State = queue.StatePending
		item.ClaimedAt = nil
		item.UpdatedAt = now
		count++
	}
	return count, nil
}

// GetItem returns a copy of the item by ID.
func (s *Store) GetItem(_ context.Context, itemID id.ID) (*queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID.String()]
	if !ok {
		return nil, queue.ErrItemNotFound
	}
	return copyItem(item), nil
}

// ItemsByOrder returns all items for an order, newest first.
func (s *Store) ItemsByOrder(_ context.Context, orderID string) ([]*queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*queue.Item
	for _, item := range s.items {
		if item.OrderID != orderID {
			continue
		}
		result = append(result, copyItem(item))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// ListItems returns items with optional state filtering and pagination.
func (s *Store) ListItems(_ context.Context, opts queue.ListOpts) ([]*queue.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*queue.Item, 0, len(s.items))
	for _, item := range s.items {
		if opts.State != nil && item.State != *opts.State {
			continue
		}
		result = append(result, copyItem(item))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// DeleteTerminal deletes terminal items completed before the given time.
func (s *Store) DeleteTerminal(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, item := range s.items {
		if !item.State.Terminal() {
			continue
		}
		if item.CompletedAt == nil || !item.CompletedAt.Before(before) {
			continue
		}
		delete(s.items, k)
		count++
	}
	return count, nil
}

// QueueStats counts items per state.
func (s *Store) QueueStats(_ context.Context) (*queue.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &queue.Stats{}
	for _, item := range s.items {
		switch item.State {
		case queue.StatePending:
			stats.Pending++
			if stats.OldestPending == nil || item.CreatedAt.Before(*stats.OldestPending) {
				created := item.CreatedAt
				stats.OldestPending = &created
			}
		case queue.StateProcessing:
			stats.Processing++
		case queue.StateCompleted:
			stats.Completed++
		case queue.StateFailed:
			stats.Failed++
		case queue.StateCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// ──────────────────────────────────────────────────
// ledger.Store
// ──────────────────────────────────────────────────

// copyEntry returns a shallow copy of the entry.
func copyEntry(e *ledger.Entry) *ledger.Entry {
	cp := *e
	return &cp
}

// InsertEntry persists a new ledger entry.
func (s *Store) InsertEntry(_ context.Context, e *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[e.ID.String()] = copyEntry(e)
	return nil
}

// HasSuccessSince reports whether a success entry exists for the triple at
// or after the given time.
func (s *Store) HasSuccessSince(_ context.Context, orderID, destination, eventType string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.Status != ledger.StatusSuccess {
			continue
		}
		if e.OrderID != orderID || e.Destination != destination || e.EventType != eventType {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		return true, nil
	}
	return false, nil
}

// HasAttemptSince reports whether any entry exists for the pair at or after
// the given time.
func (s *Store) HasAttemptSince(_ context.Context, orderID, destination string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.OrderID != orderID || e.Destination != destination {
			continue
		}
		if e.CreatedAt.Before(since) {
			continue
		}
		return true, nil
	}
	return false, nil
}

// EntriesByOrder returns all entries for an order, newest first.
func (s *Store) EntriesByOrder(_ context.Context, orderID string) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ledger.Entry
	for _, e := range s.entries {
		if e.OrderID != orderID {
			continue
		}
		result = append(result, copyEntry(e))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// LedgerStats counts entries per destination and status created at or after
// the given time. The zero time means no lower bound.
func (s *Store) LedgerStats(_ context.Context, since time.Time) (map[string]ledger.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]ledger.StatusCounts)
	for _, e := range s.entries {
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		counts := result[e.Destination]
		switch e.Status {
		case ledger.StatusSuccess:
			counts.Success++
		case ledger.StatusFailed:
			counts.Failed++
		case ledger.StatusQueued:
			counts.Queued++
		}
		result[e.Destination] = counts
	}
	return result, nil
}

// PurgeEntries deletes entries created before the given time.
func (s *Store) PurgeEntries(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, e := range s.entries {
		if e.CreatedAt.Before(before) {
			delete(s.entries, k)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
