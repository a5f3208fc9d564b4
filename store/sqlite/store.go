// Package sqlite implements the Beacon store on SQLite via Grove ORM.
//
// SQLite suits single-process deployments; the claim path relies on the
// database's single-writer lock instead of FOR UPDATE SKIP LOCKED.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/queue"
	beaconstore "github.com/trackwell/beacon/store"
)

// compile-time interface check
var _ beaconstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("beacon/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("beacon/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Queue Store ====================

func (s *Store) InsertItem(ctx context.Context, item *queue.Item) error {
	m := toQueueItemModel(item)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ClaimDue(ctx context.Context, limit int) ([]*queue.Item, error) {
	var models []queueItemModel
	err := s.sdb.NewRaw(`
		UPDATE beacon_queue_items
		SET state = 'processing', claimed_at = datetime('now'), updated_at = datetime('now')
		WHERE id IN (
			SELECT id FROM beacon_queue_items
			WHERE state = 'pending' AND next_retry_at <= datetime('now')
			ORDER BY next_retry_at ASC
			LIMIT ?
		)
		RETURNING *
	`, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*queue.Item, len(models))
	for i := range models {
		item, err := fromQueueItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = item
	}
	return result, nil
}

func (s *Store) ClaimItem(ctx context.Context, itemID id.ID) (*queue.Item, error) {
	var models []queueItemModel
	err := s.sdb.NewRaw(`
		UPDATE beacon_queue_items
		SET state = 'processing', claimed_at = datetime('now'), updated_at = datetime('now')
		WHERE id = ? AND state = 'pending'
		RETURNING *
	`, itemID.String()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, s.transitionError(ctx, itemID)
	}
	return fromQueueItemModel(&models[0])
}

func (s *Store) CompleteItem(ctx context.Context, item *queue.Item) error {
	res, err := s.sdb.NewUpdate((*queueItemModel)(nil)).
		Set("state = ?", string(queue.StateCompleted)).
		Set("attempts = ?", item.Attempts).
		Set("last_error = ?", item.LastError).
		Set("last_status_code = ?", item.LastStatusCode).
		Set("completed_at = ?", item.CompletedAt).
		Set("claimed_at = NULL").
		Set("updated_at = datetime('now')").
		Where("id = ?", item.ID.String()).
		Where("state = ?", string(queue.StateProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, item.ID)
}

func (s *Store) RescheduleItem(ctx context.Context, item *queue.Item) error {
	res, err := s.sdb.NewUpdate((*queueItemModel)(nil)).
		Set("state = ?", string(queue.StatePending)).
		Set("attempts = ?", item.Attempts).
		Set("next_retry_at = ?", item.NextRetryAt).
		Set("last_error = ?", item.LastError).
		Set("last_status_code = ?", item.LastStatusCode).
		Set("claimed_at = NULL").
		Set("updated_at = datetime('now')").
		Where("id = ?", item.ID.String()).
		Where("state = ?", string(queue.StateProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, item.ID)
}

func (s *Store) FailItem(ctx context.Context, item *queue.Item) error {
	res, err := s.sdb.NewUpdate((*queueItemModel)(nil)).
		Set("state = ?", string(queue.StateFailed)).
		Set("attempts = ?", item.Attempts).
		Set("last_error = ?", item.LastError).
		Set("last_status_code = ?", item.LastStatusCode).
		Set("completed_at = ?", item.CompletedAt).
		Set("claimed_at = NULL").
		Set("updated_at = datetime('now')").
		Where("id = ?", item.ID.String()).
		Where("state = ?", string(queue.StateProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, item.ID)
}

func (s *Store) ReleaseItem(ctx context.Context, itemID id.ID) error {
	res, err := s.sdb.NewUpdate((*queueItemModel)(nil)).
		Set("state = ?", string(queue.StatePending)).
		Set("claimed_at = NULL").
		Set("updated_at = datetime('now')").
		Where("id = ?", itemID.String()).
		Where("state = ?", string(queue.StateProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, itemID)
}

func (s *Store) CancelItem(ctx context.Context, itemID id.ID) (*queue.Item, error) {
	var models []queueItemModel
	err := s.sdb.NewRaw(`
		UPDATE beacon_queue_items
		SET state = 'cancelled', completed_at = datetime('now'), updated_at = datetime('now')
		WHERE id = ? AND state = 'pending'
		RETURNING *
	`, itemID.String()).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, s.transitionError(ctx, itemID)
	}
	return fromQueueItemModel(&models[0])
}

func (s *Store) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewUpdate((*queueItemModel)(nil)).
		Set("state = ?", string(queue.StatePending)).
		Set("claimed_at = NULL").
		Set("updated_at = datetime('now')").
		Where("state = ?", string(queue.StateProcessing)).
		Where("claimed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetItem(ctx context.Context, itemID id.ID) (*queue.Item, error) {
	m := new(queueItemModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", itemID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, queue.ErrItemNotFound
		}
		return nil, err
	}
	return fromQueueItemModel(m)
}

func (s *Store) ItemsByOrder(ctx context.Context, orderID string) ([]*queue.Item, error) {
	var models []queueItemModel
	if err := s.sdb.NewSelect(&models).
		Where("order_id = ?", orderID).
		OrderExpr("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*queue.Item, len(models))
	for i := range models {
		item, err := fromQueueItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = item
	}
	return result, nil
}

func (s *Store) ListItems(ctx context.Context, opts queue.ListOpts) ([]*queue.Item, error) {
	var models []queueItemModel
	q := s.sdb.NewSelect(&models)

	if opts.State != nil {
		q = q.Where("state = ?", string(*opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*queue.Item, len(models))
	for i := range models {
		item, err := fromQueueItemModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = item
	}
	return result, nil
}

func (s *Store) DeleteTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*queueItemModel)(nil)).
		Where("state IN ('completed', 'failed', 'cancelled')").
		Where("completed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) QueueStats(ctx context.Context) (*queue.Stats, error) {
	var rows []struct {
		State string `grove:"state"`
		Count int64  `grove:"count"`
	}
	if err := s.sdb.NewRaw(`
		SELECT state, COUNT(*) AS count
		FROM beacon_queue_items
		GROUP BY state
	`).Scan(ctx, &rows); err != nil {
		return nil, err
	}

	stats := &queue.Stats{}
	for _, row := range rows {
		switch queue.State(row.State) {
		case queue.StatePending:
			stats.Pending = row.Count
		case queue.StateProcessing:
			stats.Processing = row.Count
		case queue.StateCompleted:
			stats.Completed = row.Count
		case queue.StateFailed:
			stats.Failed = row.Count
		case queue.StateCancelled:
			stats.Cancelled = row.Count
		}
	}

	if stats.Pending > 0 {
		var oldest []struct {
			CreatedAt time.Time `grove:"created_at"`
		}
		if err := s.sdb.NewRaw(`
			SELECT MIN(created_at) AS created_at
			FROM beacon_queue_items
			WHERE state = 'pending'
		`).Scan(ctx, &oldest); err != nil {
			return nil, err
		}
		if len(oldest) > 0 {
			stats.OldestPending = &oldest[0].CreatedAt
		}
	}
	return stats, nil
}

// checkTransition maps a zero-row conditional update to the right sentinel.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, itemID id.ID) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.transitionError(ctx, itemID)
	}
	return nil
}

// transitionError distinguishes a missing item from a state conflict.
func (s *Store) transitionError(ctx context.Context, itemID id.ID) error {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return err
	}
	return queue.ErrConflict
}

// ==================== Ledger Store ====================

func (s *Store) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	m := toLedgerEntryModel(e)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) HasSuccessSince(ctx context.Context, orderID, destination, eventType string, since time.Time) (bool, error) {
	count, err := s.sdb.NewSelect((*ledgerEntryModel)(nil)).
		Where("order_id = ?", orderID).
		Where("destination = ?", destination).
		Where("event_type = ?", eventType).
		Where("status = ?", string(ledger.StatusSuccess)).
		Where("created_at >= ?", since).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) HasAttemptSince(ctx context.Context, orderID, destination string, since time.Time) (bool, error) {
	count, err := s.sdb.NewSelect((*ledgerEntryModel)(nil)).
		Where("order_id = ?", orderID).
		Where("destination = ?", destination).
		Where("created_at >= ?", since).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) EntriesByOrder(ctx context.Context, orderID string) ([]*ledger.Entry, error) {
	var models []ledgerEntryModel
	if err := s.sdb.NewSelect(&models).
		Where("order_id = ?", orderID).
		OrderExpr("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*ledger.Entry, len(models))
	for i := range models {
		e, err := fromLedgerEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) LedgerStats(ctx context.Context, since time.Time) (map[string]ledger.StatusCounts, error) {
	var rows []struct {
		Destination string `grove:"destination"`
		Status      string `grove:"status"`
		Count       int64  `grove:"count"`
	}

	var err error
	if since.IsZero() {
		err = s.sdb.NewRaw(`
			SELECT destination, status, COUNT(*) AS count
			FROM beacon_ledger
			GROUP BY destination, status
		`).Scan(ctx, &rows)
	} else {
		err = s.sdb.NewRaw(`
			SELECT destination, status, COUNT(*) AS count
			FROM beacon_ledger
			WHERE created_at >= ?
			GROUP BY destination, status
		`, since).Scan(ctx, &rows)
	}
	if err != nil {
		return nil, err
	}

	result := make(map[string]ledger.StatusCounts)
	for _, row := range rows {
		counts := result[row.Destination]
		switch ledger.Status(row.Status) {
		case ledger.StatusSuccess:
			counts.Success = row.Count
		case ledger.StatusFailed:
			counts.Failed = row.Count
		case ledger.StatusQueued:
			counts.Queued = row.Count
		}
		result[row.Destination] = counts
	}
	return result, nil
}

func (s *Store) PurgeEntries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*ledgerEntryModel)(nil)).
		Where("created_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
