// Package postgres implements the Beacon store on PostgreSQL via Grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/queue"
	beaconstore "github.com/trackwell/beacon/store"
)

// compile-time interface check
var _ beaconstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("beacon/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("beacon/postgres: migration failed: %w", err)
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ClaimDue(ctx context.Context, limit int) ([]*queue.Item, error) {
	// Raw SQL for the FOR UPDATE SKIP LOCKED claim pattern: concurrent
	// schedulers never pick up the same item.
	var models []queueItemModel
	err := s.pg.NewRaw(`
		UPDATE beacon_queue_items
		SET state = 'processing', claimed_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM beacon_queue_items
			WHERE state = 'pending' AND next_retry_at <= NOW()
			ORDER BY next_retry_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
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
	err := s.pg.NewRaw(`
		UPDATE beacon_queue_items
		SET state = 'processing', claimed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'pending'
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
	res, err := s.pg.NewUpdate((*queueItemModel)(nil)).
		Set("state = $1", string(queue.StateCompleted)).
		Set("attempts = $2", item.Attempts).
		Set("last_error = $3", item.LastError).
		Set("last_status_code = $4", item.LastStatusCode).
		Set("completed_at = $5", item.CompletedAt).
		Set("claimed_at = NULL").
		Set("updated_at = NOW()").
		Where("id = $6", item.ID.String()).
		Where("state = $7", string(queue.StateProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, item.ID)
}

func (s *Store) RescheduleItem(ctx context.Context, item *queue.Item) error {
	res, err := s.pg.NewUpdate((*queueItemModel)(nil)).
		Set("state = $1", string(queue.StatePending)).
		Set("attempts = $2", item.Attempts).
		Set("next_retry_at = $3", item.NextRetryAt).
		Set("last_error = $4", item.LastError).
		Set("last_status_code = $5", item.LastStatusCode).
		Set("claimed_at = NULL").
		Set("updated_at = NOW()").
		Where("id = $6", item.ID.String()).
		Where("state = $7", string(queue.StateProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, item.ID)
}

func (s *Store) FailItem(ctx context.Context, item *queue.Item) error {
	res, err := s.pg.NewUpdate((*queueItemModel)(nil)).
		Set("state = $1", string(queue.StateFailed)).
		Set("attempts = $2", item.Attempts).
		Set("last_error = $3", item.LastError).
		Set("last_status_code = $4", item.LastStatusCode).
		Set("completed_at = $5", item.CompletedAt).
		Set("claimed_at = NULL").
		Set("updated_at = NOW()").
		Where("id = $6", item.ID.String()).
		Where("state = $7", string(queue.StateProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, item.ID)
}

func (s *Store) ReleaseItem(ctx context.Context, itemID id.ID) error {
	res, err := s.pg.NewUpdate((*queueItemModel)(nil)).
		Set("state = $1", string(queue.StatePending)).
		Set("claimed_at = NULL").
		Set("updated_at = NOW()").
		Where("id = $2", itemID.String()).
		Where("state = $3", string(queue.StateProcessing)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, itemID)
}

func (s *Store) CancelItem(ctx context.Context, itemID id.ID) (*queue.Item, error) {
	var models []queueItemModel
	err := s.pg.NewRaw(`
		UPDATE beacon_queue_items
		SET state = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'pending'
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
	res, err := s.pg.NewUpdate((*queueItemModel)(nil)).
		Set("state = $1", string(queue.StatePending)).
		Set("claimed_at = NULL").
		Set("updated_at = NOW()").
		Where("state = $2", string(queue.StateProcessing)).
		Where("claimed_at < $3", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) GetItem(ctx context.Context, itemID id.ID) (*queue.Item, error) {
	m := new(queueItemModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", itemID.String()).
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
	if err := s.pg.NewSelect(&models).
		Where("order_id = $1", orderID).
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
	q := s.pg.NewSelect(&models)

	if opts.State != nil {
		q = q.Where("state = $1", string(*opts.State))
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
	res, err := s.pg.NewDelete((*queueItemModel)(nil)).
		Where("state IN ('completed', 'failed', 'cancelled')").
		Where("completed_at < $1", before).
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
	if err := s.pg.NewRaw(`
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
		if err := s.pg.NewRaw(`
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) HasSuccessSince(ctx context.Context, orderID, destination, eventType string, since time.Time) (bool, error) {
	count, err := s.pg.NewSelect((*ledgerEntryModel)(nil)).
		Where("order_id = $1", orderID).
		Where("destination = $2", destination).
		Where("event_type = $3", eventType).
		Where("status = $4", string(ledger.StatusSuccess)).
		Where("created_at >= $5", since).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) HasAttemptSince(ctx context.Context, orderID, destination string, since time.Time) (bool, error) {
	count, err := s.pg.NewSelect((*ledgerEntryModel)(nil)).
		Where("order_id = $1", orderID).
		Where("destination = $2", destination).
		Where("created_at >= $3", since).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) EntriesByOrder(ctx context.Context, orderID string) ([]*ledger.Entry, error) {
	var models []ledgerEntryModel
	if err := s.pg.NewSelect(&models).
		Where("order_id = $1", orderID).
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
		err = s.pg.NewRaw(`
			SELECT destination, status, COUNT(*) AS count
			FROM beacon_ledger
			GROUP BY destination, status
		`).Scan(ctx, &rows)
	} else {
		err = s.pg.NewRaw(`
			SELECT destination, status, COUNT(*) AS count
			FROM beacon_ledger
			WHERE created_at >= $1
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
	res, err := s.pg.NewDelete((*ledgerEntryModel)(nil)).
		Where("created_at < $1", before).
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
