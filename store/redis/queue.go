package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/internal/entity"
	"github.com/trackwell/beacon/queue"
)

// queueItemModel is the JSON representation stored in Redis.
type queueItemModel struct {
	ID             string            `json:"id"`
	OrderID        string            `json:"order_id"`
	Destination    string            `json:"destination"`
	EventType      string            `json:"event_type"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	Attribution    map[string]string `json:"attribution,omitempty"`
	State          string            `json:"state"`
	Attempts       int               `json:"attempts"`
	MaxAttempts    int               `json:"max_attempts"`
	NextRetryAt    time.Time         `json:"next_retry_at"`
	LastError      string            `json:"last_error,omitempty"`
	LastStatusCode int               `json:"last_status_code,omitempty"`
	ClaimedAt      *time.Time        `json:"claimed_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toQueueItemModel(item *queue.Item) *queueItemModel {
	return &queueItemModel{
		ID:             item.ID.String(),
		OrderID:        item.OrderID,
		Destination:    item.Destination,
		EventType:      item.EventType,
		Payload:        item.Payload,
		Attribution:    item.Attribution,
		State:          string(item.State),
		Attempts:       item.Attempts,
		MaxAttempts:    item.MaxAttempts,
		NextRetryAt:    item.NextRetryAt,
		LastError:      item.LastError,
		LastStatusCode: item.LastStatusCode,
		ClaimedAt:      item.ClaimedAt,
		CompletedAt:    item.CompletedAt,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}
}

func fromQueueItemModel(m *queueItemModel) (*queue.Item, error) {
	itemID, err := id.ParseItemID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse item ID %q: %w", m.ID, err)
	}
	return &queue.Item{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             itemID,
		OrderID:        m.OrderID,
		Destination:    m.Destination,
		EventType:      m.EventType,
		Payload:        m.Payload,
		Attribution:    m.Attribution,
		State:          queue.State(m.State),
		Attempts:       m.Attempts,
		MaxAttempts:    m.MaxAttempts,
		NextRetryAt:    m.NextRetryAt,
		LastError:      m.LastError,
		LastStatusCode: m.LastStatusCode,
		ClaimedAt:      m.ClaimedAt,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// claimDueScript atomically moves due item IDs from the pending zset to the
// processing zset.
// KEYS[1] = pending zset, KEYS[2] = processing zset
// ARGV[1] = current unix timestamp (score threshold)
// ARGV[2] = limit
// ARGV[3] = claim score (claimed_at)
var claimDueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids == 0 then return {} end
for i, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), id)
end
return ids
`)

func (s *Store) InsertItem(ctx context.Context, item *queue.Item) error {
	m := toQueueItemModel(item)
	key := entityKey(prefixItem, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("beacon/redis: insert item: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zItemAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zItemPending, goredis.Z{Score: scoreFromTime(m.NextRetryAt), Member: m.ID})
	pipe.ZAdd(ctx, zItemOrder+m.OrderID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("beacon/redis: insert item indexes: %w", err)
	}
	return nil
}

func (s *Store) ClaimDue(ctx context.Context, limit int) ([]*queue.Item, error) {
	ts := now()
	nowScore := strconv.FormatFloat(scoreFromTime(ts), 'f', -1, 64)
	ids, err := claimDueScript.Run(ctx, s.rdb,
		[]string{zItemPending, zItemProcessing},
		nowScore, limit, nowScore).StringSlice()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("beacon/redis: claim script: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	items := make([]*queue.Item, 0, len(ids))
	for _, itemID := range ids {
		key := entityKey(prefixItem, itemID)
		var m queueItemModel
		if err := s.getEntity(ctx, key, &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("beacon/redis: claim get: %w", err)
		}

		claimed := ts
		m.State = string(queue.StateProcessing)
		m.ClaimedAt = &claimed
		m.UpdatedAt = ts
		if err := s.setEntity(ctx, key, &m); err != nil {
			return nil, fmt.Errorf("beacon/redis: claim update: %w", err)
		}

		item, err := fromQueueItemModel(&m)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) ClaimItem(ctx context.Context, itemID id.ID) (*queue.Item, error) {
	key := entityKey(prefixItem, itemID.String())
	var m queueItemModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("beacon/redis: claim item get: %w", err)
	}

	// The ZREM is the claim: only one caller removes the pending member.
	removed, err := s.rdb.ZRem(ctx, zItemPending, m.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: claim item: %w", err)
	}
	if removed == 0 {
		return nil, queue.ErrConflict
	}

	ts := now()
	m.State = string(queue.StateProcessing)
	m.ClaimedAt = &ts
	m.UpdatedAt = ts
	if err := s.setEntity(ctx, key, &m); err != nil {
		return nil, fmt.Errorf("beacon/redis: claim item update: %w", err)
	}
	s.rdb.ZAdd(ctx, zItemProcessing, goredis.Z{Score: scoreFromTime(ts), Member: m.ID})

	return fromQueueItemModel(&m)
}

// settleProcessing removes the processing membership and applies fn to the
// stored item. The ZREM is the transition guard.
func (s *Store) settleProcessing(ctx context.Context, itemID id.ID, fn func(m *queueItemModel)) (*queueItemModel, error) {
	key := entityKey(prefixItem, itemID.String())
	var m queueItemModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("beacon/redis: settle get: %w", err)
	}

	removed, err := s.rdb.ZRem(ctx, zItemProcessing, m.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: settle unclaim: %w", err)
	}
	if removed == 0 {
		return nil, queue.ErrConflict
	}

	fn(&m)
	m.ClaimedAt = nil
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return nil, fmt.Errorf("beacon/redis: settle update: %w", err)
	}
	return &m, nil
}

func (s *Store) CompleteItem(ctx context.Context, item *queue.Item) error {
	m, err := s.settleProcessing(ctx, item.ID, func(m *queueItemModel) {
		m.State = string(queue.StateCompleted)
		m.Attempts = item.Attempts
		m.LastError = item.LastError
		m.LastStatusCode = item.LastStatusCode
		m.CompletedAt = item.CompletedAt
	})
	if err != nil {
		return err
	}
	s.rdb.ZAdd(ctx, zItemCompleted, goredis.Z{Score: completedScore(m), Member: m.ID})
	return nil
}

func (s *Store) RescheduleItem(ctx context.Context, item *queue.Item) error {
	m, err := s.settleProcessing(ctx, item.ID, func(m *queueItemModel) {
		m.State = string(queue.StatePending)
		m.Attempts = item.Attempts
		m.NextRetryAt = item.NextRetryAt
		m.LastError = item.LastError
		m.LastStatusCode = item.LastStatusCode
	})
	if err != nil {
		return err
	}
	s.rdb.ZAdd(ctx, zItemPending, goredis.Z{Score: scoreFromTime(m.NextRetryAt), Member: m.ID})
	return nil
}

func (s *Store) FailItem(ctx context.Context, item *queue.Item) error {
	m, err := s.settleProcessing(ctx, item.ID, func(m *queueItemModel) {
		m.State = string(queue.StateFailed)
		m.Attempts = item.Attempts
		m.LastError = item.LastError
		m.LastStatusCode = item.LastStatusCode
		m.CompletedAt = item.CompletedAt
	})
	if err != nil {
		return err
	}
	s.rdb.ZAdd(ctx, zItemFailed, goredis.Z{Score: completedScore(m), Member: m.ID})
	return nil
}

func (s *Store) ReleaseItem(ctx context.Context, itemID id.ID) error {
	m, err := s.settleProcessing(ctx, itemID, func(m *queueItemModel) {
		m.State = string(queue.StatePending)
	})
	if err != nil {
		return err
	}
	s.rdb.ZAdd(ctx, zItemPending, goredis.Z{Score: scoreFromTime(m.NextRetryAt), Member: m.ID})
	return nil
}

func (s *Store) CancelItem(ctx context.Context, itemID id.ID) (*queue.Item, error) {
	key := entityKey(prefixItem, itemID.String())
	var m queueItemModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("beacon/redis: cancel get: %w", err)
	}

	removed, err := s.rdb.ZRem(ctx, zItemPending, m.ID).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: cancel item: %w", err)
	}
	if removed == 0 {
		return nil, queue.ErrConflict
	}

	ts := now()
	m.State = string(queue.StateCancelled)
	m.CompletedAt = &ts
	m.UpdatedAt = ts
	if err := s.setEntity(ctx, key, &m); err != nil {
		return nil, fmt.Errorf("beacon/redis: cancel update: %w", err)
	}
	s.rdb.ZAdd(ctx, zItemCancelled, goredis.Z{Score: scoreFromTime(ts), Member: m.ID})

	return fromQueueItemModel(&m)
}

func (s *Store) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	maxScore := strconv.FormatFloat(scoreFromTime(before), 'f', -1, 64)
	ids, err := s.rdb.ZRangeByScore(ctx, zItemProcessing, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("beacon/redis: release stale: %w", err)
	}

	var count int64
	for _, staleID := range ids {
		itemID, parseErr := id.ParseItemID(staleID)
		if parseErr != nil {
			continue
		}
		if relErr := s.ReleaseItem(ctx, itemID); relErr != nil {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) GetItem(ctx context.Context, itemID id.ID) (*queue.Item, error) {
	var m queueItemModel
	if err := s.getEntity(ctx, entityKey(prefixItem, itemID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("beacon/redis: get item: %w", err)
	}
	return fromQueueItemModel(&m)
}

func (s *Store) ItemsByOrder(ctx context.Context, orderID string) ([]*queue.Item, error) {
	ids, err := s.rdb.ZRange(ctx, zItemOrder+orderID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: items by order: %w", err)
	}

	result := make([]*queue.Item, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m queueItemModel
		if err := s.getEntity(ctx, entityKey(prefixItem, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		item, err := fromQueueItemModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, nil
}

func (s *Store) ListItems(ctx context.Context, opts queue.ListOpts) ([]*queue.Item, error) {
	ids, err := s.rdb.ZRange(ctx, zItemAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: list items: %w", err)
	}

	result := make([]*queue.Item, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m queueItemModel
		if err := s.getEntity(ctx, entityKey(prefixItem, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.State != nil && queue.State(m.State) != *opts.State {
			continue
		}
		item, err := fromQueueItemModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteTerminal(ctx context.Context, before time.Time) (int64, error) {
	maxScore := "(" + strconv.FormatFloat(scoreFromTime(before), 'f', -1, 64)

	var count int64
	for _, zkey := range []string{zItemCompleted, zItemFailed, zItemCancelled} {
		ids, err := s.rdb.ZRangeByScore(ctx, zkey, &goredis.ZRangeBy{
			Min: "-inf",
			Max: maxScore,
		}).Result()
		if err != nil {
			return count, fmt.Errorf("beacon/redis: delete terminal: %w", err)
		}

		for _, staleID := range ids {
			var m queueItemModel
			if err := s.getEntity(ctx, entityKey(prefixItem, staleID), &m); err != nil && !isNotFound(err) {
				return count, err
			}

			pipe := s.rdb.Pipeline()
			pipe.Del(ctx, entityKey(prefixItem, staleID))
			pipe.ZRem(ctx, zkey, staleID)
			pipe.ZRem(ctx, zItemAll, staleID)
			if m.OrderID != "" {
				pipe.ZRem(ctx, zItemOrder+m.OrderID, staleID)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return count, fmt.Errorf("beacon/redis: delete terminal: %w", err)
			}
			count++
		}
	}
	return count, nil
}

func (s *Store) QueueStats(ctx context.Context) (*queue.Stats, error) {
	pipe := s.rdb.Pipeline()
	pending := pipe.ZCard(ctx, zItemPending)
	processing := pipe.ZCard(ctx, zItemProcessing)
	completed := pipe.ZCard(ctx, zItemCompleted)
	failed := pipe.ZCard(ctx, zItemFailed)
	cancelled := pipe.ZCard(ctx, zItemCancelled)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("beacon/redis: queue stats: %w", err)
	}

	stats := &queue.Stats{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Completed:  completed.Val(),
		Failed:     failed.Val(),
		Cancelled:  cancelled.Val(),
	}

	if stats.Pending > 0 {
		ids, err := s.rdb.ZRange(ctx, zItemPending, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("beacon/redis: queue stats pending: %w", err)
		}
		for _, pendingID := range ids {
			var m queueItemModel
			if err := s.getEntity(ctx, entityKey(prefixItem, pendingID), &m); err != nil {
				continue
			}
			if stats.OldestPending == nil || m.CreatedAt.Before(*stats.OldestPending) {
				created := m.CreatedAt
				stats.OldestPending = &created
			}
		}
	}
	return stats, nil
}

func completedScore(m *queueItemModel) float64 {
	if m.CompletedAt != nil {
		return scoreFromTime(*m.CompletedAt)
	}
	return scoreFromTime(m.UpdatedAt)
}
