package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/internal/entity"
	"github.com/trackwell/beacon/ledger"
)

// ledgerEntryModel is the JSON representation stored in Redis.
type ledgerEntryModel struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"order_id"`
	Destination  string            `json:"destination"`
	EventType    string            `json:"event_type"`
	EventID      string            `json:"event_id"`
	Status       string            `json:"status"`
	ResponseCode int               `json:"response_code,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
	Error        string            `json:"error,omitempty"`
	ClickIDs     map[string]string `json:"click_ids,omitempty"`
	Attribution  map[string]string `json:"attribution,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func toLedgerEntryModel(e *ledger.Entry) *ledgerEntryModel {
	return &ledgerEntryModel{
		ID:           e.ID.String(),
		OrderID:      e.OrderID,
		Destination:  e.Destination,
		EventType:    e.EventType,
		EventID:      e.EventID,
		Status:       string(e.Status),
		ResponseCode: e.ResponseCode,
		ResponseBody: e.ResponseBody,
		Error:        e.Error,
		ClickIDs:     e.ClickIDs,
		Attribution:  e.Attribution,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func fromLedgerEntryModel(m *ledgerEntryModel) (*ledger.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse entry ID %q: %w", m.ID, err)
	}
	return &ledger.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           entryID,
		OrderID:      m.OrderID,
		Destination:  m.Destination,
		EventType:    m.EventType,
		EventID:      m.EventID,
		Status:       ledger.Status(m.Status),
		ResponseCode: m.ResponseCode,
		ResponseBody: m.ResponseBody,
		Error:        m.Error,
		ClickIDs:     m.ClickIDs,
		Attribution:  m.Attribution,
	}, nil
}

func (s *Store) InsertEntry(ctx context.Context, e *ledger.Entry) error {
	m := toLedgerEntryModel(e)
	key := entityKey(prefixEntry, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("beacon/redis: insert entry: %w", err)
	}

	score := scoreFromTime(m.CreatedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zEntryAll, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zEntryOrder+m.OrderID, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, pairKey(m.OrderID, m.Destination), goredis.Z{Score: score, Member: m.ID})
	if m.Status == string(ledger.StatusSuccess) {
		pipe.ZAdd(ctx, tripleKey(m.OrderID, m.Destination, m.EventType), goredis.Z{Score: score, Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("beacon/redis: insert entry indexes: %w", err)
	}
	return nil
}

func (s *Store) HasSuccessSince(ctx context.Context, orderID, destination, eventType string, since time.Time) (bool, error) {
	return s.zsetHasSince(ctx, tripleKey(orderID, destination, eventType), since)
}

func (s *Store) HasAttemptSince(ctx context.Context, orderID, destination string, since time.Time) (bool, error) {
	return s.zsetHasSince(ctx, pairKey(orderID, destination), since)
}

func (s *Store) zsetHasSince(ctx context.Context, key string, since time.Time) (bool, error) {
	min := strconv.FormatFloat(scoreFromTime(since), 'f', -1, 64)
	count, err := s.rdb.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		return false, fmt.Errorf("beacon/redis: ledger lookup: %w", err)
	}
	return count > 0, nil
}

func (s *Store) EntriesByOrder(ctx context.Context, orderID string) ([]*ledger.Entry, error) {
	// ZRevRange gives newest first.
	ids, err := s.rdb.ZRevRange(ctx, zEntryOrder+orderID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: entries by order: %w", err)
	}

	entries := make([]*ledger.Entry, 0, len(ids))
	for _, entryID := range ids {
		var m ledgerEntryModel
		if err := s.getEntity(ctx, entityKey(prefixEntry, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		e, err := fromLedgerEntryModel(&m)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) LedgerStats(ctx context.Context, since time.Time) (map[string]ledger.StatusCounts, error) {
	min := "-inf"
	if !since.IsZero() {
		min = strconv.FormatFloat(scoreFromTime(since), 'f', -1, 64)
	}
	ids, err := s.rdb.ZRangeByScore(ctx, zEntryAll, &goredis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: ledger stats: %w", err)
	}

	stats := make(map[string]ledger.StatusCounts)
	for _, entryID := range ids {
		var m ledgerEntryModel
		if err := s.getEntity(ctx, entityKey(prefixEntry, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		counts := stats[m.Destination]
		switch ledger.Status(m.Status) {
		case ledger.StatusSuccess:
			counts.Success++
		case ledger.StatusFailed:
			counts.Failed++
		case ledger.StatusQueued:
			counts.Queued++
		}
		stats[m.Destination] = counts
	}
	return stats, nil
}

func (s *Store) PurgeEntries(ctx context.Context, before time.Time) (int64, error) {
	maxScore := "(" + strconv.FormatFloat(scoreFromTime(before), 'f', -1, 64)
	ids, err := s.rdb.ZRangeByScore(ctx, zEntryAll, &goredis.ZRangeBy{
		Min: "-inf",
		Max: maxScore,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("beacon/redis: purge entries: %w", err)
	}

	var count int64
	for _, entryID := range ids {
		var m ledgerEntryModel
		if err := s.getEntity(ctx, entityKey(prefixEntry, entryID), &m); err != nil && !isNotFound(err) {
			return count, err
		}

		pipe := s.rdb.Pipeline()
		pipe.Del(ctx, entityKey(prefixEntry, entryID))
		pipe.ZRem(ctx, zEntryAll, entryID)
		if m.OrderID != "" {
			pipe.ZRem(ctx, zEntryOrder+m.OrderID, entryID)
			pipe.ZRem(ctx, pairKey(m.OrderID, m.Destination), entryID)
			pipe.ZRem(ctx, tripleKey(m.OrderID, m.Destination, m.EventType), entryID)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return count, fmt.Errorf("beacon/redis: purge entries: %w", err)
		}
		count++
	}
	return count, nil
}
