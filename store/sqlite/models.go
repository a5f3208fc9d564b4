package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/internal/entity"
	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/queue"
)

// SQLite has no native JSON column type; maps and raw payloads are stored
// as serialized TEXT.

// --- Queue item models ---

type queueItemModel struct {
	grove.BaseModel `grove:"table:beacon_queue_items"`

	ID             string     `grove:"id,pk"`
	OrderID        string     `grove:"order_id"`
	Destination    string     `grove:"destination"`
	EventType      string     `grove:"event_type"`
	Payload        string     `grove:"payload"`
	Attribution    string     `grove:"attribution"`
	State          string     `grove:"state"`
	Attempts       int        `grove:"attempts"`
	MaxAttempts    int        `grove:"max_attempts"`
	NextRetryAt    time.Time  `grove:"next_retry_at"`
	LastError      string     `grove:"last_error"`
	LastStatusCode int        `grove:"last_status_code"`
	ClaimedAt      *time.Time `grove:"claimed_at"`
	CompletedAt    *time.Time `grove:"completed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toQueueItemModel(item *queue.Item) *queueItemModel {
	attribution, _ := json.Marshal(item.Attribution) //nolint:errcheck // best-effort
	return &queueItemModel{
		ID:             item.ID.String(),
		OrderID:        item.OrderID,
		Destination:    item.Destination,
		EventType:      item.EventType,
		Payload:        string(item.Payload),
		Attribution:    string(attribution),
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

	var payload []byte
	if m.Payload != "" {
		payload = []byte(m.Payload)
	}

	var attribution map[string]string
	if m.Attribution != "" {
		_ = json.Unmarshal([]byte(m.Attribution), &attribution) //nolint:errcheck // best-effort
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
		Payload:        payload,
		Attribution:    attribution,
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

// --- Ledger entry models ---

type ledgerEntryModel struct {
	grove.BaseModel `grove:"table:beacon_ledger"`

	ID           string    `grove:"id,pk"`
	OrderID      string    `grove:"order_id"`
	Destination  string    `grove:"destination"`
	EventType    string    `grove:"event_type"`
	EventID      string    `grove:"event_id"`
	Status       string    `grove:"status"`
	ResponseCode int       `grove:"response_code"`
	ResponseBody string    `grove:"response_body"`
	Error        string    `grove:"error"`
	ClickIDs     string    `grove:"click_ids"`
	Attribution  string    `grove:"attribution"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toLedgerEntryModel(e *ledger.Entry) *ledgerEntryModel {
	clickIDs, _ := json.Marshal(e.ClickIDs)       //nolint:errcheck // best-effort
	attribution, _ := json.Marshal(e.Attribution) //nolint:errcheck // best-effort
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
		ClickIDs:     string(clickIDs),
		Attribution:  string(attribution),
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func fromLedgerEntryModel(m *ledgerEntryModel) (*ledger.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse entry ID %q: %w", m.ID, err)
	}

	var clickIDs map[string]string
	if m.ClickIDs != "" {
		_ = json.Unmarshal([]byte(m.ClickIDs), &clickIDs) //nolint:errcheck // best-effort
	}
	var attribution map[string]string
	if m.Attribution != "" {
		_ = json.Unmarshal([]byte(m.Attribution), &attribution) //nolint:errcheck // best-effort
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
		ClickIDs:     clickIDs,
		Attribution:  attribution,
	}, nil
}
