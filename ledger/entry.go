package ledger

import (
	"time"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/internal/entity"
)

// Status classifies the outcome recorded by a ledger entry.
type Status string

const (
	// StatusSuccess indicates the destination accepted the event.
	StatusSuccess Status = "success"

	// StatusFailed indicates the attempt failed permanently (attempts
	// exhausted, unknown destination, or queueing disabled).
	StatusFailed Status = "failed"

	// StatusQueued indicates the attempt failed and a retry was scheduled.
	StatusQueued Status = "queued"
)

// Entry is one immutable audit record of a send attempt. Entries are never
// updated; time-based purging is the only deletion path.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this entry.
	ID id.ID `json:"id"`

	// OrderID is the opaque reference to the purchase order.
	OrderID string `json:"order_id"`

	// Destination is the destination key the attempt targeted.
	Destination string `json:"destination"`

	// EventType is the application-defined event category (e.g. "purchase").
	EventType string `json:"event_type"`

	// EventID is the correlation ID generated for this attempt.
	EventID string `json:"event_id"`

	// Status is the recorded outcome.
	Status Status `json:"status"`

	// ResponseCode is the destination's status code, 0 when absent.
	ResponseCode int `json:"response_code,omitempty"`

	// ResponseBody is the destination's response (capped at 64KB).
	ResponseBody string `json:"response_body,omitempty"`

	// Error is the failure description, empty on success (capped at 64KB).
	Error string `json:"error,omitempty"`

	// ClickIDs holds click identifiers extracted from the attribution
	// snapshot for quick inspection.
	ClickIDs map[string]string `json:"click_ids,omitempty"`

	// Attribution is the structured attribution snapshot, kept for audit.
	Attribution map[string]string `json:"attribution,omitempty"`
}

// Period selects the time range for ledger statistics.
type Period string

// Reporting periods accepted by Stats.
const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// Since returns the inclusive lower bound for the period, or the zero time
// for PeriodAll (and unknown values).
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodToday:
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		return now.UTC().Add(-7 * 24 * time.Hour)
	case PeriodMonth:
		return now.UTC().Add(-30 * 24 * time.Hour)
	default:
		return time.Time{}
	}
}

// StatusCounts aggregates entry counts by outcome.
type StatusCounts struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Queued  int64 `json:"queued"`
}

// Stats is the ledger report for one period.
type Stats struct {
	Period        Period                  `json:"period"`
	Totals        StatusCounts            `json:"totals"`
	ByDestination map[string]StatusCounts `json:"by_destination"`
}
