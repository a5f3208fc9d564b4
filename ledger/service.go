// Package ledger records every send attempt and answers deduplication
// queries over that history.
//
// The ledger is the source of truth for "has this order already been
// reported to this destination?" — reporting the same purchase twice can
// corrupt attribution credit or billing on the platform side, so callers
// must consult IsDuplicate before any send.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/internal/entity"
	"github.com/trackwell/beacon/signature"
)

// maxCaptureBytes caps stored response bodies and error text.
const maxCaptureBytes = 64 * 1024

// Config configures the ledger service.
type Config struct {
	// Enabled turns duplicate suppression on. When false, IsDuplicate
	// always reports false.
	Enabled bool

	// Window is how long after a success the same logical event counts
	// as a duplicate.
	Window time.Duration

	// Cooldown is the default minimum spacing between attempts for the
	// same order+destination pair.
	Cooldown time.Duration

	// InstallKey keys the stable event ID digest. It identifies the
	// installation, so two shops reporting the same order ID produce
	// different stable IDs.
	InstallKey string
}

// Service implements the deduplication ledger.
type Service struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// NewService creates a ledger service backed by the given store.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// IsDuplicate reports whether a success entry for the triple exists within
// the configured window. Callers must treat true as "do not send".
//
// A storage error propagates to the caller: the ledger never silently lets
// a possible duplicate proceed.
func (svc *Service) IsDuplicate(ctx context.Context, orderID, destination, eventType string) (bool, error) {
	if !svc.cfg.Enabled || svc.cfg.Window <= 0 {
		return false, nil
	}

	since := time.Now().UTC().Add(-svc.cfg.Window)
	return svc.store.HasSuccessSince(ctx, orderID, destination, eventType, since)
}

// ShouldSkipRecentAttempt reports whether any attempt (success or failure)
// for the order+destination pair happened within the cooldown. It throttles
// retry storms independently of the backoff schedule — e.g. a manual "retry
// now" immediately after an automatic attempt. A cooldown <= 0 uses the
// configured default.
func (svc *Service) ShouldSkipRecentAttempt(ctx context.Context, orderID, destination string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		cooldown = svc.cfg.Cooldown
	}
	if cooldown <= 0 {
		return false, nil
	}

	since := time.Now().UTC().Add(-cooldown)
	return svc.store.HasAttemptSince(ctx, orderID, destination, since)
}

// EventID returns a correlation ID that is unique on every call, including
// retries of the same logical event. The leading digest component is shared
// by all attempts of one logical event so related log lines group together;
// the TypeID suffix carries the per-attempt randomness and timestamp.
func (svc *Service) EventID(orderID, destination, eventType string) string {
	return svc.digest(orderID, destination, eventType)[:12] + "." + id.NewEventID().String()
}

// StableEventID returns an ID that is a deterministic function of the
// order, destination, event type and install key — identical across retries
// of the same logical event. It is handed to the destination so the
// platform can deduplicate server-side when a retry lands twice.
func (svc *Service) StableEventID(orderID, destination, eventType string) string {
	return svc.digest(orderID, destination, eventType)[:32]
}

func (svc *Service) digest(orderID, destination, eventType string) string {
	return signature.Digest(svc.cfg.InstallKey, orderID, destination, eventType)
}

// Attempt describes one send attempt to be recorded.
type Attempt struct {
	OrderID      string
	Destination  string
	EventType    string
	EventID      string
	ResponseCode int
	ResponseBody string
	Error        string
	Attribution  map[string]string
}

// LogSuccess records an accepted send.
func (svc *Service) LogSuccess(ctx context.Context, a Attempt) error {
	return svc.log(ctx, StatusSuccess, a)
}

// LogFailure records a permanently failed send.
func (svc *Service) LogFailure(ctx context.Context, a Attempt) error {
	return svc.log(ctx, StatusFailed, a)
}

// LogQueued records a failed send for which a retry was scheduled.
func (svc *Service) LogQueued(ctx context.Context, a Attempt) error {
	return svc.log(ctx, StatusQueued, a)
}

func (svc *Service) log(ctx context.Context, status Status, a Attempt) error {
	e := &Entry{
		Entity:       entity.New(),
		ID:           id.NewEntryID(),
		OrderID:      a.OrderID,
		Destination:  a.Destination,
		EventType:    a.EventType,
		EventID:      a.EventID,
		Status:       status,
		ResponseCode: a.ResponseCode,
		ResponseBody: truncate(a.ResponseBody, maxCaptureBytes),
		Error:        truncate(a.Error, maxCaptureBytes),
		ClickIDs:     ExtractClickIDs(a.Attribution),
		Attribution:  a.Attribution,
	}

	return svc.store.InsertEntry(ctx, e)
}

// OrderLogs returns the send history for an order, newest first.
func (svc *Service) OrderLogs(ctx context.Context, orderID string) ([]*Entry, error) {
	return svc.store.EntriesByOrder(ctx, orderID)
}

// Stats aggregates entry counts by destination and outcome for a period.
func (svc *Service) Stats(ctx context.Context, period Period) (*Stats, error) {
	since := period.Since(time.Now())

	byDest, err := svc.store.LedgerStats(ctx, since)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Period:        period,
		ByDestination: byDest,
	}
	for _, counts := range byDest {
		stats.Totals.Success += counts.Success
		stats.Totals.Failed += counts.Failed
		stats.Totals.Queued += counts.Queued
	}
	return stats, nil
}

// Purge deletes entries created before the given time.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.PurgeEntries(ctx, before)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
