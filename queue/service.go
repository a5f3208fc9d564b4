// Package queue implements the durable retry queue for failed sends.
//
// Items move through a strict state machine: pending → processing while a
// worker holds the item, then back to pending (reschedule) or on to a
// terminal state (completed, failed, cancelled). Every transition is a
// conditional store write, so overlapping workers and operator actions
// cannot both act on the same item.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/internal/entity"
	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/observability"
	"github.com/trackwell/beacon/sender"
)

const (
	defaultMaxAttempts  = 5
	defaultSendTimeout  = 30 * time.Second
	defaultClaimTimeout = 5 * time.Minute
)

// Senders resolves destination keys and validates payloads against any
// registered destination schema.
type Senders interface {
	Resolve(name string) (sender.Sender, bool)
	Validate(name string, payload json.RawMessage) error
}

// Recorder writes attempt outcomes to the deduplication ledger and issues
// event identifiers.
type Recorder interface {
	EventID(orderID, destination, eventType string) string
	StableEventID(orderID, destination, eventType string) string
	IsDuplicate(ctx context.Context, orderID, destination, eventType string) (bool, error)
	ShouldSkipRecentAttempt(ctx context.Context, orderID, destination string, cooldown time.Duration) (bool, error)
	LogSuccess(ctx context.Context, a ledger.Attempt) error
	LogQueued(ctx context.Context, a ledger.Attempt) error
	LogFailure(ctx context.Context, a ledger.Attempt) error
}

// Throttle limits the send rate per destination.
type Throttle interface {
	Allow(destination string, rateLimit int) bool
}

// Config holds queue service configuration.
type Config struct {
	// Enabled gates Add. When false, Add returns ErrDisabled and callers
	// must record the failure as permanent.
	Enabled bool

	// MaxAttempts caps retry attempts per item.
	MaxAttempts int

	// BackoffSchedule spaces the retry attempts. Defaults to
	// DefaultBackoffSchedule.
	BackoffSchedule []time.Duration

	// SendTimeout bounds each send call.
	SendTimeout time.Duration

	// Cooldown is the minimum spacing between attempts for the same
	// order+destination pair, enforced via the ledger.
	Cooldown time.Duration

	// ClaimTimeout is how long a processing claim may stand before
	// ReleaseStale treats the worker as crashed.
	ClaimTimeout time.Duration

	// RateLimit is the per-destination send rate in events per second.
	// 0 means unlimited.
	RateLimit int

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Service implements the retry queue.
type Service struct {
	store    Store
	senders  Senders
	recorder Recorder
	throttle Throttle
	backoff  *Backoff
	cfg      Config
	logger   *slog.Logger
}

// NewService creates a queue service. throttle may be nil to disable
// per-destination rate limiting.
func NewService(store Store, senders Senders, recorder Recorder, throttle Throttle, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = defaultClaimTimeout
	}
	return &Service{
		store:    store,
		senders:  senders,
		recorder: recorder,
		throttle: throttle,
		backoff:  NewBackoff(cfg.BackoffSchedule),
		cfg:      cfg,
		logger:   logger,
	}
}

// AddRequest describes a failed send to enqueue for retry.
type AddRequest struct {
	OrderID     string
	Destination string
	EventType   string
	Payload     json.RawMessage
	Attribution map[string]string

	// LastError and LastStatusCode describe the synchronous failure that
	// led to enqueueing.
	LastError      string
	LastStatusCode int
}

// Add enqueues a failed send for retry. The item starts pending with zero
// attempts; the first retry becomes due after the first backoff interval.
//
// Returns ErrDisabled when queueing is off, ErrUnknownDestination when no
// sender is registered for the destination, and ErrInvalidPayload when the
// payload fails the destination's schema. All three are permanent: the
// caller should record the failure in the ledger instead of retrying.
func (svc *Service) Add(ctx context.Context, req AddRequest) (*Item, error) {
	if !svc.cfg.Enabled {
		return nil, ErrDisabled
	}
	if req.OrderID == "" {
		return nil, fmt.Errorf("beacon: order ID is required")
	}
	if _, ok := svc.senders.Resolve(req.Destination); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, req.Destination)
	}
	if err := svc.senders.Validate(req.Destination, req.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	eventType := req.EventType
	if eventType == "" {
		eventType = "purchase"
	}

	item := &Item{
		Entity:         entity.New(),
		ID:             id.NewItemID(),
		OrderID:        req.OrderID,
		Destination:    req.Destination,
		EventType:      eventType,
		Payload:        req.Payload,
		Attribution:    req.Attribution,
		State:          StatePending,
		Attempts:       0,
		MaxAttempts:    svc.cfg.MaxAttempts,
		NextRetryAt:    svc.backoff.NextRetryAt(0),
		LastError:      req.LastError,
		LastStatusCode: req.LastStatusCode,
	}

	if err := svc.store.InsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}

	if svc.cfg.Metrics != nil {
		svc.cfg.Metrics.QueueDepth.Inc()
	}
	svc.logger.DebugContext(ctx, "queued for retry",
		"item_id", item.ID, "order_id", item.OrderID,
		"destination", item.Destination, "next_retry_at", item.NextRetryAt)

	return item, nil
}

// ProcessDue claims up to limit due items and attempts each one. Items are
// processed independently: one item's failure never blocks the rest of the
// batch. Returns the number of items claimed.
func (svc *Service) ProcessDue(ctx context.Context, limit int) (int, error) {
	batch, err := svc.store.ClaimDue(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("claim due items: %w", err)
	}

	for _, item := range batch {
		if ctx.Err() != nil {
			// Shutting down mid-batch: hand unprocessed claims back.
			if relErr := svc.store.ReleaseItem(context.WithoutCancel(ctx), item.ID); relErr != nil {
				svc.logger.ErrorContext(ctx, "release item failed",
					"item_id", item.ID, "error", relErr)
			}
			continue
		}
		svc.process(ctx, item)
	}
	return len(batch), nil
}

// RetryNow claims a pending item regardless of its due time and attempts it
// immediately. Returns ErrConflict when the item is already processing or
// terminal.
func (svc *Service) RetryNow(ctx context.Context, itemID id.ID) (*Item, error) {
	item, err := svc.store.ClaimItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	svc.process(ctx, item)

	return svc.store.GetItem(ctx, itemID)
}

// Cancel moves a pending item to cancelled. An item a worker has already
// claimed cannot be cancelled mid-flight; callers get ErrConflict and can
// retry after the attempt settles.
func (svc *Service) Cancel(ctx context.Context, itemID id.ID) (*Item, error) {
	item, err := svc.store.CancelItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if svc.cfg.Metrics != nil {
		svc.cfg.Metrics.QueueDepth.Dec()
	}
	svc.logger.InfoContext(ctx, "queue item cancelled",
		"item_id", itemID, "order_id", item.OrderID)
	return item, nil
}

// process performs one attempt for a claimed item: duplicate, throttle and
// cooldown guards, the send, the resulting state transition and the ledger
// record.
func (svc *Service) process(ctx context.Context, item *Item) {
	// Duplicate guard: a success for the same logical event landed after
	// this item was queued. The purchase already reached the destination,
	// so the item completes without a send.
	dup, err := svc.recorder.IsDuplicate(ctx, item.OrderID, item.Destination, item.EventType)
	if err != nil {
		svc.logger.ErrorContext(ctx, "duplicate check failed",
			"item_id", item.ID, "error", err)
		if relErr := svc.store.ReleaseItem(ctx, item.ID); relErr != nil {
			svc.logger.ErrorContext(ctx, "release item failed",
				"item_id", item.ID, "error", relErr)
		}
		return
	}
	if dup {
		now := time.Now().UTC()
		item.State = StateCompleted
		item.CompletedAt = &now
		if err := svc.store.CompleteItem(ctx, item); err != nil {
			svc.logger.ErrorContext(ctx, "complete duplicate item failed",
				"item_id", item.ID, "error", err)
			return
		}
		if svc.cfg.Metrics != nil {
			svc.cfg.Metrics.DuplicatesSuppressed.WithLabels(map[string]string{
				"destination": item.Destination,
			}).Inc()
			svc.cfg.Metrics.QueueDepth.Dec()
		}
		svc.logger.InfoContext(ctx, "duplicate suppressed, item completed",
			"item_id", item.ID, "order_id", item.OrderID,
			"destination", item.Destination, "event_type", item.EventType)
		return
	}

	// Per-destination throttle: abandon the claim without burning an
	// attempt; the item becomes due again immediately.
	if svc.throttle != nil && !svc.throttle.Allow(item.Destination, svc.cfg.RateLimit) {
		if err := svc.store.ReleaseItem(ctx, item.ID); err != nil {
			svc.logger.ErrorContext(ctx, "release throttled item failed",
				"item_id", item.ID, "error", err)
		}
		svc.logger.DebugContext(ctx, "send throttled",
			"item_id", item.ID, "destination", item.Destination)
		return
	}

	// Cooldown guard: another attempt for this order+destination landed
	// moments ago. Push the item out past the cooldown without recording
	// an attempt.
	skip, err := svc.recorder.ShouldSkipRecentAttempt(ctx, item.OrderID, item.Destination, svc.cfg.Cooldown)
	if err != nil {
		svc.logger.ErrorContext(ctx, "cooldown check failed",
			"item_id", item.ID, "error", err)
		if relErr := svc.store.ReleaseItem(ctx, item.ID); relErr != nil {
			svc.logger.ErrorContext(ctx, "release item failed",
				"item_id", item.ID, "error", relErr)
		}
		return
	}
	if skip {
		item.NextRetryAt = time.Now().UTC().Add(svc.cfg.Cooldown)
		if err := svc.store.RescheduleItem(ctx, item); err != nil {
			svc.logger.ErrorContext(ctx, "reschedule cooled-down item failed",
				"item_id", item.ID, "error", err)
		}
		svc.logger.DebugContext(ctx, "attempt deferred by cooldown",
			"item_id", item.ID, "order_id", item.OrderID, "next_retry_at", item.NextRetryAt)
		return
	}

	var span trace.Span
	if svc.cfg.Tracer != nil {
		ctx, span = svc.cfg.Tracer.StartAttemptSpan(ctx, item.ID.String(), item.OrderID, item.Destination)
	}

	s, ok := svc.senders.Resolve(item.Destination)
	if !ok {
		// The destination was unregistered after the item was enqueued.
		// No future attempt can succeed.
		svc.finalize(ctx, item, sender.Result{Err: "destination no longer registered"}, "", 0)
		if span != nil {
			svc.cfg.Tracer.EndAttemptSpan(span, 0, "destination no longer registered")
		}
		return
	}

	item.Attempts++
	eventID := svc.recorder.EventID(item.OrderID, item.Destination, item.EventType)
	stableID := svc.recorder.StableEventID(item.OrderID, item.Destination, item.EventType)

	sendCtx, cancel := context.WithTimeout(ctx, svc.cfg.SendTimeout)
	start := time.Now()
	res := s.Send(sendCtx, sender.Request{
		OrderID: item.OrderID,
		EventID: stableID,
		Payload: item.Payload,
	})
	cancel()
	latency := time.Since(start).Seconds()

	item.LastError = res.Err
	item.LastStatusCode = res.ResponseCode

	svc.settle(ctx, item, res, eventID, latency)

	if span != nil {
		svc.cfg.Tracer.EndAttemptSpan(span, res.ResponseCode, res.Err)
	}
}

// settle applies the post-attempt transition: complete, reschedule or fail.
func (svc *Service) settle(ctx context.Context, item *Item, res sender.Result, eventID string, latency float64) {
	attempt := ledger.Attempt{
		OrderID:      item.OrderID,
		Destination:  item.Destination,
		EventType:    item.EventType,
		EventID:      eventID,
		ResponseCode: res.ResponseCode,
		ResponseBody: res.ResponseBody,
		Error:        res.Err,
		Attribution:  item.Attribution,
	}

	switch {
	case res.Success:
		now := time.Now().UTC()
		item.State = StateCompleted
		item.CompletedAt = &now
		if err := svc.store.CompleteItem(ctx, item); err != nil {
			svc.logger.ErrorContext(ctx, "complete item failed",
				"item_id", item.ID, "error", err)
			return
		}
		if svc.cfg.Metrics != nil {
			svc.cfg.Metrics.RecordAttempt("completed", latency)
			svc.cfg.Metrics.QueueDepth.Dec()
		}
		if err := svc.recorder.LogSuccess(ctx, attempt); err != nil {
			svc.logger.ErrorContext(ctx, "ledger write failed",
				"item_id", item.ID, "error", err)
		}
		svc.logger.DebugContext(ctx, "retry succeeded",
			"item_id", item.ID, "order_id", item.OrderID,
			"attempt", item.Attempts, "status", res.ResponseCode)

	case item.Attempts >= item.MaxAttempts:
		now := time.Now().UTC()
		item.State = StateFailed
		item.CompletedAt = &now
		if err := svc.store.FailItem(ctx, item); err != nil {
			svc.logger.ErrorContext(ctx, "fail item failed",
				"item_id", item.ID, "error", err)
			return
		}
		if svc.cfg.Metrics != nil {
			svc.cfg.Metrics.RecordAttempt("failed", latency)
			svc.cfg.Metrics.QueueDepth.Dec()
		}
		if err := svc.recorder.LogFailure(ctx, attempt); err != nil {
			svc.logger.ErrorContext(ctx, "ledger write failed",
				"item_id", item.ID, "error", err)
		}
		svc.logger.WarnContext(ctx, "retries exhausted",
			"item_id", item.ID, "order_id", item.OrderID,
			"destination", item.Destination, "attempts", item.Attempts,
			"status", res.ResponseCode, "error", res.Err)

	default:
		item.State = StatePending
		item.NextRetryAt = svc.backoff.NextRetryAt(item.Attempts)
		if err := svc.store.RescheduleItem(ctx, item); err != nil {
			svc.logger.ErrorContext(ctx, "reschedule item failed",
				"item_id", item.ID, "error", err)
			return
		}
		if svc.cfg.Metrics != nil {
			svc.cfg.Metrics.RecordAttempt("retried", latency)
		}
		if err := svc.recorder.LogQueued(ctx, attempt); err != nil {
			svc.logger.ErrorContext(ctx, "ledger write failed",
				"item_id", item.ID, "error", err)
		}
		svc.logger.DebugContext(ctx, "retry rescheduled",
			"item_id", item.ID, "order_id", item.OrderID,
			"attempt", item.Attempts, "next_retry_at", item.NextRetryAt)
	}
}

// finalize fails an item without a send attempt, recording the reason in
// the ledger.
func (svc *Service) finalize(ctx context.Context, item *Item, res sender.Result, eventID string, latency float64) {
	if eventID == "" {
		eventID = svc.recorder.EventID(item.OrderID, item.Destination, item.EventType)
	}
	item.Attempts = item.MaxAttempts
	item.LastError = res.Err
	svc.settle(ctx, item, res, eventID, latency)
}

// ReleaseStale hands back processing claims older than the claim timeout,
// recovering items orphaned by a crashed worker.
func (svc *Service) ReleaseStale(ctx context.Context) (int64, error) {
	before := time.Now().UTC().Add(-svc.cfg.ClaimTimeout)
	n, err := svc.store.ReleaseStale(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	if n > 0 {
		svc.logger.WarnContext(ctx, "released stale claims", "count", n)
	}
	return n, nil
}

// Cleanup deletes terminal items older than the retention period. Active
// items are never touched, so cleanup can run while processing continues.
func (svc *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	before := time.Now().UTC().Add(-retention)
	n, err := svc.store.DeleteTerminal(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("cleanup terminal items: %w", err)
	}
	if n > 0 {
		svc.logger.InfoContext(ctx, "cleaned up queue items", "count", n, "before", before)
	}
	return n, nil
}

// Get fetches a single item.
func (svc *Service) Get(ctx context.Context, itemID id.ID) (*Item, error) {
	return svc.store.GetItem(ctx, itemID)
}

// OrderQueue returns all items for an order, newest first.
func (svc *Service) OrderQueue(ctx context.Context, orderID string) ([]*Item, error) {
	return svc.store.ItemsByOrder(ctx, orderID)
}

// List returns items with optional state filtering and pagination.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Item, error) {
	return svc.store.ListItems(ctx, opts)
}

// Stats counts items per state.
func (svc *Service) Stats(ctx context.Context) (*Stats, error) {
	return svc.store.QueueStats(ctx)
}
