package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/queue"
	"github.com/trackwell/beacon/ratelimit"
	"github.com/trackwell/beacon/scheduler"
	"github.com/trackwell/beacon/sender"
	"github.com/trackwell/beacon/store"
)

// wireServices initializes the internal services after options have been
// applied.
func (b *Beacon) wireServices() {
	b.ledgerSvc = ledger.NewService(b.store, ledger.Config{
		Enabled:    b.config.DedupEnabled,
		Window:     b.config.DedupWindow,
		Cooldown:   b.config.RetryCooldown,
		InstallKey: b.config.InstallKey,
	}, b.logger)

	b.throttle = ratelimit.New()

	b.queueSvc = queue.NewService(b.store, b.senders, b.ledgerSvc, b.throttle, queue.Config{
		Enabled:         b.config.QueueEnabled,
		MaxAttempts:     b.config.MaxAttempts,
		BackoffSchedule: b.config.BackoffSchedule,
		SendTimeout:     b.config.SendTimeout,
		Cooldown:        b.config.RetryCooldown,
		ClaimTimeout:    b.config.ClaimTimeout,
		RateLimit:       b.config.RateLimit,
		Metrics:         b.metrics,
		Tracer:          b.tracer,
	}, b.logger)

	b.sched = scheduler.New(b.queueSvc, scheduler.Config{
		PollInterval:     b.config.PollInterval,
		BatchSize:        b.config.BatchSize,
		CleanupInterval:  b.config.CleanupInterval,
		CleanupRetention: b.config.CleanupRetention,
	}, b.logger)
}

// Start begins the retry scheduler.
func (b *Beacon) Start(ctx context.Context) {
	b.sched.Start(ctx)
}

// Stop gracefully shuts down the retry scheduler.
func (b *Beacon) Stop(ctx context.Context) {
	b.sched.Stop(ctx)
}

// ForwardStatus classifies the outcome of a Forward call.
type ForwardStatus string

const (
	// ForwardSent means the destination accepted the event synchronously.
	ForwardSent ForwardStatus = "sent"

	// ForwardDuplicate means the event was suppressed: the ledger already
	// holds a success for the same logical event within the window.
	ForwardDuplicate ForwardStatus = "duplicate"

	// ForwardQueued means the send failed (or was deferred) and a retry
	// was scheduled.
	ForwardQueued ForwardStatus = "queued"

	// ForwardFailed means the send failed and no retry was scheduled.
	ForwardFailed ForwardStatus = "failed"
)

// Delivery describes one event to forward to one destination.
type Delivery struct {
	// OrderID is the opaque reference to the purchase order.
	OrderID string

	// Destination is the registered destination key.
	Destination string

	// EventType is the application-defined event category.
	// Defaults to "purchase".
	EventType string

	// Payload is the pre-built event data, passed to the sender verbatim.
	Payload json.RawMessage

	// Attribution is an optional attribution snapshot recorded alongside
	// every attempt.
	Attribution map[string]string
}

// ForwardResult reports what happened to a forwarded event.
type ForwardResult struct {
	Status ForwardStatus

	// EventID is the correlation ID recorded for this attempt. Empty for
	// duplicates, which never reach the ledger.
	EventID string

	// ResponseCode is the destination's status code, 0 when no send
	// happened.
	ResponseCode int

	// Item is the queue item created for retry, set only when Status is
	// ForwardQueued.
	Item *queue.Item
}

// Forward sends one event to one destination.
//
// The critical path:
//  1. Resolve the destination and validate the payload.
//  2. Suppress duplicates: a success for the same order+destination+type
//     within the dedup window short-circuits without sending.
//  3. Defer if another attempt for the pair landed within the cooldown.
//  4. Send synchronously with the configured timeout.
//  5. Record the outcome in the ledger; schedule a retry on failure.
//
// A failed send with the queue disabled is recorded as a permanent failure
// and reported via ForwardFailed, not an error: the call did what was
// asked, the destination just said no.
func (b *Beacon) Forward(ctx context.Context, d Delivery) (*ForwardResult, error) {
	if d.OrderID == "" {
		return nil, fmt.Errorf("beacon: order ID is required")
	}
	if d.EventType == "" {
		d.EventType = "purchase"
	}

	s, ok := b.senders.Resolve(d.Destination)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, d.Destination)
	}
	if err := b.senders.Validate(d.Destination, d.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	// Duplicate suppression.
	dup, err := b.ledgerSvc.IsDuplicate(ctx, d.OrderID, d.Destination, d.EventType)
	if err != nil {
		return nil, fmt.Errorf("beacon: duplicate check: %w", err)
	}
	if dup {
		if b.metrics != nil {
			b.metrics.DuplicatesSuppressed.WithLabels(map[string]string{
				"destination": d.Destination,
			}).Inc()
		}
		b.logger.InfoContext(ctx, "duplicate suppressed",
			"order_id", d.OrderID, "destination", d.Destination, "event_type", d.EventType)
		return &ForwardResult{Status: ForwardDuplicate}, nil
	}

	// Cooldown guard: an attempt for this pair landed moments ago. Queue
	// the event instead of piling on.
	recent, err := b.ledgerSvc.ShouldSkipRecentAttempt(ctx, d.OrderID, d.Destination, b.config.RetryCooldown)
	if err != nil {
		return nil, fmt.Errorf("beacon: cooldown check: %w", err)
	}
	if recent {
		return b.settleFailure(ctx, d, sender.Result{Err: "deferred by cooldown"})
	}

	// The hot path draws from the same per-destination budget as the
	// backlog drain, but blocks (bounded by ctx) instead of abandoning.
	if err := b.throttle.Wait(ctx, d.Destination, b.config.RateLimit); err != nil {
		return nil, fmt.Errorf("beacon: rate limit: %w", err)
	}

	eventID := b.ledgerSvc.EventID(d.OrderID, d.Destination, d.EventType)
	stableID := b.ledgerSvc.StableEventID(d.OrderID, d.Destination, d.EventType)

	sendCtx, cancel := context.WithTimeout(ctx, b.config.SendTimeout)
	start := time.Now()
	res := s.Send(sendCtx, sender.Request{
		OrderID: d.OrderID,
		EventID: stableID,
		Payload: d.Payload,
	})
	cancel()
	latency := time.Since(start).Seconds()

	attempt := ledger.Attempt{
		OrderID:      d.OrderID,
		Destination:  d.Destination,
		EventType:    d.EventType,
		EventID:      eventID,
		ResponseCode: res.ResponseCode,
		ResponseBody: res.ResponseBody,
		Error:        res.Err,
		Attribution:  d.Attribution,
	}

	if res.Success {
		if logErr := b.ledgerSvc.LogSuccess(ctx, attempt); logErr != nil {
			b.logger.ErrorContext(ctx, "ledger write failed",
				"order_id", d.OrderID, "error", logErr)
		}
		if b.metrics != nil {
			b.metrics.RecordAttempt("sent", latency)
		}
		b.logger.DebugContext(ctx, "event forwarded",
			"order_id", d.OrderID, "destination", d.Destination,
			"event_id", eventID, "status", res.ResponseCode)
		return &ForwardResult{
			Status:       ForwardSent,
			EventID:      eventID,
			ResponseCode: res.ResponseCode,
		}, nil
	}

	if b.metrics != nil {
		b.metrics.RecordAttempt("failed", latency)
	}
	return b.settleFailureWithEventID(ctx, d, res, eventID)
}

// settleFailure handles a failed or deferred send: queue for retry when
// possible, otherwise record a permanent failure.
func (b *Beacon) settleFailure(ctx context.Context, d Delivery, res sender.Result) (*ForwardResult, error) {
	eventID := b.ledgerSvc.EventID(d.OrderID, d.Destination, d.EventType)
	return b.settleFailureWithEventID(ctx, d, res, eventID)
}

func (b *Beacon) settleFailureWithEventID(ctx context.Context, d Delivery, res sender.Result, eventID string) (*ForwardResult, error) {
	attempt := ledger.Attempt{
		OrderID:      d.OrderID,
		Destination:  d.Destination,
		EventType:    d.EventType,
		EventID:      eventID,
		ResponseCode: res.ResponseCode,
		ResponseBody: res.ResponseBody,
		Error:        res.Err,
		Attribution:  d.Attribution,
	}

	item, err := b.queueSvc.Add(ctx, queue.AddRequest{
		OrderID:        d.OrderID,
		Destination:    d.Destination,
		EventType:      d.EventType,
		Payload:        d.Payload,
		Attribution:    d.Attribution,
		LastError:      res.Err,
		LastStatusCode: res.ResponseCode,
	})
	switch {
	case err == nil:
		if logErr := b.ledgerSvc.LogQueued(ctx, attempt); logErr != nil {
			b.logger.ErrorContext(ctx, "ledger write failed",
				"order_id", d.OrderID, "error", logErr)
		}
		b.logger.InfoContext(ctx, "send failed, retry queued",
			"order_id", d.OrderID, "destination", d.Destination,
			"item_id", item.ID, "next_retry_at", item.NextRetryAt, "error", res.Err)
		return &ForwardResult{
			Status:       ForwardQueued,
			EventID:      eventID,
			ResponseCode: res.ResponseCode,
			Item:         item,
		}, nil

	case errors.Is(err, ErrQueueDisabled):
		if logErr := b.ledgerSvc.LogFailure(ctx, attempt); logErr != nil {
			b.logger.ErrorContext(ctx, "ledger write failed",
				"order_id", d.OrderID, "error", logErr)
		}
		b.logger.WarnContext(ctx, "send failed, queue disabled",
			"order_id", d.OrderID, "destination", d.Destination, "error", res.Err)
		return &ForwardResult{
			Status:       ForwardFailed,
			EventID:      eventID,
			ResponseCode: res.ResponseCode,
		}, nil

	default:
		return nil, fmt.Errorf("beacon: queue for retry: %w", err)
	}
}

// Queue returns the retry queue service.
func (b *Beacon) Queue() *queue.Service {
	return b.queueSvc
}

// Ledger returns the deduplication ledger service.
func (b *Beacon) Ledger() *ledger.Service {
	return b.ledgerSvc
}

// Senders returns the destination registry.
func (b *Beacon) Senders() *sender.Registry {
	return b.senders
}

// Store returns the underlying store.
func (b *Beacon) Store() store.Store {
	return b.store
}
