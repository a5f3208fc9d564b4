package beacon_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trackwell/beacon"
	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/queue"
	"github.com/trackwell/beacon/sender"
	"github.com/trackwell/beacon/store/memory"
)

func okSender() sender.Func {
	return func(_ context.Context, _ sender.Request) sender.Result {
		return sender.Result{Success: true, ResponseCode: 200, ResponseBody: `{"ok":true}`}
	}
}

func failSender() sender.Func {
	return func(_ context.Context, _ sender.Request) sender.Result {
		return sender.Result{ResponseCode: 500, Err: "destination returned status 500"}
	}
}

func newBeacon(t *testing.T, opts ...beacon.Option) *beacon.Beacon {
	t.Helper()
	base := []beacon.Option{
		beacon.WithStore(memory.New()),
		beacon.WithInstallKey("test-install-key"),
	}
	b, err := beacon.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new beacon: %v", err)
	}
	return b
}

func TestNewValidation(t *testing.T) {
	if _, err := beacon.New(beacon.WithSender("meta", okSender())); !errors.Is(err, beacon.ErrNoStore) {
		t.Errorf("missing store: expected ErrNoStore, got %v", err)
	}

	if _, err := beacon.New(beacon.WithStore(memory.New())); !errors.Is(err, beacon.ErrNoSenders) {
		t.Errorf("missing senders: expected ErrNoSenders, got %v", err)
	}

	_, err := beacon.New(
		beacon.WithStore(memory.New()),
		beacon.WithSender("meta", okSender()),
		beacon.WithBackoffSchedule([]time.Duration{time.Minute, -time.Second}),
	)
	if !errors.Is(err, beacon.ErrInvalidSchedule) {
		t.Errorf("negative interval: expected ErrInvalidSchedule, got %v", err)
	}

	_, err = beacon.New(
		beacon.WithStore(memory.New()),
		beacon.WithSender("meta", okSender()),
		beacon.WithBackoffSchedule(nil),
	)
	if !errors.Is(err, beacon.ErrInvalidSchedule) {
		t.Errorf("empty schedule: expected ErrInvalidSchedule, got %v", err)
	}
}

func TestForwardSent(t *testing.T) {
	b := newBeacon(t, beacon.WithSender("meta", okSender()))

	res, err := b.Forward(context.Background(), beacon.Delivery{
		OrderID:     "order-1001",
		Destination: "meta",
		Payload:     json.RawMessage(`{"value":49.99}`),
		Attribution: map[string]string{"gclid": "g-1"},
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if res.Status != beacon.ForwardSent {
		t.Fatalf("status = %q, want sent", res.Status)
	}
	if res.EventID == "" {
		t.Error("event ID missing on sent result")
	}
	if res.ResponseCode != 200 {
		t.Errorf("response code = %d, want 200", res.ResponseCode)
	}

	logs, err := b.Ledger().OrderLogs(context.Background(), "order-1001")
	if err != nil {
		t.Fatalf("order logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != ledger.StatusSuccess {
		t.Fatalf("expected one success entry, got %+v", logs)
	}
	if logs[0].EventID != res.EventID {
		t.Errorf("ledger event ID %q != result event ID %q", logs[0].EventID, res.EventID)
	}
	if logs[0].ClickIDs["gclid"] != "g-1" {
		t.Errorf("click IDs not recorded: %v", logs[0].ClickIDs)
	}
}

func TestForwardDuplicate(t *testing.T) {
	b := newBeacon(t,
		beacon.WithSender("meta", okSender()),
		beacon.WithRetryCooldown(0),
	)
	ctx := context.Background()
	d := beacon.Delivery{OrderID: "order-1001", Destination: "meta", Payload: json.RawMessage(`{}`)}

	if res, err := b.Forward(ctx, d); err != nil || res.Status != beacon.ForwardSent {
		t.Fatalf("first forward: res=%+v err=%v", res, err)
	}

	res, err := b.Forward(ctx, d)
	if err != nil {
		t.Fatalf("second forward: %v", err)
	}
	if res.Status != beacon.ForwardDuplicate {
		t.Fatalf("status = %q, want duplicate", res.Status)
	}
	if res.EventID != "" {
		t.Error("duplicate result carries an event ID")
	}

	// The suppressed call never reaches the ledger.
	logs, err := b.Ledger().OrderLogs(ctx, "order-1001")
	if err != nil {
		t.Fatalf("order logs: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("expected 1 entry, got %d", len(logs))
	}

	// A different event type is a different logical event.
	refund := d
	refund.EventType = "refund"
	if res, err := b.Forward(ctx, refund); err != nil || res.Status != beacon.ForwardSent {
		t.Fatalf("refund forward: res=%+v err=%v", res, err)
	}
}

func TestForwardDedupDisabled(t *testing.T) {
	b := newBeacon(t,
		beacon.WithSender("meta", okSender()),
		beacon.WithDedupEnabled(false),
		beacon.WithRetryCooldown(0),
	)
	ctx := context.Background()
	d := beacon.Delivery{OrderID: "order-1001", Destination: "meta", Payload: json.RawMessage(`{}`)}

	for i := 0; i < 2; i++ {
		res, err := b.Forward(ctx, d)
		if err != nil {
			t.Fatalf("forward %d: %v", i, err)
		}
		if res.Status != beacon.ForwardSent {
			t.Fatalf("forward %d: status = %q, want sent", i, res.Status)
		}
	}
}

func TestForwardQueuedOnFailure(t *testing.T) {
	b := newBeacon(t, beacon.WithSender("meta", failSender()))

	res, err := b.Forward(context.Background(), beacon.Delivery{
		OrderID:     "order-1001",
		Destination: "meta",
		Payload:     json.RawMessage(`{"value":1}`),
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if res.Status != beacon.ForwardQueued {
		t.Fatalf("status = %q, want queued", res.Status)
	}
	if res.Item == nil {
		t.Fatal("queued result missing the queue item")
	}
	if res.Item.State != queue.StatePending {
		t.Errorf("item state = %q, want pending", res.Item.State)
	}
	if res.Item.Attempts != 0 {
		t.Errorf("item attempts = %d, want 0", res.Item.Attempts)
	}
	if res.Item.LastStatusCode != 500 {
		t.Errorf("item last status = %d, want 500", res.Item.LastStatusCode)
	}

	stats, err := b.Queue().Stats(context.Background())
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1", stats.Pending)
	}

	logs, err := b.Ledger().OrderLogs(context.Background(), "order-1001")
	if err != nil {
		t.Fatalf("order logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != ledger.StatusQueued {
		t.Fatalf("expected one queued entry, got %+v", logs)
	}
}

func TestForwardFailedWhenQueueDisabled(t *testing.T) {
	b := newBeacon(t,
		beacon.WithSender("meta", failSender()),
		beacon.WithQueueEnabled(false),
	)

	res, err := b.Forward(context.Background(), beacon.Delivery{
		OrderID:     "order-1001",
		Destination: "meta",
		Payload:     json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	if res.Status != beacon.ForwardFailed {
		t.Fatalf("status = %q, want failed", res.Status)
	}

	stats, err := b.Queue().Stats(context.Background())
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if stats.Pending != 0 {
		t.Errorf("pending = %d, want 0 with queue disabled", stats.Pending)
	}

	logs, err := b.Ledger().OrderLogs(context.Background(), "order-1001")
	if err != nil {
		t.Fatalf("order logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Status != ledger.StatusFailed {
		t.Fatalf("expected one failed entry, got %+v", logs)
	}
}

func TestForwardCooldownDefers(t *testing.T) {
	sent := 0
	counting := sender.Func(func(_ context.Context, _ sender.Request) sender.Result {
		sent++
		return sender.Result{Success: true, ResponseCode: 200}
	})
	b := newBeacon(t,
		beacon.WithSender("meta", counting),
		beacon.WithDedupEnabled(false),
		beacon.WithRetryCooldown(time.Hour),
	)
	ctx := context.Background()
	d := beacon.Delivery{OrderID: "order-1001", Destination: "meta", Payload: json.RawMessage(`{}`)}

	if res, err := b.Forward(ctx, d); err != nil || res.Status != beacon.ForwardSent {
		t.Fatalf("first forward: res=%+v err=%v", res, err)
	}

	// The second forward lands inside the cooldown: no send, queued for
	// later.
	res, err := b.Forward(ctx, d)
	if err != nil {
		t.Fatalf("second forward: %v", err)
	}
	if res.Status != beacon.ForwardQueued {
		t.Fatalf("status = %q, want queued", res.Status)
	}
	if res.Item == nil || res.Item.LastError != "deferred by cooldown" {
		t.Errorf("item = %+v, want deferred by cooldown", res.Item)
	}
	if sent != 1 {
		t.Errorf("destination saw %d sends, want 1", sent)
	}
}

func TestForwardRateLimited(t *testing.T) {
	b := newBeacon(t,
		beacon.WithSender("meta", okSender()),
		beacon.WithRateLimit(1),
	)

	// The first send drains the destination's budget.
	if _, err := b.Forward(context.Background(), beacon.Delivery{
		OrderID:     "order-1001",
		Destination: "meta",
		Payload:     json.RawMessage(`{"value":1}`),
	}); err != nil {
		t.Fatalf("first forward: %v", err)
	}

	// A second send to the same destination blocks on the limiter until
	// the caller's deadline expires.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Forward(ctx, beacon.Delivery{
		OrderID:     "order-1002",
		Destination: "meta",
		Payload:     json.RawMessage(`{"value":1}`),
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded waiting on the rate limit, got %v", err)
	}
}

func TestForwardValidation(t *testing.T) {
	b := newBeacon(t, beacon.WithSender("meta", okSender()))
	ctx := context.Background()

	if _, err := b.Forward(ctx, beacon.Delivery{Destination: "meta"}); err == nil {
		t.Error("missing order ID accepted")
	}

	_, err := b.Forward(ctx, beacon.Delivery{OrderID: "order-1001", Destination: "tiktok"})
	if !errors.Is(err, beacon.ErrUnknownDestination) {
		t.Errorf("expected ErrUnknownDestination, got %v", err)
	}
}

func TestForwardSchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["value"],
		"properties": {"value": {"type": "number"}}
	}`)
	b := newBeacon(t, beacon.WithSender("meta", okSender(), sender.WithPayloadSchema(schema)))

	_, err := b.Forward(context.Background(), beacon.Delivery{
		OrderID:     "order-1001",
		Destination: "meta",
		Payload:     json.RawMessage(`{"value":"nope"}`),
	})
	if !errors.Is(err, beacon.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestSchedulerRetriesQueuedItem(t *testing.T) {
	var calls atomic.Int32
	flaky := sender.Func(func(_ context.Context, _ sender.Request) sender.Result {
		if calls.Add(1) == 1 {
			return sender.Result{ResponseCode: 503, Err: "destination returned status 503"}
		}
		return sender.Result{Success: true, ResponseCode: 200}
	})

	b := newBeacon(t,
		beacon.WithSender("meta", flaky),
		beacon.WithRetryCooldown(0),
		beacon.WithBackoffSchedule([]time.Duration{time.Millisecond}),
		beacon.WithPollInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	res, err := b.Forward(ctx, beacon.Delivery{
		OrderID:     "order-1001",
		Destination: "meta",
		Payload:     json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if res.Status != beacon.ForwardQueued {
		t.Fatalf("status = %q, want queued", res.Status)
	}

	b.Start(ctx)
	defer b.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		item, err := b.Queue().Get(ctx, res.Item.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if item.State == queue.StateCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queued item never completed")
}
