package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trackwell/beacon/api"
	"github.com/trackwell/beacon/id"
	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/queue"
	"github.com/trackwell/beacon/sender"
	"github.com/trackwell/beacon/store/memory"
)

type testEnv struct {
	srv       *httptest.Server
	queueSvc  *queue.Service
	ledgerSvc *ledger.Service
}

// newTestEnv creates a Handler backed by a memory store and returns the test
// server plus the services for seeding state.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := memory.New()
	reg := sender.NewRegistry()
	ok := sender.Func(func(_ context.Context, _ sender.Request) sender.Result {
		return sender.Result{Success: true, ResponseCode: 200}
	})
	if err := reg.Register("meta", ok); err != nil {
		t.Fatalf("register: %v", err)
	}

	ledgerSvc := ledger.NewService(st, ledger.Config{InstallKey: "test-key"}, nil)
	queueSvc := queue.NewService(st, reg, ledgerSvc, nil, queue.Config{
		Enabled:         true,
		BackoffSchedule: []time.Duration{time.Hour},
	}, nil)

	h := api.NewHandler(queueSvc, ledgerSvc, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, queueSvc: queueSvc, ledgerSvc: ledgerSvc}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func seedItem(t *testing.T, e *testEnv, orderID string) *queue.Item {
	t.Helper()
	item, err := e.queueSvc.Add(context.Background(), queue.AddRequest{
		OrderID:     orderID,
		Destination: "meta",
		Payload:     json.RawMessage(`{"value":1}`),
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func TestQueueStatsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	seedItem(t, e, "order-1")
	seedItem(t, e, "order-2")

	resp := doJSON(t, "GET", e.srv.URL+"/queue/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats map[string]any
	decodeBody(t, resp, &stats)
	if stats["pending"] != float64(2) {
		t.Errorf("pending = %v, want 2", stats["pending"])
	}
}

func TestListQueueEndpoint(t *testing.T) {
	e := newTestEnv(t)
	seedItem(t, e, "order-1")
	seedItem(t, e, "order-2")

	resp := doJSON(t, "GET", e.srv.URL+"/queue?state=pending", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var items []map[string]any
	decodeBody(t, resp, &items)
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}

	resp = doJSON(t, "GET", e.srv.URL+"/queue?state=completed", nil)
	decodeBody(t, resp, &items)
	if len(items) != 0 {
		t.Errorf("got %d completed items, want 0", len(items))
	}

	resp = doJSON(t, "GET", e.srv.URL+"/queue?state=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid state filter: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", e.srv.URL+"/queue?limit=1", nil)
	decodeBody(t, resp, &items)
	if len(items) != 1 {
		t.Errorf("limit=1 returned %d items", len(items))
	}
}

func TestGetQueueItemEndpoint(t *testing.T) {
	e := newTestEnv(t)
	item := seedItem(t, e, "order-1")

	resp := doJSON(t, "GET", e.srv.URL+"/queue/"+item.ID.String(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got map[string]any
	decodeBody(t, resp, &got)
	if got["order_id"] != "order-1" {
		t.Errorf("order_id = %v", got["order_id"])
	}

	resp = doJSON(t, "GET", e.srv.URL+"/queue/not-a-typeid", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid ID: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", e.srv.URL+"/queue/"+id.NewItemID().String(), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing item: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRetryEndpoint(t *testing.T) {
	e := newTestEnv(t)
	item := seedItem(t, e, "order-1")

	resp := doJSON(t, "POST", e.srv.URL+"/queue/"+item.ID.String()+"/retry", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got map[string]any
	decodeBody(t, resp, &got)
	if got["state"] != "completed" {
		t.Errorf("state after retry = %v, want completed", got["state"])
	}

	// Retrying a terminal item conflicts.
	resp = doJSON(t, "POST", e.srv.URL+"/queue/"+item.ID.String()+"/retry", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("retry terminal: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "POST", e.srv.URL+"/queue/"+id.NewItemID().String()+"/retry", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("retry missing: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCancelEndpoint(t *testing.T) {
	e := newTestEnv(t)
	item := seedItem(t, e, "order-1")

	resp := doJSON(t, "POST", e.srv.URL+"/queue/"+item.ID.String()+"/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got map[string]any
	decodeBody(t, resp, &got)
	if got["state"] != "cancelled" {
		t.Errorf("state after cancel = %v, want cancelled", got["state"])
	}

	resp = doJSON(t, "POST", e.srv.URL+"/queue/"+item.ID.String()+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double cancel: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCleanupEndpoint(t *testing.T) {
	e := newTestEnv(t)

	resp := doJSON(t, "POST", e.srv.URL+"/queue/cleanup", map[string]string{"retention": "720h"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got map[string]int64
	decodeBody(t, resp, &got)
	if got["deleted"] != 0 {
		t.Errorf("deleted = %d, want 0", got["deleted"])
	}

	resp = doJSON(t, "POST", e.srv.URL+"/queue/cleanup", map[string]string{"retention": "soon"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad retention: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestOrderEndpoints(t *testing.T) {
	e := newTestEnv(t)
	seedItem(t, e, "order-1")
	ctx := context.Background()
	if err := e.ledgerSvc.LogQueued(ctx, ledger.Attempt{
		OrderID:     "order-1",
		Destination: "meta",
		EventType:   "purchase",
		EventID:     "evt-1",
	}); err != nil {
		t.Fatalf("log queued: %v", err)
	}

	resp := doJSON(t, "GET", e.srv.URL+"/orders/order-1/queue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var items []map[string]any
	decodeBody(t, resp, &items)
	if len(items) != 1 {
		t.Errorf("got %d queue items, want 1", len(items))
	}

	resp = doJSON(t, "GET", e.srv.URL+"/orders/order-1/logs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var logs []map[string]any
	decodeBody(t, resp, &logs)
	if len(logs) != 1 || logs[0]["status"] != "queued" {
		t.Errorf("logs = %v", logs)
	}
}

func TestLedgerStatsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if err := e.ledgerSvc.LogSuccess(ctx, ledger.Attempt{
		OrderID: "order-1", Destination: "meta", EventType: "purchase",
	}); err != nil {
		t.Fatalf("log success: %v", err)
	}

	resp := doJSON(t, "GET", e.srv.URL+"/ledger/stats?period=today", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats map[string]any
	decodeBody(t, resp, &stats)
	if stats["period"] != "today" {
		t.Errorf("period = %v", stats["period"])
	}
	totals, _ := stats["totals"].(map[string]any)
	if totals == nil || totals["success"] != float64(1) {
		t.Errorf("totals = %v", totals)
	}

	resp = doJSON(t, "GET", e.srv.URL+"/ledger/stats?period=fortnight", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad period: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPurgeEndpoint(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	if err := e.ledgerSvc.LogSuccess(ctx, ledger.Attempt{
		OrderID: "order-1", Destination: "meta", EventType: "purchase",
	}); err != nil {
		t.Fatalf("log success: %v", err)
	}

	before := time.Now().UTC().Add(time.Minute).Format(time.RFC3339)
	resp := doJSON(t, "POST", e.srv.URL+"/ledger/purge", map[string]string{"before": before})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got map[string]int64
	decodeBody(t, resp, &got)
	if got["purged"] != 1 {
		t.Errorf("purged = %d, want 1", got["purged"])
	}

	resp = doJSON(t, "POST", e.srv.URL+"/ledger/purge", map[string]string{"before": "yesterday"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad time: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
