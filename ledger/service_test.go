package ledger_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/store/memory"
)

func newService(t *testing.T, cfg ledger.Config) (*ledger.Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	if cfg.InstallKey == "" {
		cfg.InstallKey = "test-install-key"
	}
	return ledger.NewService(st, cfg, nil), st
}

func TestIsDuplicate(t *testing.T) {
	svc, _ := newService(t, ledger.Config{Enabled: true, Window: time.Hour})
	ctx := context.Background()

	dup, err := svc.IsDuplicate(ctx, "order-1001", "meta", "purchase")
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if dup {
		t.Fatal("empty ledger reported a duplicate")
	}

	if err := svc.LogSuccess(ctx, ledger.Attempt{
		OrderID:     "order-1001",
		Destination: "meta",
		EventType:   "purchase",
		EventID:     "evt-1",
	}); err != nil {
		t.Fatalf("log success: %v", err)
	}

	dup, err = svc.IsDuplicate(ctx, "order-1001", "meta", "purchase")
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Error("success within window not reported as duplicate")
	}

	// The triple is exact: a different destination or event type is not a
	// duplicate.
	if dup, _ := svc.IsDuplicate(ctx, "order-1001", "google_ads", "purchase"); dup {
		t.Error("different destination reported as duplicate")
	}
	if dup, _ := svc.IsDuplicate(ctx, "order-1001", "meta", "refund"); dup {
		t.Error("different event type reported as duplicate")
	}
	if dup, _ := svc.IsDuplicate(ctx, "order-2002", "meta", "purchase"); dup {
		t.Error("different order reported as duplicate")
	}
}

func TestIsDuplicateFailuresDoNotCount(t *testing.T) {
	svc, _ := newService(t, ledger.Config{Enabled: true, Window: time.Hour})
	ctx := context.Background()

	if err := svc.LogFailure(ctx, ledger.Attempt{
		OrderID:     "order-1001",
		Destination: "meta",
		EventType:   "purchase",
	}); err != nil {
		t.Fatalf("log failure: %v", err)
	}
	if err := svc.LogQueued(ctx, ledger.Attempt{
		OrderID:     "order-1001",
		Destination: "meta",
		EventType:   "purchase",
	}); err != nil {
		t.Fatalf("log queued: %v", err)
	}

	dup, err := svc.IsDuplicate(ctx, "order-1001", "meta", "purchase")
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if dup {
		t.Error("failed attempts counted toward duplicate suppression")
	}
}

func TestIsDuplicateDisabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  ledger.Config
	}{
		{"suppression off", ledger.Config{Enabled: false, Window: time.Hour}},
		{"zero window", ledger.Config{Enabled: true, Window: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t, tt.cfg)
			ctx := context.Background()

			if err := svc.LogSuccess(ctx, ledger.Attempt{
				OrderID:     "order-1001",
				Destination: "meta",
				EventType:   "purchase",
			}); err != nil {
				t.Fatalf("log success: %v", err)
			}

			dup, err := svc.IsDuplicate(ctx, "order-1001", "meta", "purchase")
			if err != nil {
				t.Fatalf("is duplicate: %v", err)
			}
			if dup {
				t.Error("suppression applied while disabled")
			}
		})
	}
}

func TestShouldSkipRecentAttempt(t *testing.T) {
	svc, _ := newService(t, ledger.Config{Cooldown: time.Hour})
	ctx := context.Background()

	skip, err := svc.ShouldSkipRecentAttempt(ctx, "order-1001", "meta", 0)
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if skip {
		t.Fatal("empty ledger triggered cooldown")
	}

	// Any outcome counts as an attempt, success or not.
	if err := svc.LogQueued(ctx, ledger.Attempt{
		OrderID:     "order-1001",
		Destination: "meta",
		EventType:   "purchase",
	}); err != nil {
		t.Fatalf("log queued: %v", err)
	}

	skip, err = svc.ShouldSkipRecentAttempt(ctx, "order-1001", "meta", 0)
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if !skip {
		t.Error("recent attempt did not trigger cooldown (default)")
	}

	// An explicit cooldown overrides the default.
	skip, err = svc.ShouldSkipRecentAttempt(ctx, "order-1001", "meta", time.Nanosecond)
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if skip {
		t.Error("nanosecond cooldown still triggered")
	}

	// No cooldown configured anywhere means no throttling.
	bare, _ := newService(t, ledger.Config{})
	skip, err = bare.ShouldSkipRecentAttempt(ctx, "order-1001", "meta", 0)
	if err != nil {
		t.Fatalf("should skip: %v", err)
	}
	if skip {
		t.Error("cooldown triggered with no cooldown configured")
	}
}

func TestEventIDs(t *testing.T) {
	svc, _ := newService(t, ledger.Config{InstallKey: "install-a"})

	stable := svc.StableEventID("order-1001", "meta", "purchase")
	if len(stable) != 32 {
		t.Errorf("stable ID length = %d, want 32", len(stable))
	}
	if again := svc.StableEventID("order-1001", "meta", "purchase"); again != stable {
		t.Errorf("stable ID not deterministic: %q vs %q", stable, again)
	}
	if other := svc.StableEventID("order-1001", "google_ads", "purchase"); other == stable {
		t.Error("stable ID identical across destinations")
	}

	// A different install key yields a different stable ID for the same
	// order.
	other, _ := newService(t, ledger.Config{InstallKey: "install-b"})
	if other.StableEventID("order-1001", "meta", "purchase") == stable {
		t.Error("stable ID identical across install keys")
	}

	// Per-attempt IDs are unique but share the digest prefix with the
	// stable ID.
	first := svc.EventID("order-1001", "meta", "purchase")
	second := svc.EventID("order-1001", "meta", "purchase")
	if first == second {
		t.Errorf("per-attempt event IDs should differ, both %q", first)
	}
	if !strings.HasPrefix(first, stable[:12]) || !strings.HasPrefix(second, stable[:12]) {
		t.Errorf("event IDs %q, %q missing shared prefix %q", first, second, stable[:12])
	}
}

func TestLogTruncatesCaptures(t *testing.T) {
	svc, _ := newService(t, ledger.Config{})
	ctx := context.Background()

	huge := strings.Repeat("x", 100*1024)
	if err := svc.LogFailure(ctx, ledger.Attempt{
		OrderID:      "order-1001",
		Destination:  "meta",
		EventType:    "purchase",
		ResponseBody: huge,
		Error:        huge,
	}); err != nil {
		t.Fatalf("log failure: %v", err)
	}

	logs, err := svc.OrderLogs(ctx, "order-1001")
	if err != nil {
		t.Fatalf("order logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(logs))
	}
	if len(logs[0].ResponseBody) != 64*1024 {
		t.Errorf("response body length = %d, want %d", len(logs[0].ResponseBody), 64*1024)
	}
	if len(logs[0].Error) != 64*1024 {
		t.Errorf("error length = %d, want %d", len(logs[0].Error), 64*1024)
	}
}

func TestLogExtractsClickIDs(t *testing.T) {
	svc, _ := newService(t, ledger.Config{})
	ctx := context.Background()

	if err := svc.LogSuccess(ctx, ledger.Attempt{
		OrderID:     "order-1001",
		Destination: "meta",
		EventType:   "purchase",
		Attribution: map[string]string{
			"gclid":      "g-123",
			"fbclid":     "fb-456",
			"utm_source": "newsletter",
		},
	}); err != nil {
		t.Fatalf("log success: %v", err)
	}

	logs, err := svc.OrderLogs(ctx, "order-1001")
	if err != nil {
		t.Fatalf("order logs: %v", err)
	}
	entry := logs[0]
	if entry.ClickIDs["gclid"] != "g-123" || entry.ClickIDs["fbclid"] != "fb-456" {
		t.Errorf("click IDs not extracted: %v", entry.ClickIDs)
	}
	if _, ok := entry.ClickIDs["utm_source"]; ok {
		t.Error("non-click-ID attribution key leaked into click IDs")
	}
	if entry.Attribution["utm_source"] != "newsletter" {
		t.Error("attribution snapshot not preserved")
	}
}

func TestStats(t *testing.T) {
	svc, _ := newService(t, ledger.Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.LogSuccess(ctx, ledger.Attempt{OrderID: "o", Destination: "meta", EventType: "purchase"}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	if err := svc.LogFailure(ctx, ledger.Attempt{OrderID: "o", Destination: "meta", EventType: "purchase"}); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := svc.LogQueued(ctx, ledger.Attempt{OrderID: "o", Destination: "google_ads", EventType: "purchase"}); err != nil {
		t.Fatalf("log: %v", err)
	}

	stats, err := svc.Stats(ctx, ledger.PeriodAll)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Totals.Success != 3 || stats.Totals.Failed != 1 || stats.Totals.Queued != 1 {
		t.Errorf("totals = %+v", stats.Totals)
	}
	meta := stats.ByDestination["meta"]
	if meta.Success != 3 || meta.Failed != 1 {
		t.Errorf("meta counts = %+v", meta)
	}
	if stats.ByDestination["google_ads"].Queued != 1 {
		t.Errorf("google_ads counts = %+v", stats.ByDestination["google_ads"])
	}
}

func TestPurge(t *testing.T) {
	svc, _ := newService(t, ledger.Config{})
	ctx := context.Background()

	if err := svc.LogSuccess(ctx, ledger.Attempt{OrderID: "o", Destination: "meta", EventType: "purchase"}); err != nil {
		t.Fatalf("log: %v", err)
	}

	// Nothing is older than the epoch.
	n, err := svc.Purge(ctx, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 0 {
		t.Errorf("purged %d entries, want 0", n)
	}

	n, err = svc.Purge(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d entries, want 1", n)
	}

	logs, err := svc.OrderLogs(ctx, "o")
	if err != nil {
		t.Fatalf("order logs: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("entries survived purge: %d", len(logs))
	}
}
