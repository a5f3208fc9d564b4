// Package beacon provides a composable purchase-event forwarding core for Go.
//
// Beacon is a library — not a service. Import it into your commerce
// application to get guaranteed, deduplicated delivery of purchase events to
// advertising and analytics destinations: a durable retry queue with
// exponential backoff, an append-only send ledger that suppresses duplicate
// reports, and a scheduler that drains due retries on a fixed cadence.
//
// Key features:
//   - Durable retry queue with a configurable backoff schedule and attempt ceiling
//   - Append-only deduplication ledger with window-based duplicate suppression
//   - Stable per-order event IDs so destinations can deduplicate server-side
//   - Composable store pattern with multiple backends (Postgres, SQLite, Redis, Memory)
//   - Injected destination registry; unknown destinations fail fast
//   - Atomic claim/transition updates so overlapping runs never double-send
//
// Quick start:
//
//	b, err := beacon.New(
//	    beacon.WithStore(memoryStore),
//	    beacon.WithSenders(registry),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	b.Start(ctx)
//	defer b.Stop(ctx)
//
//	b.Forward(ctx, beacon.Delivery{
//	    OrderID:     "order_1042",
//	    Destination: "meta",
//	    EventType:   "purchase",
//	    Payload:     json.RawMessage(`{"value":99.99,"currency":"USD"}`),
//	})
package beacon
