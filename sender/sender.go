// Package sender defines the destination Sender contract and the registry
// that maps destination keys to Sender implementations.
//
// Beacon never constructs Senders itself: each advertising or analytics
// destination supplies an implementation (payload formatting, hashing and
// authentication live there), and the registry is injected at startup.
package sender

import (
	"context"
	"encoding/json"
)

// Result holds the outcome of a single send attempt.
type Result struct {
	// Success reports whether the destination accepted the event.
	Success bool

	// ResponseCode is the HTTP (or protocol) status code, 0 when the
	// attempt never reached the destination.
	ResponseCode int

	// ResponseBody is the raw response body, if any.
	ResponseBody string

	// Err is the error message when the attempt failed before or during
	// transport. Empty on success.
	Err string
}

// Request carries one event to a destination.
type Request struct {
	// OrderID is the opaque reference to the purchase order.
	OrderID string

	// EventID is the stable event identifier for server-side deduplication.
	// It is identical across retries of the same logical event.
	EventID string

	// Payload is the pre-built event data, passed through verbatim.
	Payload json.RawMessage
}

// Sender delivers a pre-built payload for one order to one destination.
//
// Implementations must honor ctx cancellation; Beacon bounds every call
// with a timeout so a hung destination cannot stall the scheduler.
type Sender interface {
	Send(ctx context.Context, req Request) Result
}

// Func adapts a plain function to the Sender interface.
type Func func(ctx context.Context, req Request) Result

// Send implements Sender.
func (f Func) Send(ctx context.Context, req Request) Result {
	return f(ctx, req)
}
