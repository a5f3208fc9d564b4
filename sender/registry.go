package sender

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSchemaValidation is returned when a payload does not match the schema
// registered for its destination.
var ErrSchemaValidation = errors.New("sender: payload schema validation failed")

// Registry is the fixed destination-name → Sender map supplied at startup.
//
// Registration happens during wiring, before the scheduler starts; lookups
// are concurrent-safe.
type Registry struct {
	mu        sync.RWMutex
	senders   map[string]Sender
	schemas   map[string]json.RawMessage
	validator *Validator
}

// RegisterOption configures a single destination registration.
type RegisterOption func(*registration)

type registration struct {
	schema json.RawMessage
}

// WithPayloadSchema attaches a JSON Schema validated against every payload
// queued for this destination. Validation failures are configuration errors,
// not retryable sends.
func WithPayloadSchema(schema json.RawMessage) RegisterOption {
	return func(r *registration) {
		r.schema = schema
	}
}

// NewRegistry creates an empty destination registry.
func NewRegistry() *Registry {
	return &Registry{
		senders:   make(map[string]Sender),
		schemas:   make(map[string]json.RawMessage),
		validator: NewValidator(),
	}
}

// Register binds a destination key to a Sender. Re-registering a key
// replaces the previous Sender.
func (r *Registry) Register(name string, s Sender, opts ...RegisterOption) error {
	if name == "" {
		return errors.New("sender: destination name is required")
	}
	if s == nil {
		return fmt.Errorf("sender: nil sender for destination %q", name)
	}

	var reg registration
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.senders[name] = s
	if reg.schema != nil {
		r.schemas[name] = reg.schema
	}
	return nil
}

// Resolve returns the Sender for a destination key.
func (r *Registry) Resolve(name string) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.senders[name]
	return s, ok
}

// Names returns the registered destination keys, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.senders))
	for name := range r.senders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a payload against the destination's registered schema.
// Destinations without a schema accept any payload.
func (r *Registry) Validate(name string, payload json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("%w: payload is not valid JSON: %v", ErrSchemaValidation, err)
	}

	if err := r.validator.Validate(schema, data); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	return nil
}
