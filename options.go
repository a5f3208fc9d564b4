package beacon

import (
	"log/slog"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/trackwell/beacon/ledger"
	"github.com/trackwell/beacon/observability"
	"github.com/trackwell/beacon/queue"
	"github.com/trackwell/beacon/ratelimit"
	"github.com/trackwell/beacon/scheduler"
	"github.com/trackwell/beacon/sender"
	"github.com/trackwell/beacon/store"
)

// Beacon is the root event forwarding engine.
type Beacon struct {
	config    Config
	store     store.Store
	senders   *sender.Registry
	ledgerSvc *ledger.Service
	queueSvc  *queue.Service
	sched     *scheduler.Scheduler
	throttle  *ratelimit.Limiter
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
}

// Option configures a Beacon instance.
type Option func(*Beacon) error

// New creates a new Beacon with the given options.
func New(opts ...Option) (*Beacon, error) {
	b := &Beacon{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.store == nil {
		return nil, ErrNoStore
	}
	if b.senders == nil || len(b.senders.Names()) == 0 {
		return nil, ErrNoSenders
	}
	if err := validateSchedule(b.config.BackoffSchedule); err != nil {
		return nil, err
	}
	b.wireServices()
	return b, nil
}

func validateSchedule(schedule []time.Duration) error {
	if len(schedule) == 0 {
		return ErrInvalidSchedule
	}
	for _, d := range schedule {
		if d <= 0 {
			return ErrInvalidSchedule
		}
	}
	return nil
}

// WithStore sets the persistence backend for the Beacon instance.
func WithStore(s store.Store) Option {
	return func(b *Beacon) error {
		b.store = s
		return nil
	}
}

// WithSenders sets the destination registry for the Beacon instance.
func WithSenders(r *sender.Registry) Option {
	return func(b *Beacon) error {
		b.senders = r
		return nil
	}
}

// WithSender registers a single destination, creating the registry if
// needed.
func WithSender(name string, s sender.Sender, opts ...sender.RegisterOption) Option {
	return func(b *Beacon) error {
		if b.senders == nil {
			b.senders = sender.NewRegistry()
		}
		return b.senders.Register(name, s, opts...)
	}
}

// WithLogger sets the structured logger for the Beacon instance.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Beacon) error {
		b.logger = logger
		return nil
	}
}

// WithQueueEnabled toggles retry queueing.
func WithQueueEnabled(enabled bool) Option {
	return func(b *Beacon) error {
		b.config.QueueEnabled = enabled
		return nil
	}
}

// WithDedupEnabled toggles duplicate suppression.
func WithDedupEnabled(enabled bool) Option {
	return func(b *Beacon) error {
		b.config.DedupEnabled = enabled
		return nil
	}
}

// WithDedupWindow sets the duplicate suppression window.
func WithDedupWindow(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.DedupWindow = d
		return nil
	}
}

// WithRetryCooldown sets the minimum spacing between attempts for the same
// order+destination pair.
func WithRetryCooldown(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.RetryCooldown = d
		return nil
	}
}

// WithBackoffSchedule sets the intervals between retry attempts.
func WithBackoffSchedule(schedule []time.Duration) Option {
	return func(b *Beacon) error {
		b.config.BackoffSchedule = schedule
		return nil
	}
}

// WithMaxAttempts sets the cap on retry attempts per queue item.
func WithMaxAttempts(n int) Option {
	return func(b *Beacon) error {
		b.config.MaxAttempts = n
		return nil
	}
}

// WithPollInterval sets how often the scheduler checks for due items.
func WithPollInterval(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of items claimed per poll cycle.
func WithBatchSize(n int) Option {
	return func(b *Beacon) error {
		b.config.BatchSize = n
		return nil
	}
}

// WithSendTimeout sets the timeout per send attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.SendTimeout = d
		return nil
	}
}

// WithClaimTimeout sets how long a worker claim may stand before it is
// released back to the queue.
func WithClaimTimeout(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.ClaimTimeout = d
		return nil
	}
}

// WithRateLimit sets the per-destination send rate during backlog
// processing, in events per second. 0 means unlimited.
func WithRateLimit(n int) Option {
	return func(b *Beacon) error {
		b.config.RateLimit = n
		return nil
	}
}

// WithCleanupRetention sets how long terminal queue items are kept.
func WithCleanupRetention(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.CleanupRetention = d
		return nil
	}
}

// WithCleanupInterval sets how often terminal items are pruned.
// 0 disables automatic cleanup.
func WithCleanupInterval(d time.Duration) Option {
	return func(b *Beacon) error {
		b.config.CleanupInterval = d
		return nil
	}
}

// WithInstallKey sets the key used for stable event ID generation.
func WithInstallKey(key string) Option {
	return func(b *Beacon) error {
		b.config.InstallKey = key
		return nil
	}
}

// WithMetrics enables metric instruments backed by the given factory.
func WithMetrics(factory gu.MetricFactory) Option {
	return func(b *Beacon) error {
		b.metrics = observability.NewMetrics(factory)
		return nil
	}
}

// WithTracing enables OpenTelemetry tracing for send attempts.
func WithTracing() Option {
	return func(b *Beacon) error {
		b.tracer = observability.NewTracer()
		return nil
	}
}
