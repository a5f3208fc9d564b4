package beacon

import "time"

// Config holds the configuration for a Beacon instance.
type Config struct {
	// QueueEnabled gates retry queueing. When false, failed sends are
	// recorded as permanent failures instead of being queued.
	QueueEnabled bool

	// DedupEnabled gates duplicate suppression. When false, IsDuplicate
	// always reports false and every Forward call sends.
	DedupEnabled bool

	// DedupWindow is how long after a success the same logical event
	// counts as a duplicate.
	DedupWindow time.Duration

	// RetryCooldown is the minimum spacing between attempts for the same
	// order+destination pair.
	RetryCooldown time.Duration

	// BackoffSchedule defines the intervals between retry attempts.
	BackoffSchedule []time.Duration

	// MaxAttempts is the cap on retry attempts per queue item.
	MaxAttempts int

	// PollInterval is how often the scheduler checks for due items.
	PollInterval time.Duration

	// BatchSize is the maximum number of items claimed per poll cycle.
	BatchSize int

	// SendTimeout bounds each send attempt.
	SendTimeout time.Duration

	// ClaimTimeout is how long a worker claim may stand before it is
	// treated as abandoned and released back to the queue.
	ClaimTimeout time.Duration

	// RateLimit is the per-destination send rate in events per second
	// during backlog processing. 0 means unlimited.
	RateLimit int

	// CleanupRetention is how long terminal queue items are kept.
	CleanupRetention time.Duration

	// CleanupInterval is how often terminal items are pruned. 0 disables
	// automatic cleanup.
	CleanupInterval time.Duration

	// InstallKey keys stable event ID generation. Two installations
	// forwarding the same order ID produce different stable IDs.
	InstallKey string
}

// DefaultBackoffSchedule defines the default retry intervals.
var DefaultBackoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueEnabled:     true,
		DedupEnabled:     true,
		DedupWindow:      1 * time.Hour,
		RetryCooldown:    60 * time.Second,
		BackoffSchedule:  DefaultBackoffSchedule,
		MaxAttempts:      5,
		PollInterval:     60 * time.Second,
		BatchSize:        10,
		SendTimeout:      30 * time.Second,
		ClaimTimeout:     5 * time.Minute,
		CleanupRetention: 30 * 24 * time.Hour,
		CleanupInterval:  12 * time.Hour,
	}
}
