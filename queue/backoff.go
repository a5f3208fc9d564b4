package queue

import "time"

// DefaultBackoffSchedule spaces retries at 1m, 5m, 30m, 2h and 12h.
var DefaultBackoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// Backoff computes retry delays from a fixed schedule.
type Backoff struct {
	schedule []time.Duration
}

// NewBackoff creates a backoff over the given schedule. A nil or empty
// schedule falls back to DefaultBackoffSchedule.
func NewBackoff(schedule []time.Duration) *Backoff {
	if len(schedule) == 0 {
		schedule = DefaultBackoffSchedule
	}
	return &Backoff{schedule: schedule}
}

// Delay returns the wait before the attempt following the given number of
// completed attempts. Attempts beyond the schedule reuse the last entry, so
// a schedule shorter than the attempt cap degrades to a constant interval
// rather than panicking.
func (b *Backoff) Delay(attempts int) time.Duration {
	idx := attempts
	if idx < 0 {
		idx = 0
	}
	if idx >= len(b.schedule) {
		idx = len(b.schedule) - 1
	}
	return b.schedule[idx]
}

// NextRetryAt returns the absolute time of the attempt following the given
// number of completed attempts.
func (b *Backoff) NextRetryAt(attempts int) time.Time {
	return time.Now().UTC().Add(b.Delay(attempts))
}
