package queue_test

import (
	"testing"
	"time"

	"github.com/trackwell/beacon/queue"
)

func TestBackoffDelay(t *testing.T) {
	schedule := []time.Duration{1 * time.Minute, 5 * time.Minute, 30 * time.Minute}
	backoff := queue.NewBackoff(schedule)

	tests := []struct {
		name     string
		attempts int
		want     time.Duration
	}{
		{"0 attempts → first interval", 0, 1 * time.Minute},
		{"1 attempt → second interval", 1, 5 * time.Minute},
		{"2 attempts → third interval", 2, 30 * time.Minute},
		{"3 attempts → capped at last", 3, 30 * time.Minute},
		{"10 attempts → capped at last", 10, 30 * time.Minute},
		{"negative → first interval", -1, 1 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backoff.Delay(tt.attempts); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempts, got, tt.want)
			}
		})
	}
}

func TestBackoffEmptyScheduleUsesDefault(t *testing.T) {
	backoff := queue.NewBackoff(nil)

	if got := backoff.Delay(0); got != queue.DefaultBackoffSchedule[0] {
		t.Errorf("Delay(0) = %v, want %v", got, queue.DefaultBackoffSchedule[0])
	}
	last := queue.DefaultBackoffSchedule[len(queue.DefaultBackoffSchedule)-1]
	if got := backoff.Delay(100); got != last {
		t.Errorf("Delay(100) = %v, want %v", got, last)
	}
}

func TestBackoffNextRetryAt(t *testing.T) {
	schedule := []time.Duration{10 * time.Minute}
	backoff := queue.NewBackoff(schedule)

	before := time.Now().UTC()
	next := backoff.NextRetryAt(0)
	after := time.Now().UTC()

	if next.Before(before.Add(10*time.Minute - time.Millisecond)) ||
		next.After(after.Add(10*time.Minute+time.Millisecond)) {
		t.Errorf("NextRetryAt(0) = %v, expected ~%v", next, before.Add(10*time.Minute))
	}
}
