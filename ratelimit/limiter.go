// Package ratelimit throttles outbound sends per destination so a backlog
// drain cannot flood an advertising platform's API quota.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter implements token bucket rate limiting per destination.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens    float64
	lastFill  time.Time
	rateLimit float64 // tokens per second
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
	}
}

// Allow checks whether a send to the destination may proceed.
// A rateLimit of 0 means unlimited (always returns true).
func (l *Limiter) Allow(destination string, rateLimit int) bool {
	if rateLimit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.getOrCreateBucket(destination, float64(rateLimit))
	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait blocks until the rate limit allows the send or the context is cancelled.
// A rateLimit of 0 means unlimited (returns immediately).
func (l *Limiter) Wait(ctx context.Context, destination string, rateLimit int) error {
	if rateLimit <= 0 {
		return nil
	}

	for {
		if l.Allow(destination, rateLimit) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(float64(time.Second) / float64(rateLimit))):
			// Try again after estimated wait.
		}
	}
}

func (l *Limiter) getOrCreateBucket(destination string, rateLimit float64) *bucket {
	b, ok := l.buckets[destination]
	if !ok {
		b = &bucket{
			tokens:    rateLimit, // start full
			lastFill:  time.Now(),
			rateLimit: rateLimit,
		}
		l.buckets[destination] = b
	}
	return b
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * b.rateLimit
	if b.tokens > b.rateLimit {
		b.tokens = b.rateLimit // cap at burst size = rate limit
	}
	b.lastFill = now
}
