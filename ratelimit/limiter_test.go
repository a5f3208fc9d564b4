package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := New()
	for i := 0; i < 100; i++ {
		if !l.Allow("meta", 0) {
			t.Fatal("Allow(0) should always return true")
		}
	}
}

func TestAllow_RateLimited(t *testing.T) {
	l := New()
	dest := "google_ads"
	rateLimit := 2

	// First two should be allowed (bucket starts full).
	if !l.Allow(dest, rateLimit) {
		t.Fatal("first call should be allowed")
	}
	if !l.Allow(dest, rateLimit) {
		t.Fatal("second call should be allowed")
	}

	// Third should be denied (bucket exhausted).
	if l.Allow(dest, rateLimit) {
		t.Fatal("third call should be denied")
	}
}

func TestAllow_Refills(t *testing.T) {
	l := New()
	dest := "tiktok"
	rateLimit := 10 // 10 per second

	// Exhaust the bucket.
	for i := 0; i < 10; i++ {
		l.Allow(dest, rateLimit)
	}

	if l.Allow(dest, rateLimit) {
		t.Fatal("should be denied after exhausting bucket")
	}

	// Wait for refill.
	time.Sleep(200 * time.Millisecond)

	if !l.Allow(dest, rateLimit) {
		t.Fatal("should be allowed after refill window")
	}
}

func TestAllow_IndependentBuckets(t *testing.T) {
	l := New()

	if !l.Allow("meta", 1) {
		t.Fatal("first meta send should be allowed")
	}
	if l.Allow("meta", 1) {
		t.Fatal("second meta send should be denied")
	}

	// A different destination has its own bucket.
	if !l.Allow("pinterest", 1) {
		t.Fatal("pinterest send should be allowed")
	}
}

func TestWait_Cancelled(t *testing.T) {
	l := New()
	dest := "snapchat"

	// Exhaust the bucket.
	l.Allow(dest, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, dest, 1); err == nil {
		t.Fatal("Wait should return the context error when cancelled")
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := New()
	dest := "google_ads"

	var wg sync.WaitGroup
	allowed := make(chan bool, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow(dest, 10)
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count > 11 {
		t.Fatalf("expected at most ~10 allowed, got %d", count)
	}
}
