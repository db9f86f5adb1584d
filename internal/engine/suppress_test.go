package engine

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiterInclusiveBoundary(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter()
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	window := 10 * time.Minute

	for i := 0; i < 3; i++ {
		if !limiter.Allow("r", 3, window, start.Add(time.Duration(i)*time.Minute)) {
			t.Fatalf("event %d: expected admission under the cap", i)
		}
	}
	if limiter.Allow("r", 3, window, start.Add(3*time.Minute)) {
		t.Fatalf("expected fourth event denied inside the window")
	}

	// Exactly window after the first event it still counts.
	if limiter.Allow("r", 3, window, start.Add(window)) {
		t.Fatalf("expected denial at the inclusive boundary")
	}

	// One minute later the first event has aged out.
	if !limiter.Allow("r", 3, window, start.Add(window+time.Minute)) {
		t.Fatalf("expected admission after the oldest event aged out")
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	if !limiter.Allow("a", 1, time.Minute, now) {
		t.Fatalf("expected key a admitted")
	}
	if !limiter.Allow("b", 1, time.Minute, now) {
		t.Fatalf("expected key b unaffected by key a")
	}
	if limiter.Allow("a", 1, time.Minute, now) {
		t.Fatalf("expected key a at its cap")
	}
}

func TestRateLimiterZeroConfigAllowsAll(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if !limiter.Allow("r", 0, 0, now) {
			t.Fatalf("expected unlimited admission without a configured cap")
		}
	}
}

func TestRateLimiterConcurrentClaims(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	const attempts = 32
	var wg sync.WaitGroup
	admitted := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- limiter.Allow("r", 3, time.Minute, now)
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	if count != 3 {
		t.Fatalf("expected exactly 3 admissions under concurrency, got %d", count)
	}
}

func TestRateLimiterCompact(t *testing.T) {
	t.Parallel()

	limiter := NewRateLimiter()
	start := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	limiter.Allow("old", 5, time.Minute, start)
	limiter.Allow("fresh", 5, time.Minute, start.Add(time.Hour))

	removed := limiter.Compact(start.Add(time.Hour+time.Second), 30*time.Minute)
	if removed != 1 {
		t.Fatalf("expected one stale key evicted, got %d", removed)
	}
}
