package engine

import (
	"sync"
	"time"
)

const (
	// SuppressReasonCooldown marks a fire dropped by the cooldown filter.
	SuppressReasonCooldown = "cooldown"
	// SuppressReasonRateLimit marks a fire dropped by the rate-limit filter.
	SuppressReasonRateLimit = "rate_limit"
)

// RateLimiter maintains sliding windows of fire timestamps per limiter key.
// Check-then-increment is a single atomic step under the limiter mutex so
// concurrent evaluations cannot both claim the last window slot.
// Params: per-key timestamp windows.
// Returns: suppression gate rate-limit state.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewRateLimiter creates an empty rate limiter.
// Params: none.
// Returns: initialized limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string][]time.Time)}
}

// Allow records one fire attempt and reports whether it fits the window.
// The window is inclusive: a timestamp exactly window in the past still
// counts, so exactly max events pass per window and the max+1-th is dropped.
// Params: limiter key, max events, window width, and current time.
// Returns: true when the fire is admitted (and counted).
func (l *RateLimiter) Allow(key string, max int, window time.Duration, now time.Time) bool {
	if max <= 0 || window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	points := l.windows[key]
	cutoff := now.Add(-window)
	drop := 0
	for ; drop < len(points); drop++ {
		if !points[drop].Before(cutoff) {
			break
		}
	}
	points = points[drop:]

	if len(points) >= max {
		l.windows[key] = points
		return false
	}
	l.windows[key] = append(points, now)
	return true
}

// Compact drops limiter windows with no points newer than the horizon.
// Params: current time and idle horizon.
// Returns: number of evicted keys.
func (l *RateLimiter) Compact(now time.Time, horizon time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	cutoff := now.Add(-horizon)
	for key, points := range l.windows {
		if len(points) == 0 || points[len(points)-1].Before(cutoff) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}
