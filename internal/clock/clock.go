package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for tests.
// Params: starting timestamp.
// Returns: clock advanced explicitly by the test.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates manual clock at given start time.
// Params: starting timestamp.
// Returns: initialized manual clock.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the currently set time.
// Params: none.
// Returns: last set timestamp.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by delta.
// Params: positive duration to add.
// Returns: new current timestamp.
func (m *Manual) Advance(delta time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(delta)
	return m.now
}

// Set pins the clock to an absolute timestamp.
// Params: replacement timestamp.
// Returns: none.
func (m *Manual) Set(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = at.UTC()
}
