// Package clock abstracts the time source used by rate limiters so that
// production code reads the wall clock while tests drive time by hand.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time as nanoseconds since the Unix epoch.
// Implementations must be safe for concurrent use and must never go
// backwards from the perspective of a single limiter.
type Clock interface {
	Now() int64
}

// System reads the wall clock. It is stateless and can be shared freely.
type System struct{}

// Now returns the current wall-clock time in nanoseconds.
func (System) Now() int64 {
	return time.Now().UnixNano()
}

// Manual is a deterministic clock for tests. Any number of goroutines may
// read it while a single test goroutine moves it forward.
type Manual struct {
	now atomic.Int64
}

// NewManual creates a manual clock set to the given nanosecond timestamp.
func NewManual(now int64) *Manual {
	m := &Manual{}
	m.now.Store(now)

	return m
}

// Now returns the clock's current value.
func (m *Manual) Now() int64 {
	return m.now.Load()
}

// Set moves the clock to the given nanosecond timestamp.
func (m *Manual) Set(now int64) {
	m.now.Store(now)
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.now.Add(int64(d))
}
