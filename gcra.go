// Package gcra implements keyed admission control with the Generic Cell
// Rate Algorithm. Instead of counting tokens it tracks one timestamp per
// key, the theoretical arrival time (TAT), at which that key's next
// request would be perfectly on schedule. A request conforms when the
// current time has caught up to the TAT minus the burst tolerance.
//
// All timing arithmetic is integer nanoseconds, fixed at construction,
// so decisions stay deterministic over long-running keys.
package gcra

import (
	"math"
	"time"

	"github.com/serroba/gcra/clock"
)

// Limiter decides, per key, whether a request may proceed. It is
// immutable after construction and safe for concurrent use.
type Limiter struct {
	rate, burst float64
	increment   int64 // nanoseconds between conforming requests (1/rate)
	tolerance   int64 // burst credit in nanoseconds (burst * increment)
	clock       clock.Clock
	store       Store
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock. Use a clock.Manual in tests.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithStore replaces the default sharded in-memory store.
func WithStore(s Store) Option {
	return func(l *Limiter) {
		if s != nil {
			l.store = s
		}
	}
}

// New creates a limiter that admits rate requests per second with burst
// extra requests on top before throttling begins. It returns
// ErrInvalidRate when rate is not positive and ErrInvalidBurst when
// burst is negative.
//
// At extreme rates the per-request increment can truncate to zero
// nanoseconds; the limiter then admits everything, which is the correct
// reading of a rate faster than the clock can resolve.
func New(rate, burst float64, opts ...Option) (*Limiter, error) {
	if rate <= 0 {
		return nil, ErrInvalidRate
	}

	if burst < 0 {
		return nil, ErrInvalidBurst
	}

	increment := int64(float64(time.Second) / rate)

	l := &Limiter{
		rate:      rate,
		burst:     burst,
		increment: increment,
		tolerance: int64(burst * float64(increment)),
		clock:     clock.System{},
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.store == nil {
		l.store = NewShardedStore()
	}

	return l, nil
}

// Rate returns the requests-per-second value the limiter was built with.
func (l *Limiter) Rate() float64 {
	return l.rate
}

// Burst returns the burst value the limiter was built with.
func (l *Limiter) Burst() float64 {
	return l.burst
}

// Allow reports whether a request for key may proceed right now.
//
// A key with no recorded state is treated as perfectly on schedule, so
// the first request for any key is always admitted. An admitted request
// advances the key's arrival time by one increment; a denied request
// leaves the key untouched. The error return is reserved for a Store
// that detects a failed lock.
func (l *Limiter) Allow(key string) (bool, error) {
	now := l.clock.Now()

	var conforming bool
	err := l.store.Update(key, func(tat int64, ok bool) (int64, bool) {
		if !ok {
			tat = now
		}

		conforming = now >= saturatingSub(tat, l.tolerance)
		if !conforming {
			return 0, false
		}

		return max(now, tat) + l.increment, true
	})
	if err != nil {
		return false, err
	}

	return conforming, nil
}

// saturatingSub clamps a-b at the minimum int64 so a timestamp near the
// bottom of the range is never wrapped into the far future. b here is a
// tolerance and therefore non-negative.
func saturatingSub(a, b int64) int64 {
	if a < math.MinInt64+b {
		return math.MinInt64
	}

	return a - b
}
