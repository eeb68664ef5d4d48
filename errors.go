package gcra

import "errors"

// Errors returned by this package.
var (
	// ErrInvalidRate is returned by New when rate is zero or negative.
	ErrInvalidRate = errors.New("rate must be positive")

	// ErrInvalidBurst is returned by New when burst is negative.
	ErrInvalidBurst = errors.New("burst must be non-negative")

	// ErrLockFailure is returned by a Store whose locking primitive was
	// found in an unusable state. The built-in sharded store never
	// returns it.
	ErrLockFailure = errors.New("state store lock failure")
)
