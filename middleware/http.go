// Package middleware integrates a gcra.Limiter with net/http handlers.
package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/serroba/gcra"
)

// KeyFunc extracts a rate limit key from an HTTP request.
// Common implementations include extracting client IP, API key, or user ID.
type KeyFunc func(r *http.Request) string

// IPKeyFunc extracts the client IP address from the request.
// It checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
func IPKeyFunc(r *http.Request) string {
	// Check X-Forwarded-For first (may contain multiple IPs)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client)
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}

		return xff
	}

	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// HeaderKeyFunc returns a KeyFunc that extracts the rate limit key from a header.
// Useful for API key or token-based rate limiting.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) string {
		return r.Header.Get(header)
	}
}

type config struct {
	keyFunc  KeyFunc
	observer func(allowed bool)
	headers  bool
}

// Option configures the rate limiting middleware.
type Option func(*config)

// WithKeyFunc sets how the rate limit key is derived from a request.
// The default is IPKeyFunc.
func WithKeyFunc(fn KeyFunc) Option {
	return func(c *config) {
		if fn != nil {
			c.keyFunc = fn
		}
	}
}

// WithObserver registers a callback invoked with every admission
// decision, e.g. to feed a metrics counter.
func WithObserver(fn func(allowed bool)) Option {
	return func(c *config) {
		c.observer = fn
	}
}

// WithLimitHeaders adds X-RateLimit-Rate and X-RateLimit-Burst headers
// to every response passing through the middleware.
func WithLimitHeaders() Option {
	return func(c *config) {
		c.headers = true
	}
}

// RateLimit returns HTTP middleware that admits or rejects each request
// through lim, keyed by the configured KeyFunc. Rejected requests get a
// 429 with a Retry-After hint; a limiter error yields a 500, kept
// distinct from throttling.
func RateLimit(lim *gcra.Limiter, opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{keyFunc: IPKeyFunc}
	for _, opt := range opts {
		opt(cfg)
	}

	retryAfter := retryAfterSeconds(lim.Rate())
	rate := strconv.FormatFloat(lim.Rate(), 'f', -1, 64)
	burst := strconv.FormatFloat(lim.Burst(), 'f', -1, 64)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := lim.Allow(cfg.keyFunc(r))
			if err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

				return
			}

			if cfg.observer != nil {
				cfg.observer(allowed)
			}

			if cfg.headers {
				w.Header().Set("X-RateLimit-Rate", rate)
				w.Header().Set("X-RateLimit-Burst", burst)
			}

			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds the emission interval up to whole seconds,
// the granularity the Retry-After header carries.
func retryAfterSeconds(rate float64) string {
	secs := int(math.Ceil(1 / rate))
	if secs < 1 {
		secs = 1
	}

	return strconv.Itoa(secs)
}
