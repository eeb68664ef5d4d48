package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serroba/gcra"
	"github.com/serroba/gcra/clock"
	"github.com/serroba/gcra/middleware"
)

const testRemoteAddr = "10.0.0.1:12345"

func TestIPKeyFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "uses X-Forwarded-For first",
			remoteAddr: "192.168.1.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.1"},
			want:       "10.0.0.1",
		},
		{
			name:       "uses first IP from X-Forwarded-For chain",
			remoteAddr: "192.168.1.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2, 10.0.0.3"},
			want:       "10.0.0.1",
		},
		{
			name:       "uses X-Real-IP when no X-Forwarded-For",
			remoteAddr: "192.168.1.1:12345",
			headers:    map[string]string{"X-Real-IP": "10.0.0.5"},
			want:       "10.0.0.5",
		},
		{
			name:       "prefers X-Forwarded-For over X-Real-IP",
			remoteAddr: "192.168.1.1:12345",
			headers: map[string]string{
				"X-Forwarded-For": "10.0.0.1",
				"X-Real-IP":       "10.0.0.5",
			},
			want: "10.0.0.1",
		},
		{
			name:       "falls back to RemoteAddr",
			remoteAddr: "192.168.1.1:12345",
			headers:    nil,
			want:       "192.168.1.1",
		},
		{
			name:       "handles RemoteAddr without port",
			remoteAddr: "192.168.1.1",
			headers:    nil,
			want:       "192.168.1.1",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr

			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			got := middleware.IPKeyFunc(req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeaderKeyFunc(t *testing.T) {
	t.Parallel()

	keyFunc := middleware.HeaderKeyFunc("X-Api-Key")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Api-Key", "secret-key")

	assert.Equal(t, "secret-key", keyFunc(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", keyFunc(req))
}

func newHandler(t *testing.T, lim *gcra.Limiter, opts ...middleware.Option) http.Handler {
	t.Helper()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return middleware.RateLimit(lim, opts...)(next)
}

func doRequest(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = testRemoteAddr

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(0)
	lim, err := gcra.New(1, 2, gcra.WithClock(c))
	require.NoError(t, err)

	handler := newHandler(t, lim)

	for n := 0; n < 3; n++ {
		rec := doRequest(handler)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doRequest(handler)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// A second later one slot is back.
	c.Advance(time.Second)
	rec = doRequest(handler)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(0)
	lim, err := gcra.New(1, 0, gcra.WithClock(c))
	require.NoError(t, err)

	handler := newHandler(t, lim)

	get := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec.Code
	}

	require.Equal(t, http.StatusOK, get("10.0.0.1:1000"))
	require.Equal(t, http.StatusTooManyRequests, get("10.0.0.1:1001"))
	require.Equal(t, http.StatusOK, get("10.0.0.2:1000"))
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(0)
	lim, err := gcra.New(1, 0, gcra.WithClock(c))
	require.NoError(t, err)

	handler := newHandler(t, lim, middleware.WithKeyFunc(middleware.HeaderKeyFunc("X-Api-Key")))

	get := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = testRemoteAddr
		req.Header.Set("X-Api-Key", key)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		return rec.Code
	}

	require.Equal(t, http.StatusOK, get("alpha"))
	require.Equal(t, http.StatusTooManyRequests, get("alpha"))
	require.Equal(t, http.StatusOK, get("beta"))
}

func TestRateLimit_LimitHeaders(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(0)
	lim, err := gcra.New(5, 10, gcra.WithClock(c))
	require.NoError(t, err)

	handler := newHandler(t, lim, middleware.WithLimitHeaders())

	rec := doRequest(handler)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Rate"))
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Burst"))
}

func TestRateLimit_Observer(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(0)
	lim, err := gcra.New(1, 0, gcra.WithClock(c))
	require.NoError(t, err)

	var allowed, denied int
	handler := newHandler(t, lim, middleware.WithObserver(func(ok bool) {
		if ok {
			allowed++
		} else {
			denied++
		}
	}))

	doRequest(handler)
	doRequest(handler)
	doRequest(handler)

	assert.Equal(t, 1, allowed)
	assert.Equal(t, 2, denied)
}

type failingStore struct{}

func (failingStore) Get(string) (int64, bool)             { return 0, false }
func (failingStore) Upsert(string, int64)                 {}
func (failingStore) Update(string, gcra.UpdateFunc) error { return gcra.ErrLockFailure }

func TestRateLimit_StoreErrorIsNotThrottling(t *testing.T) {
	t.Parallel()

	lim, err := gcra.New(1, 0, gcra.WithStore(failingStore{}))
	require.NoError(t, err)

	rec := doRequest(newHandler(t, lim))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}
