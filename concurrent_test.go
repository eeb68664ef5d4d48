package gcra_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serroba/gcra"
	"github.com/serroba/gcra/clock"
)

func TestLimiter_ConcurrentSameKey(t *testing.T) {
	t.Parallel()

	const (
		burst      = 9
		goroutines = 100
		runs       = 20
	)

	// With a frozen clock the capacity is exactly burst+1, so each run
	// must admit precisely that many calls no matter how the goroutines
	// interleave.
	for run := 0; run < runs; run++ {
		c := clock.NewManual(int64(run) * int64(time.Second))
		lim, err := gcra.New(1, burst, gcra.WithClock(c))
		require.NoError(t, err)

		var (
			allowed atomic.Int64
			start   = make(chan struct{})
			wg      sync.WaitGroup
		)

		for n := 0; n < goroutines; n++ {
			wg.Add(1)

			go func() {
				defer wg.Done()
				<-start

				ok, err := lim.Allow("shared")
				assert.NoError(t, err)
				if ok {
					allowed.Add(1)
				}
			}()
		}

		close(start)
		wg.Wait()

		require.Equal(t, int64(burst+1), allowed.Load(), "run %d", run)
	}
}

func TestLimiter_ConcurrentDistinctKeys(t *testing.T) {
	t.Parallel()

	c := clock.NewManual(0)
	lim, err := gcra.New(1, 0, gcra.WithClock(c))
	require.NoError(t, err)

	const keys = 64

	var (
		allowed atomic.Int64
		wg      sync.WaitGroup
	)

	// One call per key: every key's first request must be admitted
	// regardless of what happens on the others.
	for i := 0; i < keys; i++ {
		wg.Add(1)

		go func(key string) {
			defer wg.Done()

			ok, err := lim.Allow(key)
			assert.NoError(t, err)
			if ok {
				allowed.Add(1)
			}
		}(fmt.Sprintf("client-%d", i))
	}

	wg.Wait()
	require.Equal(t, int64(keys), allowed.Load())
}

func TestShardedStore_ConcurrentUpdates(t *testing.T) {
	t.Parallel()

	store := gcra.NewShardedStore(gcra.WithShards(16))

	const (
		goroutines = 50
		increments = 200
	)

	var wg sync.WaitGroup
	for n := 0; n < goroutines; n++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for n := 0; n < increments; n++ {
				err := store.Update("counter", func(tat int64, _ bool) (int64, bool) {
					return tat + 1, true
				})
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()

	// Lost updates would show up as a short count.
	tat, ok := store.Get("counter")
	require.True(t, ok)
	require.Equal(t, int64(goroutines*increments), tat)
}
