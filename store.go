package gcra

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/serroba/gcra/clock"
)

// UpdateFunc inspects the stored arrival time for one key and decides its
// replacement. ok reports whether the key had prior state. The returned
// value is written only when write is true.
type UpdateFunc func(tat int64, ok bool) (next int64, write bool)

// Store holds the per-key theoretical arrival times behind a Limiter.
// Implementations must make Update atomic for a given key while keeping
// distinct keys free of each other's contention.
type Store interface {
	// Get returns the stored arrival time for key.
	Get(key string) (tat int64, ok bool)

	// Upsert stores tat for key, creating the entry if absent.
	Upsert(key string, tat int64)

	// Update applies fn to key's current state as a single atomic
	// read-modify-write. Implementations backed by a lock that can fail
	// return ErrLockFailure instead of corrupting state.
	Update(key string, fn UpdateFunc) error
}

const defaultShards = 64

type shard struct {
	mu   sync.Mutex
	tats map[string]int64
}

// ShardedStore is an in-memory Store split across a power-of-two number
// of shards. A key hashes to exactly one shard, so concurrent callers on
// the same key serialize on that shard's mutex while other keys proceed
// on their own shards.
//
// Entries are created on the first admitted request for a key and are
// only removed by the optional TTL sweeper, never by Update itself.
type ShardedStore struct {
	shards []*shard
	mask   uint64
	want   int // requested shard count, fixed at construction

	ttl           time.Duration
	sweepInterval time.Duration
	clock         clock.Clock
	logger        *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StoreOption configures a ShardedStore.
type StoreOption func(*ShardedStore)

// WithShards sets the shard count. Values are rounded up to the next
// power of two.
func WithShards(n int) StoreOption {
	return func(s *ShardedStore) {
		if n > 0 {
			s.want = n
		}
	}
}

// WithTTL enables the background sweeper: keys whose arrival time is more
// than ttl in the past are removed. Without a TTL the store grows with
// the number of distinct keys.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *ShardedStore) {
		s.ttl = ttl
	}
}

// WithSweepInterval sets how often the sweeper scans for stale keys.
func WithSweepInterval(interval time.Duration) StoreOption {
	return func(s *ShardedStore) {
		if interval > 0 {
			s.sweepInterval = interval
		}
	}
}

// WithStoreClock sets the clock the sweeper compares arrival times
// against. It must be the same clock the owning Limiter uses.
func WithStoreClock(c clock.Clock) StoreOption {
	return func(s *ShardedStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithStoreLogger sets the logger used by the sweeper.
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *ShardedStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewShardedStore creates a sharded in-memory store. Call Start to run
// the TTL sweeper when one is configured.
func NewShardedStore(opts ...StoreOption) *ShardedStore {
	s := &ShardedStore{
		want:          defaultShards,
		sweepInterval: 5 * time.Minute,
		clock:         clock.System{},
		logger:        zap.NewNop(),
		stop:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	n := nextPowerOfTwo(s.want)
	s.shards = make([]*shard, n)
	s.mask = uint64(n - 1)

	for i := range s.shards {
		s.shards[i] = &shard{tats: make(map[string]int64)}
	}

	return s
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}

	return p
}

func (s *ShardedStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// Get returns the stored arrival time for key.
func (s *ShardedStore) Get(key string) (int64, bool) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	tat, ok := sh.tats[key]

	return tat, ok
}

// Upsert stores tat for key.
func (s *ShardedStore) Upsert(key string, tat int64) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.tats[key] = tat
}

// Update applies fn to key's state under the shard lock.
func (s *ShardedStore) Update(key string, fn UpdateFunc) error {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	tat, ok := sh.tats[key]
	if next, write := fn(tat, ok); write {
		sh.tats[key] = next
	}

	return nil
}

// Len returns the number of keys currently tracked.
func (s *ShardedStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.tats)
		sh.mu.Unlock()
	}

	return total
}

// Start runs the TTL sweeper until ctx is cancelled or Stop is called.
// It is a no-op unless a TTL was configured.
func (s *ShardedStore) Start(ctx context.Context) {
	if s.ttl <= 0 {
		return
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop terminates the sweeper and waits for it to exit. Safe to call
// multiple times.
func (s *ShardedStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}

// sweep drops keys whose arrival time fell more than ttl behind the
// clock. A key that old has long since regained its full burst credit,
// so removing it is indistinguishable from keeping it.
func (s *ShardedStore) sweep() {
	cutoff := s.clock.Now() - s.ttl.Nanoseconds()

	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, tat := range sh.tats {
			if tat < cutoff {
				delete(sh.tats, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		s.logger.Debug("swept stale rate limit keys",
			zap.Int("removed", removed),
			zap.Int("remaining", s.Len()))
	}
}

var _ Store = (*ShardedStore)(nil)
