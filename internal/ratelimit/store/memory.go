package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxCASRetries bounds compare-and-swap spinning under heavy contention
// on a single counter.
const maxCASRetries = 100

// defaultSweepInterval is how often expired counters are reaped.
const defaultSweepInterval = time.Minute

// counter is an immutable stored value; updates swap the whole entry so
// concurrent readers never see a partial write.
type counter struct {
	value     int64
	expiresAt time.Time
}

func (c *counter) expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && now.After(c.expiresAt)
}

// MemoryStore implements Store with process-local memory. Suitable for
// a single-instance deployment; multi-instance deployments need the
// Redis backend or each instance enforces its own independent limits.
type MemoryStore struct {
	counters sync.Map
	sweeper  *time.Ticker
	done     chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewMemoryStore creates an in-memory store with the default sweep
// interval.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSweepInterval(defaultSweepInterval)
}

// NewMemoryStoreWithSweepInterval creates an in-memory store that reaps
// expired counters every interval.
func NewMemoryStoreWithSweepInterval(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		sweeper: time.NewTicker(interval),
		done:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	v, ok := s.counters.Load(key)
	if !ok {
		return 0, &ErrKeyNotFound{Key: key}
	}

	c := v.(*counter)
	if c.expired(time.Now()) {
		s.counters.Delete(key)
		return 0, &ErrKeyNotFound{Key: key}
	}

	return c.value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	s.counters.Store(key, &counter{value: value, expiresAt: exp})
	return nil
}

// Increment implements Store.
func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.incr(ctx, key, delta, 0, false)
}

// IncrementWithExpiry implements Store.
func (s *MemoryStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	return s.incr(ctx, key, delta, expiration, true)
}

// incr is the shared CAS loop. When withExpiry is set, a freshly created
// (or expired-and-reset) counter gets the given expiration; an existing
// live counter keeps its original deadline so a window does not slide.
func (s *MemoryStore) incr(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
	withExpiry bool,
) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var exp time.Time
	if withExpiry && expiration > 0 {
		exp = time.Now().Add(expiration)
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		v, ok := s.counters.Load(key)
		if !ok {
			fresh := &counter{value: delta, expiresAt: exp}
			if actual, loaded := s.counters.LoadOrStore(key, fresh); loaded {
				v = actual
			} else {
				return delta, nil
			}
		}

		cur := v.(*counter)

		if cur.expired(time.Now()) {
			// Expired counters restart from delta with a fresh deadline.
			fresh := &counter{value: delta, expiresAt: exp}
			if s.counters.CompareAndSwap(key, cur, fresh) {
				return delta, nil
			}
			continue
		}

		next := &counter{value: cur.value + delta, expiresAt: cur.expiresAt}
		if s.counters.CompareAndSwap(key, cur, next) {
			return next.value, nil
		}
	}

	return 0, fmt.Errorf("increment %q: max CAS retries (%d) exceeded", key, maxCASRetries)
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.counters.Delete(key)
	return nil
}

// Close implements Store. Close is idempotent.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.sweeper.Stop()
	close(s.done)
	return nil
}

// Size returns the number of live entries, counting not-yet-swept
// expired ones.
func (s *MemoryStore) Size() int {
	n := 0
	s.counters.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (s *MemoryStore) sweepLoop() {
	for {
		select {
		case <-s.sweeper.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()
	s.counters.Range(func(key, v interface{}) bool {
		if v.(*counter).expired(now) {
			s.counters.Delete(key)
		}
		return true
	})
}
