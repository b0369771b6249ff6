package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrStoreUnavailable is returned by a GuardedStore while its breaker is
// open. Callers treat it as a degraded-backend signal, not a per-key
// miss.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// GuardedStore wraps a Store with a circuit breaker so a dead backend is
// not hammered on every request. While the breaker is open all calls
// fail fast with ErrStoreUnavailable; the rate limiter layer translates
// that into fail-open admission.
type GuardedStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewGuardedStore wraps inner with a circuit breaker. The breaker trips
// after five consecutive backend errors and probes again after 10s.
func NewGuardedStore(inner Store, logger *zap.Logger) *GuardedStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &GuardedStore{inner: inner, logger: logger}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "counter-store",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A missing key is a normal outcome, not a backend fault.
			return err == nil || IsKeyNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("counter store breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return g
}

func (g *GuardedStore) execute(op func() (int64, error)) (int64, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return op()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return 0, ErrStoreUnavailable
		}
		return 0, err
	}
	return result.(int64), nil
}

// Get implements Store.
func (g *GuardedStore) Get(ctx context.Context, key string) (int64, error) {
	return g.execute(func() (int64, error) {
		return g.inner.Get(ctx, key)
	})
}

// Set implements Store.
func (g *GuardedStore) Set(ctx context.Context, key string, value int64, expiration time.Duration) error {
	_, err := g.execute(func() (int64, error) {
		return 0, g.inner.Set(ctx, key, value, expiration)
	})
	return err
}

// Increment implements Store.
func (g *GuardedStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return g.execute(func() (int64, error) {
		return g.inner.Increment(ctx, key, delta)
	})
}

// IncrementWithExpiry implements Store.
func (g *GuardedStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	return g.execute(func() (int64, error) {
		return g.inner.IncrementWithExpiry(ctx, key, delta, expiration)
	})
}

// Delete implements Store.
func (g *GuardedStore) Delete(ctx context.Context, key string) error {
	_, err := g.execute(func() (int64, error) {
		return 0, g.inner.Delete(ctx, key)
	})
	return err
}

// Close implements Store.
func (g *GuardedStore) Close() error {
	return g.inner.Close()
}

// Unwrap returns the wrapped store.
func (g *GuardedStore) Unwrap() Store {
	return g.inner
}

// TokenBucket implements BucketStore when the wrapped store does.
func (g *GuardedStore) TokenBucket(
	ctx context.Context,
	key string,
	rate float64,
	capacity int,
	n int,
	ttl time.Duration,
) (*BucketResult, error) {
	return g.executeBucket(func(bs BucketStore) (*BucketResult, error) {
		return bs.TokenBucket(ctx, key, rate, capacity, n, ttl)
	})
}

// LeakyBucket implements BucketStore when the wrapped store does.
func (g *GuardedStore) LeakyBucket(
	ctx context.Context,
	key string,
	rate float64,
	capacity int,
	n int,
	ttl time.Duration,
) (*BucketResult, error) {
	return g.executeBucket(func(bs BucketStore) (*BucketResult, error) {
		return bs.LeakyBucket(ctx, key, rate, capacity, n, ttl)
	})
}

func (g *GuardedStore) executeBucket(op func(BucketStore) (*BucketResult, error)) (*BucketResult, error) {
	bs, ok := g.inner.(BucketStore)
	if !ok {
		return nil, ErrStoreUnavailable
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return op(bs)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrStoreUnavailable
		}
		return nil, err
	}
	return result.(*BucketResult), nil
}
