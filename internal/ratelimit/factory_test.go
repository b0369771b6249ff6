package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/ratelimit/store"
)

// newBucketTestRedisStore spins up miniredis and a store connected to it.
func newBucketTestRedisStore(t *testing.T) *store.RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := store.DefaultRedisConfig()
	cfg.Address = mr.Addr()
	cfg.ConnectRetries = 0

	rs, err := store.NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })

	return rs
}

func testRule(algorithm string) config.RateLimitRule {
	return config.RateLimitRule{
		ID:        "rule-1",
		PartnerID: "partner-1",
		Algorithm: algorithm,
		Limit:     5,
		Window:    config.Duration(time.Minute),
	}
}

func TestNew_AllAlgorithms(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	defer s.Close()

	tests := []struct {
		algorithm string
		want      interface{}
	}{
		{config.AlgorithmFixedWindow, (*FixedWindowLimiter)(nil)},
		{config.AlgorithmSlidingWindow, (*SlidingWindowLimiter)(nil)},
		{config.AlgorithmTokenBucket, (*TokenBucketLimiter)(nil)},
		{config.AlgorithmLeakyBucket, (*LeakyBucketLimiter)(nil)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.algorithm, func(t *testing.T) {
			t.Parallel()

			l, err := New(testRule(tt.algorithm), s, nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, l)
		})
	}
}

func TestNew_UnknownAlgorithm(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	defer s.Close()

	_, err := New(testRule("quantum"), s, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rate limit algorithm")
}

func TestRegistry_CachesLimiterPerRule(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	defer s.Close()

	r := NewRegistry(s, nil)
	defer r.Close()

	l1, err := r.ForRule(testRule(config.AlgorithmFixedWindow))
	require.NoError(t, err)
	l2, err := r.ForRule(testRule(config.AlgorithmFixedWindow))
	require.NoError(t, err)
	assert.Same(t, l1, l2)
}

func TestRegistry_CheckEnforcesRule(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	defer s.Close()

	r := NewRegistry(s, nil)
	defer r.Close()

	rule := testRule(config.AlgorithmFixedWindow)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := r.Check(ctx, rule, "caller")
		assert.True(t, d.Allowed)
	}

	d := r.Check(ctx, rule, "caller")
	assert.False(t, d.Allowed)
}

// brokenStore fails every operation to simulate an unreachable backend.
type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (brokenStore) Get(context.Context, string) (int64, error) { return 0, errStoreDown }
func (brokenStore) Set(context.Context, string, int64, time.Duration) error {
	return errStoreDown
}
func (brokenStore) Increment(context.Context, string, int64) (int64, error) {
	return 0, errStoreDown
}
func (brokenStore) IncrementWithExpiry(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errStoreDown
}
func (brokenStore) Delete(context.Context, string) error { return errStoreDown }
func (brokenStore) Close() error                         { return nil }

func TestRegistry_CheckFailsOpenOnStoreError(t *testing.T) {
	t.Parallel()

	r := NewRegistry(brokenStore{}, nil)
	defer r.Close()

	d := r.Check(context.Background(), testRule(config.AlgorithmFixedWindow), "caller")
	assert.True(t, d.Allowed)
}

func TestRegistry_Invalidate(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	defer s.Close()

	r := NewRegistry(s, nil)
	defer r.Close()

	l1, err := r.ForRule(testRule(config.AlgorithmTokenBucket))
	require.NoError(t, err)

	r.Invalidate()

	l2, err := r.ForRule(testRule(config.AlgorithmTokenBucket))
	require.NoError(t, err)
	assert.NotSame(t, l1, l2)
}
