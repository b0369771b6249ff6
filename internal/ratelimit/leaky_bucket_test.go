package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wirebridge/partnergw/internal/ratelimit/store"
)

func TestLeakyBucketLimiter_FillsThenRejects(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	defer s.Close()

	// Leak rate of 3 per hour: the bucket stays full for the test.
	l := NewLeakyBucketLimiter(s, "rule-1", 3, time.Hour, nil)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "caller")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i+1)
	}

	d, err := l.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestLeakyBucketLimiter_Leaks(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	defer s.Close()

	// 10 per second: a full bucket drains a slot within ~100ms.
	l := NewLeakyBucketLimiter(s, "rule-1", 10, time.Second, nil)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := l.Allow(ctx, "caller")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	time.Sleep(150 * time.Millisecond)

	d, err = l.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLeakyBucketLimiter_SharedStateViaRedis(t *testing.T) {
	t.Parallel()

	rs := newBucketTestRedisStore(t)

	l := NewLeakyBucketLimiter(rs, "rule-1", 2, time.Hour, nil)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "caller")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	l2 := NewLeakyBucketLimiter(rs, "rule-1", 2, time.Hour, nil)
	defer l2.Close()

	d, err := l2.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
