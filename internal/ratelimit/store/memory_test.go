package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsKeyNotFound(err))

	require.NoError(t, s.Set(ctx, "k", 42, 0))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestMemoryStore_Expiration(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "short", 1, 20*time.Millisecond))

	got, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	time.Sleep(30 * time.Millisecond)

	_, err = s.Get(ctx, "short")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_Increment(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	got, err := s.Increment(ctx, "c", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = s.Increment(ctx, "c", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)

	got, err = s.Increment(ctx, "c", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}

func TestMemoryStore_IncrementWithExpiry(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	got, err := s.IncrementWithExpiry(ctx, "w", 1, 40*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	// A later increment must not extend the original deadline.
	time.Sleep(20 * time.Millisecond)
	got, err = s.IncrementWithExpiry(ctx, "w", 1, 40*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	time.Sleep(30 * time.Millisecond)

	// Past the original deadline the counter restarts from delta.
	got, err = s.IncrementWithExpiry(ctx, "w", 1, 40*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	const goroutines = 20
	const perGoroutine = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				_, err := s.IncrementWithExpiry(ctx, "contended", 1, time.Minute)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "contended")
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine), got)
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", 1, 0))
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.True(t, IsKeyNotFound(err))

	// Deleting an absent key is not an error.
	require.NoError(t, s.Delete(ctx, "k"))
}

func TestMemoryStore_Sweep(t *testing.T) {
	t.Parallel()

	s := NewMemoryStoreWithSweepInterval(20 * time.Millisecond)
	defer s.Close()

	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "gone", 1, 10*time.Millisecond))
	require.NoError(t, s.Set(ctx, "kept", 2, 0))

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, s.Size())
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestMemoryStore_ContextCanceled(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Increment(ctx, "k", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
