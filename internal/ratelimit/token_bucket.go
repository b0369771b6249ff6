package ratelimit

import (
	"context"
	"io"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/ratelimit/store"
)

var _ io.Closer = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter admits requests while tokens remain in a bucket
// that refills continuously at limit/window tokens per second. When the
// store supports server-side bucket evaluation (Redis) the state is
// shared across instances; otherwise each instance keeps local state.
type TokenBucketLimiter struct {
	bucketStore store.BucketStore
	local       *bucketMap
	ruleID      string
	rate        float64
	capacity    int
	window      time.Duration
	logger      *zap.Logger
}

// NewTokenBucketLimiter creates a token bucket limiter for ruleID. The
// bucket capacity is limit, or burst when burst exceeds it.
func NewTokenBucketLimiter(s store.Store, ruleID string, limit int, window time.Duration, burst int, logger *zap.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	capacity := limit
	if burst > capacity {
		capacity = burst
	}

	l := &TokenBucketLimiter{
		ruleID:   ruleID,
		rate:     float64(limit) / window.Seconds(),
		capacity: capacity,
		window:   window,
		logger:   logger,
	}

	if bs, ok := s.(store.BucketStore); ok {
		l.bucketStore = bs
	} else {
		l.local = newBucketMap()
	}

	return l
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, identifier string) (*Decision, error) {
	if l.bucketStore != nil {
		return l.allowShared(ctx, identifier)
	}
	return l.allowLocal(identifier), nil
}

func (l *TokenBucketLimiter) allowShared(ctx context.Context, identifier string) (*Decision, error) {
	key := counterKey("tb", l.ruleID, identifier)

	res, err := l.bucketStore.TokenBucket(ctx, key, l.rate, l.capacity, 1, l.window)
	if err != nil {
		return nil, err
	}

	return l.decision(res.Allowed, res.Value, res.RetryAfter), nil
}

func (l *TokenBucketLimiter) allowLocal(identifier string) *Decision {
	now := time.Now()
	b := l.local.get(counterKey("tb", l.ruleID, identifier), float64(l.capacity))

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.updated).Seconds()
	tokens := math.Min(float64(l.capacity), b.value+elapsed*l.rate)
	b.updated = now

	if tokens < 1 {
		b.value = tokens
		retryAfter := secondsToDuration((1 - tokens) / l.rate)
		return l.decision(false, tokens, retryAfter)
	}

	b.value = tokens - 1
	return l.decision(true, b.value, 0)
}

// decision maps remaining tokens onto the common result shape. ResetAt
// is the instant the bucket is full again.
func (l *TokenBucketLimiter) decision(allowed bool, tokens float64, retryAfter time.Duration) *Decision {
	remaining := int(tokens)
	if remaining < 0 {
		remaining = 0
	}

	refill := secondsToDuration((float64(l.capacity) - tokens) / l.rate)

	return &Decision{
		Allowed:    allowed,
		Limit:      l.capacity,
		Remaining:  remaining,
		ResetAt:    time.Now().Add(refill),
		RetryAfter: retryAfter,
	}
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(ctx context.Context, identifier string) error {
	key := counterKey("tb", l.ruleID, identifier)
	if l.bucketStore != nil {
		if s, ok := l.bucketStore.(store.Store); ok {
			return s.Delete(ctx, key)
		}
		return nil
	}
	l.local.delete(key)
	return nil
}

// Close stops the local bucket sweeper, if any.
func (l *TokenBucketLimiter) Close() error {
	if l.local != nil {
		return l.local.Close()
	}
	return nil
}

// secondsToDuration converts fractional seconds to a Duration, clamping
// negatives to zero.
func secondsToDuration(s float64) time.Duration {
	if s < 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
