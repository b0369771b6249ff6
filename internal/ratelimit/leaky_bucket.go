package ratelimit

import (
	"context"
	"io"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/ratelimit/store"
)

var _ io.Closer = (*LeakyBucketLimiter)(nil)

// LeakyBucketLimiter models queued work draining at a constant rate of
// limit/window requests per second. A request is admitted while the
// bucket level plus one stays within the limit; rejected callers wait
// for the overflow to leak away.
type LeakyBucketLimiter struct {
	bucketStore store.BucketStore
	local       *bucketMap
	ruleID      string
	leakRate    float64
	capacity    int
	window      time.Duration
	logger      *zap.Logger
}

// NewLeakyBucketLimiter creates a leaky bucket limiter for ruleID with
// capacity limit.
func NewLeakyBucketLimiter(s store.Store, ruleID string, limit int, window time.Duration, logger *zap.Logger) *LeakyBucketLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &LeakyBucketLimiter{
		ruleID:   ruleID,
		leakRate: float64(limit) / window.Seconds(),
		capacity: limit,
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
func (l *LeakyBucketLimiter) Allow(ctx context.Context, identifier string) (*Decision, error) {
	if l.bucketStore != nil {
		return l.allowShared(ctx, identifier)
	}
	return l.allowLocal(identifier), nil
}

func (l *LeakyBucketLimiter) allowShared(ctx context.Context, identifier string) (*Decision, error) {
	key := counterKey("lb", l.ruleID, identifier)

	res, err := l.bucketStore.LeakyBucket(ctx, key, l.leakRate, l.capacity, 1, l.window)
	if err != nil {
		return nil, err
	}

	return l.decision(res.Allowed, res.Value, res.RetryAfter), nil
}

func (l *LeakyBucketLimiter) allowLocal(identifier string) *Decision {
	now := time.Now()
	b := l.local.get(counterKey("lb", l.ruleID, identifier), 0)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.updated).Seconds()
	level := math.Max(0, b.value-elapsed*l.leakRate)
	b.updated = now

	if level+1 > float64(l.capacity) {
		b.value = level
		retryAfter := secondsToDuration((level + 1 - float64(l.capacity)) / l.leakRate)
		return l.decision(false, level, retryAfter)
	}

	b.value = level + 1
	return l.decision(true, b.value, 0)
}

// decision maps the bucket level onto the common result shape. ResetAt
// is the instant the bucket fully drains.
func (l *LeakyBucketLimiter) decision(allowed bool, level float64, retryAfter time.Duration) *Decision {
	remaining := l.capacity - int(math.Ceil(level))
	if remaining < 0 {
		remaining = 0
	}

	drain := secondsToDuration(level / l.leakRate)

	return &Decision{
		Allowed:    allowed,
		Limit:      l.capacity,
		Remaining:  remaining,
		ResetAt:    time.Now().Add(drain),
		RetryAfter: retryAfter,
	}
}

// Reset implements Limiter.
func (l *LeakyBucketLimiter) Reset(ctx context.Context, identifier string) error {
	key := counterKey("lb", l.ruleID, identifier)
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
func (l *LeakyBucketLimiter) Close() error {
	if l.local != nil {
		return l.local.Close()
	}
	return nil
}
