package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/ratelimit/store"
)

// FixedWindowLimiter counts requests inside aligned time windows. The
// counter key embeds the window start, so a new window always begins at
// zero and old windows expire through the store's TTL.
type FixedWindowLimiter struct {
	core windowCore
}

// NewFixedWindowLimiter creates a fixed window limiter for ruleID
// admitting limit requests per window.
func NewFixedWindowLimiter(s store.Store, ruleID string, limit int, window time.Duration, logger *zap.Logger) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		core: newWindowCore(s, "fw", ruleID, limit, window, logger),
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, identifier string) (*Decision, error) {
	return l.core.allow(ctx, identifier)
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(ctx context.Context, identifier string) error {
	return l.core.reset(ctx, identifier)
}

// windowCore is the window-aligned counting shared by the fixed and
// sliding window limiters.
type windowCore struct {
	store  store.Store
	prefix string
	ruleID string
	limit  int
	window time.Duration
	logger *zap.Logger
}

func newWindowCore(s store.Store, prefix, ruleID string, limit int, window time.Duration, logger *zap.Logger) windowCore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return windowCore{
		store:  s,
		prefix: prefix,
		ruleID: ruleID,
		limit:  limit,
		window: window,
		logger: logger,
	}
}

func (c *windowCore) allow(ctx context.Context, identifier string) (*Decision, error) {
	now := time.Now()
	windowStart := now.Truncate(c.window)
	windowEnd := windowStart.Add(c.window)
	key := windowKey(c.prefix, c.ruleID, identifier, windowStart.Unix())

	count, err := c.store.IncrementWithExpiry(ctx, key, 1, c.window)
	if err != nil {
		return nil, err
	}

	if count > int64(c.limit) {
		// Give the slot back so the stored count tracks admissions.
		if _, derr := c.store.Increment(ctx, key, -1); derr != nil {
			c.logger.Debug("counter rollback failed",
				zap.String("key", key),
				zap.Error(derr),
			)
		}

		return &Decision{
			Allowed:    false,
			Limit:      c.limit,
			Remaining:  0,
			ResetAt:    windowEnd,
			RetryAfter: windowEnd.Sub(now),
		}, nil
	}

	return &Decision{
		Allowed:   true,
		Limit:     c.limit,
		Remaining: c.limit - int(count),
		ResetAt:   windowEnd,
	}, nil
}

func (c *windowCore) reset(ctx context.Context, identifier string) error {
	windowStart := time.Now().Truncate(c.window)
	return c.store.Delete(ctx, windowKey(c.prefix, c.ruleID, identifier, windowStart.Unix()))
}
