package ratelimit

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/wirebridge/partnergw/internal/config"
	"github.com/wirebridge/partnergw/internal/observability"
	"github.com/wirebridge/partnergw/internal/ratelimit/store"
)

// New creates a limiter implementing the rule's algorithm on top of s.
func New(rule config.RateLimitRule, s store.Store, logger *zap.Logger) (Limiter, error) {
	window := rule.Window.Duration()

	switch rule.Algorithm {
	case config.AlgorithmFixedWindow:
		return NewFixedWindowLimiter(s, rule.ID, rule.Limit, window, logger), nil
	case config.AlgorithmSlidingWindow:
		return NewSlidingWindowLimiter(s, rule.ID, rule.Limit, window, logger), nil
	case config.AlgorithmTokenBucket:
		return NewTokenBucketLimiter(s, rule.ID, rule.Limit, window, rule.Burst, logger), nil
	case config.AlgorithmLeakyBucket:
		return NewLeakyBucketLimiter(s, rule.ID, rule.Limit, window, logger), nil
	default:
		return nil, fmt.Errorf("unknown rate limit algorithm %q", rule.Algorithm)
	}
}

// Registry caches one limiter per rule and applies the degradation
// policy: when the counter store is unreachable the check fails open, so
// a store outage widens the admitted traffic instead of rejecting all
// of it. Every fail-open is logged and counted.
type Registry struct {
	store  store.Store
	logger *zap.Logger

	mu       sync.RWMutex
	limiters map[string]Limiter
}

// NewRegistry creates a limiter registry backed by s.
func NewRegistry(s store.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:    s,
		logger:   logger,
		limiters: make(map[string]Limiter),
	}
}

// ForRule returns the cached limiter for the rule, creating it on first
// use.
func (r *Registry) ForRule(rule config.RateLimitRule) (Limiter, error) {
	r.mu.RLock()
	l, ok := r.limiters[rule.ID]
	r.mu.RUnlock()
	if ok {
		return l, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[rule.ID]; ok {
		return l, nil
	}

	l, err := New(rule, r.store, r.logger)
	if err != nil {
		return nil, err
	}
	r.limiters[rule.ID] = l
	return l, nil
}

// Check evaluates the rule for identifier and never returns an error: a
// broken rule or unreachable store degrades to admission.
func (r *Registry) Check(ctx context.Context, rule config.RateLimitRule, identifier string) *Decision {
	l, err := r.ForRule(rule)
	if err != nil {
		r.logger.Error("rate limiter construction failed, admitting request",
			zap.String("rule", rule.ID),
			zap.Error(err),
		)
		observability.RecordRateLimitDecision(rule.ID, "fail_open")
		return allowAll(rule.Limit)
	}

	decision, err := l.Allow(ctx, identifier)
	if err != nil {
		r.logger.Warn("counter store unavailable, admitting request",
			zap.String("rule", rule.ID),
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		observability.RecordRateLimitStoreError()
		observability.RecordRateLimitDecision(rule.ID, "fail_open")
		return allowAll(rule.Limit)
	}

	if decision.Allowed {
		observability.RecordRateLimitDecision(rule.ID, "allowed")
	} else {
		observability.RecordRateLimitDecision(rule.ID, "rejected")
	}
	return decision
}

// Invalidate drops all cached limiters, closing the ones that hold
// resources. Called when configuration is reloaded.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, l := range r.limiters {
		if c, ok := l.(io.Closer); ok {
			_ = c.Close()
		}
		delete(r.limiters, id)
	}
}

// Close releases all limiters. The backing store is owned by the caller
// and is not closed here.
func (r *Registry) Close() error {
	r.Invalidate()
	return nil
}
