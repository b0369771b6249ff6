// Package ratelimit decides whether a request identified by a caller
// key is admitted under a configured rule. Four interchangeable
// algorithms are provided: fixed window, sliding window, token bucket
// and leaky bucket. Counter state lives in a store.Store so limits hold
// across gateway instances when Redis backs the store.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	// Allowed indicates whether the request is admitted.
	Allowed bool

	// Limit is the maximum number of requests the rule admits per window.
	Limit int

	// Remaining is the number of admissions left in the current window.
	Remaining int

	// ResetAt is when the current window or bucket fully replenishes.
	ResetAt time.Time

	// RetryAfter is how long a rejected caller should wait. Zero when
	// Allowed is true.
	RetryAfter time.Duration
}

// Limiter evaluates one rule against caller identifiers.
type Limiter interface {
	// Allow checks whether one request from identifier is admitted.
	Allow(ctx context.Context, identifier string) (*Decision, error)

	// Reset clears the counter state for identifier.
	Reset(ctx context.Context, identifier string) error
}

// allowAll is the decision handed out when the limiter fails open.
func allowAll(limit int) *Decision {
	return &Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit,
	}
}
