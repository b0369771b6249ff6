// Package retry provides the backoff strategies used to space webhook
// delivery attempts.
package retry

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes the delay before a retry. attempt is 1-based: the
// delay after the first failed attempt is Next(1).
type Backoff interface {
	Next(attempt int) time.Duration
}

// LinearBackoff waits attempt * base, capped at max.
type LinearBackoff struct {
	base time.Duration
	max  time.Duration
}

// NewLinearBackoff creates a linear backoff. A zero max means no cap.
func NewLinearBackoff(base, max time.Duration) *LinearBackoff {
	return &LinearBackoff{base: base, max: max}
}

// Next implements Backoff.
func (b *LinearBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := time.Duration(attempt) * b.base
	if b.max > 0 && d > b.max {
		d = b.max
	}
	return d
}

// ExponentialBackoff waits base * 2^(attempt-1) with full jitter, capped
// at max.
type ExponentialBackoff struct {
	base time.Duration
	max  time.Duration

	mu   sync.Mutex
	rand *rand.Rand
}

// NewExponentialBackoff creates an exponential backoff. A zero max means
// no cap.
func NewExponentialBackoff(base, max time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		base: base,
		max:  max,
		//nolint:gosec // weak random is fine for jitter
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next implements Backoff.
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.base) * math.Pow(2, float64(attempt-1))
	if b.max > 0 && d > float64(b.max) {
		d = float64(b.max)
	}

	// Full jitter: uniform in [d/2, d] keeps retries spread out without
	// collapsing short delays to zero.
	b.mu.Lock()
	jittered := d/2 + b.rand.Float64()*d/2
	b.mu.Unlock()

	return time.Duration(jittered)
}

// Strategy names accepted in configuration.
const (
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
)

// defaultMaxDelay bounds a single retry delay regardless of strategy.
const defaultMaxDelay = time.Hour

// ForStrategy builds the named backoff strategy over base.
func ForStrategy(strategy string, base time.Duration) (Backoff, error) {
	switch strategy {
	case StrategyLinear, "":
		return NewLinearBackoff(base, defaultMaxDelay), nil
	case StrategyExponential:
		return NewExponentialBackoff(base, defaultMaxDelay), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", strategy)
	}
}
