// Package store provides counter storage backends for traffic control.
//
// A Store holds the ephemeral per-identifier counters the rate limiter
// operates on. Counters are created lazily and expire via TTL, so a
// backend never needs explicit garbage collection beyond honoring the
// expiration it was handed.
package store

import (
	"context"
	"time"
)

// Store is the counter storage contract shared by the in-memory and
// Redis backends. Increments must be atomic: concurrent callers on the
// same key never observe a lost update.
type Store interface {
	// Get retrieves the counter value for the given key.
	Get(ctx context.Context, key string) (int64, error)

	// Set stores value under key with the given expiration. A zero
	// expiration means the key never expires.
	Set(ctx context.Context, key string, value int64, expiration time.Duration) error

	// Increment atomically adds delta to the counter, creating it at
	// delta if absent, and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// IncrementWithExpiry atomically adds delta to the counter and sets
	// the expiration if this call created the key.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Delete removes the key.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// BucketStore is implemented by backends that can evaluate token and
// leaky buckets atomically server-side. The Redis store implements it
// with Lua scripts; the in-memory backend keeps bucket state in the
// limiter instead.
type BucketStore interface {
	TokenBucket(ctx context.Context, key string, rate float64, capacity, n int, ttl time.Duration) (*BucketResult, error)
	LeakyBucket(ctx context.Context, key string, rate float64, capacity, n int, ttl time.Duration) (*BucketResult, error)
}

// ErrKeyNotFound is returned when a key is absent or has expired.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "counter not found: " + e.Key
}

// IsKeyNotFound reports whether err is an ErrKeyNotFound.
func IsKeyNotFound(err error) bool {
	_, ok := err.(*ErrKeyNotFound)
	return ok
}
