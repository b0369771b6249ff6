package ratelimit

import (
	"sync"
	"time"
)

const (
	bucketSweepInterval = 5 * time.Minute
	bucketIdleTTL       = 10 * time.Minute
)

// localBucket holds float bucket state for one identifier when no
// server-side bucket evaluation is available.
type localBucket struct {
	mu      sync.Mutex
	value   float64
	updated time.Time
}

// bucketMap tracks per-identifier buckets and reaps idle ones so a churn
// of one-off callers does not grow memory without bound.
type bucketMap struct {
	buckets sync.Map
	stop    chan struct{}
	once    sync.Once
}

func newBucketMap() *bucketMap {
	m := &bucketMap{stop: make(chan struct{})}
	go m.sweepLoop()
	return m
}

// get returns the bucket for key, creating it with the initial value.
func (m *bucketMap) get(key string, initial float64) *localBucket {
	if v, ok := m.buckets.Load(key); ok {
		return v.(*localBucket)
	}
	v, _ := m.buckets.LoadOrStore(key, &localBucket{
		value:   initial,
		updated: time.Now(),
	})
	return v.(*localBucket)
}

func (m *bucketMap) delete(key string) {
	m.buckets.Delete(key)
}

// Close stops the sweep goroutine. Safe to call multiple times.
func (m *bucketMap) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *bucketMap) sweepLoop() {
	ticker := time.NewTicker(bucketSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

func (m *bucketMap) sweep() {
	cutoff := time.Now().Add(-bucketIdleTTL)
	m.buckets.Range(func(key, v interface{}) bool {
		b := v.(*localBucket)
		b.mu.Lock()
		idle := b.updated.Before(cutoff)
		b.mu.Unlock()
		if idle {
			m.buckets.Delete(key)
		}
		return true
	})
}
