package webhook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Deliveries are copied on the way in and out so callers never
// share mutable state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	deliveries map[string]*Delivery
}

// NewMemoryStore creates an empty in-memory delivery store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deliveries: make(map[string]*Delivery)}
}

// CreateDelivery implements Store.
func (s *MemoryStore) CreateDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.ID] = d.Clone()
	return nil
}

// UpdateDelivery implements Store.
func (s *MemoryStore) UpdateDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; !ok {
		return ErrDeliveryNotFound
	}
	s.deliveries[d.ID] = d.Clone()
	return nil
}

// Delivery implements Store.
func (s *MemoryStore) Delivery(_ context.Context, id string) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return d.Clone(), nil
}

// ListBySubscription implements Store.
func (s *MemoryStore) ListBySubscription(_ context.Context, subscriptionID string) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Delivery
	for _, d := range s.deliveries {
		if d.SubscriptionID == subscriptionID {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Open implements Store.
func (s *MemoryStore) Open(_ context.Context, _ time.Time) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Delivery
	for _, d := range s.deliveries {
		if !d.Terminal() {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
