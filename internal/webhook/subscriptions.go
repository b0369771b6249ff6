package webhook

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wirebridge/partnergw/internal/config"
)

// Subscriptions is the registry of notification targets. It is seeded from
// configuration and extended at runtime through the management endpoint.
type Subscriptions struct {
	mu   sync.RWMutex
	byID map[string]config.WebhookSubscription
}

// NewSubscriptions creates a registry seeded with the given subscriptions.
func NewSubscriptions(seed []config.WebhookSubscription) *Subscriptions {
	s := &Subscriptions{byID: make(map[string]config.WebhookSubscription, len(seed))}
	for _, sub := range seed {
		s.byID[sub.ID] = sub
	}
	return s
}

// Add registers a subscription. A missing ID is filled with a fresh UUID.
func (s *Subscriptions) Add(sub config.WebhookSubscription) (config.WebhookSubscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if err := sub.Validate(); err != nil {
		return config.WebhookSubscription{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[sub.ID]; exists {
		return config.WebhookSubscription{}, fmt.Errorf("webhook subscription %s already exists", sub.ID)
	}
	s.byID[sub.ID] = sub
	return sub, nil
}

// Get returns the subscription with the given ID.
func (s *Subscriptions) Get(id string) (config.WebhookSubscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byID[id]
	return sub, ok
}

// Matching returns the active subscriptions whose event set contains
// eventType.
func (s *Subscriptions) Matching(eventType string) []config.WebhookSubscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []config.WebhookSubscription
	for _, sub := range s.byID {
		if !sub.Active {
			continue
		}
		for _, ev := range sub.Events {
			if ev == eventType || ev == "*" {
				matched = append(matched, sub)
				break
			}
		}
	}
	return matched
}

// All returns every registered subscription.
func (s *Subscriptions) All() []config.WebhookSubscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]config.WebhookSubscription, 0, len(s.byID))
	for _, sub := range s.byID {
		out = append(out, sub)
	}
	return out
}
