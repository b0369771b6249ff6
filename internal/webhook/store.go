package webhook

import (
	"context"
	"time"
)

// Store persists delivery records. Every status transition goes through
// UpdateDelivery so deliveries survive process restarts.
type Store interface {
	// CreateDelivery persists a new delivery record.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// UpdateDelivery persists the current state of an existing delivery.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// Delivery returns the delivery with the given ID or
	// ErrDeliveryNotFound.
	Delivery(ctx context.Context, id string) (*Delivery, error)

	// ListBySubscription returns the deliveries for a subscription,
	// newest first.
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Delivery, error)

	// Open returns all non-terminal deliveries, soonest attempt first.
	// The worker uses it to resume pending and retrying deliveries on
	// startup and to pick up records written by other instances.
	Open(ctx context.Context, now time.Time) ([]*Delivery, error)

	// Close releases store resources.
	Close() error
}
