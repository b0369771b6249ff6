package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Enqueuer accepts deliveries for asynchronous attempting. The worker
// implements it; the dispatcher only needs the hand-off.
type Enqueuer interface {
	Enqueue(d *Delivery)
}

// Dispatcher turns triggered events into persisted deliveries, one per
// matching active subscription, and hands them to the worker.
type Dispatcher struct {
	subs     *Subscriptions
	store    Store
	enqueuer Enqueuer
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. enqueuer may be nil, in which case
// deliveries are only persisted and picked up by the worker's store polls.
func NewDispatcher(subs *Subscriptions, store Store, enqueuer Enqueuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{subs: subs, store: store, enqueuer: enqueuer, logger: logger}
}

// Trigger fans an event out to every active subscription whose event set
// contains eventType and returns immediately. Delivery happens
// asynchronously; per-subscription persistence failures are logged and do
// not abort the fan-out.
func (d *Dispatcher) Trigger(ctx context.Context, eventType string, data any, source string) error {
	event := &Event{
		Event:     eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("encode event %s: %w", eventType, err)
	}

	now := time.Now().UTC()
	for _, sub := range d.subs.Matching(eventType) {
		delivery := &Delivery{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			EventType:      eventType,
			Payload:        payload,
			CreatedAt:      now,
			Status:         StatusPending,
			NextAttemptAt:  now,
		}

		if err := d.store.CreateDelivery(ctx, delivery); err != nil {
			d.logger.Error("failed to persist webhook delivery",
				zap.String("subscription", sub.ID),
				zap.String("event", eventType),
				zap.Error(err))
			continue
		}

		d.logger.Debug("webhook delivery queued",
			zap.String("delivery", delivery.ID),
			zap.String("subscription", sub.ID),
			zap.String("event", eventType))

		if d.enqueuer != nil {
			d.enqueuer.Enqueue(delivery)
		}
	}
	return nil
}
