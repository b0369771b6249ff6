// Package webhook implements the outbound event notification subsystem.
// Triggered events fan out to matching subscriptions as persisted
// deliveries; a scheduled worker pool attempts signed POSTs with bounded
// retries until each delivery reaches a terminal status.
package webhook

import (
	"encoding/json"
	"errors"
	"time"
)

// Delivery statuses. A delivery starts pending, moves to retrying after a
// failed attempt with retries remaining, and terminates at delivered or
// failed. Terminal deliveries are never attempted again.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Outbound request headers.
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery"
)

// ErrDeliveryNotFound is returned by stores for unknown delivery IDs.
var ErrDeliveryNotFound = errors.New("webhook delivery not found")

// Event is the canonical payload POSTed to subscribers. The signature is
// computed over its JSON encoding, so field order and encoding are fixed
// by this type.
type Event struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// Marshal returns the canonical JSON encoding of the event.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Delivery is the per-subscription attempt record for one triggered event.
// Every status transition is persisted so deliveries survive restarts.
type Delivery struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscriptionId"`
	EventType      string    `json:"eventType"`
	Payload        []byte    `json:"payload"`
	CreatedAt      time.Time `json:"createdAt"`
	RetryCount     int       `json:"retryCount"`
	Status         string    `json:"status"`
	NextAttemptAt  time.Time `json:"nextAttemptAt"`
	LastError      string    `json:"lastError,omitempty"`
}

// Terminal reports whether the delivery reached a final status.
func (d *Delivery) Terminal() bool {
	return d.Status == StatusDelivered || d.Status == StatusFailed
}

// Clone returns a deep copy of the delivery.
func (d *Delivery) Clone() *Delivery {
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	return &cp
}
