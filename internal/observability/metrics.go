// Package observability provides prometheus metrics for the partner
// gateway request path and the webhook delivery subsystem. Structured
// logging lives in the logging subpackage.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GatewayRequestsTotal counts gateway requests by route, partner and status.
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of gateway requests",
		},
		[]string{"route", "partner", "status"},
	)

	// GatewayRequestDuration observes end-to-end gateway request latency.
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Duration of gateway requests in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route", "partner"},
	)

	// RateLimitDecisionsTotal counts rate limit checks by rule and outcome.
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of rate limit decisions",
		},
		[]string{"rule", "result"},
	)

	// RateLimitStoreErrorsTotal counts counter store failures that caused
	// the limiter to fail open.
	RateLimitStoreErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Total number of counter store errors handled by failing open",
		},
	)

	// WebhookDeliveryAttemptsTotal counts webhook POST attempts by result.
	WebhookDeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_delivery_attempts_total",
			Help: "Total number of webhook delivery attempts",
		},
		[]string{"result"},
	)

	// WebhookDeliveriesTerminalTotal counts deliveries reaching a terminal status.
	WebhookDeliveriesTerminalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_deliveries_terminal_total",
			Help: "Total number of webhook deliveries reaching a terminal status",
		},
		[]string{"status"},
	)

	// WebhookQueueDepth shows the number of deliveries waiting in the scheduler.
	WebhookQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_queue_depth",
			Help: "Number of webhook deliveries waiting to be attempted",
		},
	)
)

// RecordGatewayRequest records a completed gateway request.
func RecordGatewayRequest(route, partner string, status string, duration time.Duration) {
	GatewayRequestsTotal.WithLabelValues(route, partner, status).Inc()
	GatewayRequestDuration.WithLabelValues(route, partner).Observe(duration.Seconds())
}

// RecordRateLimitDecision records a rate limit check outcome. result is
// allowed, rejected, or fail_open.
func RecordRateLimitDecision(rule, result string) {
	RateLimitDecisionsTotal.WithLabelValues(rule, result).Inc()
}

// RecordRateLimitStoreError records a counter store failure.
func RecordRateLimitStoreError() {
	RateLimitStoreErrorsTotal.Inc()
}

// RecordWebhookAttempt records a webhook delivery attempt outcome.
func RecordWebhookAttempt(result string) {
	WebhookDeliveryAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordWebhookTerminal records a delivery reaching delivered or failed.
func RecordWebhookTerminal(status string) {
	WebhookDeliveriesTerminalTotal.WithLabelValues(status).Inc()
}
