package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "partner_breaker_state",
			Help: "Current breaker state per partner (0=closed, 1=open, 2=half-open)",
		},
		[]string{"partner"},
	)

	breakerAdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partner_breaker_admissions_total",
			Help: "Admission decisions per partner",
		},
		[]string{"partner", "result"},
	)

	breakerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partner_breaker_outcomes_total",
			Help: "Recorded call outcomes per partner",
		},
		[]string{"partner", "outcome"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partner_breaker_transitions_total",
			Help: "Breaker state transitions per partner",
		},
		[]string{"partner", "from", "to"},
	)
)

func recordState(partner string, state State) {
	breakerState.WithLabelValues(partner).Set(float64(state))
}

func recordAdmission(partner string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	breakerAdmissionsTotal.WithLabelValues(partner, result).Inc()
}

func recordOutcome(partner string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	breakerOutcomesTotal.WithLabelValues(partner, outcome).Inc()
}

func recordStateChange(partner string, from, to State) {
	breakerTransitionsTotal.WithLabelValues(partner, from.String(), to.String()).Inc()
	recordState(partner, to)
}
