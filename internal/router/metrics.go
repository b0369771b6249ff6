package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var routeResolutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "route_resolutions_total",
		Help: "Route resolution outcomes",
	},
	[]string{"result"},
)

func recordResolution(result string) {
	routeResolutionsTotal.WithLabelValues(result).Inc()
}
