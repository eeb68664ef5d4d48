package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by the server.
// Pass to components that need to record measurements.
type Metrics struct {
	RequestsTotal  *prometheus.CounterVec
	DecisionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
// trackedKeys reports the number of keys the limiter store currently holds.
func NewMetrics(reg prometheus.Registerer, trackedKeys func() float64) *Metrics {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "gcra",
			Name:      "tracked_keys",
			Help:      "Number of rate limit keys currently tracked.",
		},
		trackedKeys,
	)

	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gcra",
				Name:      "requests_total",
				Help:      "HTTP requests served, by status code.",
			},
			[]string{"status"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gcra",
				Name:      "decisions_total",
				Help:      "Admission decisions made by the rate limiter.",
			},
			[]string{"result"}, // result=allow/deny
		),
	}
}
