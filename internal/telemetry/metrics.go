// Package telemetry provides the Prometheus metrics and OpenTelemetry tracer
// used by the access-control services.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Check result label values.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultError   = "error"
)

// Metrics holds all Prometheus metrics for catalog access checks.
// Pass to components that need to record metrics.
type Metrics struct {
	ChecksTotal   *prometheus.CounterVec
	CheckDuration *prometheus.HistogramVec
	PolicyReloads prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ChecksTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "catalogguard",
				Name:      "checks_total",
				Help:      "Total access checks by outcome",
			},
			[]string{"catalog", "action", "result"}, // result=allowed/denied/error
		),
		CheckDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "catalogguard",
				Name:      "check_duration_seconds",
				Help:      "Access check duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"catalog", "action"},
		),
		PolicyReloads: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "catalogguard",
				Name:      "policy_reloads_total",
				Help:      "Total successful rule reloads",
			},
		),
	}
}
