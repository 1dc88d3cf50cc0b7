// Package metrics holds Prometheus metrics for read-model projection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts projection outcomes.
type Metrics struct {
	Processed prometheus.Counter
	Failures  prometheus.Counter
	Retried   prometheus.Counter
	Deferred  prometheus.Counter
	Rebuilds  prometheus.Counter
}

// New creates a Metrics instance registered against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Processed: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_projection_events_processed_total",
			Help: "Total number of events applied to the read models",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_projection_failures_total",
			Help: "Total number of projection handler failures",
		}),
		Retried: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_projection_retries_total",
			Help: "Total number of retry attempts for deferred events",
		}),
		Deferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_projection_deferred_total",
			Help: "Total number of events deferred waiting for a view row",
		}),
		Rebuilds: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_projection_rebuilds_total",
			Help: "Total number of aggregate read-model rebuilds",
		}),
	}
}
