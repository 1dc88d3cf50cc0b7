// Package metrics holds Prometheus metrics for the cleanup sweeper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts sweep outcomes.
type Metrics struct {
	Runs          prometheus.Counter
	SkippedRuns   prometheus.Counter
	Expired       prometheus.Counter
	SkippedSweeps prometheus.Counter
	Failures      prometheus.Counter
}

// New creates a Metrics instance registered against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_sweeper_runs_total",
			Help: "Total number of sweep passes executed while holding the lease",
		}),
		SkippedRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_sweeper_skipped_runs_total",
			Help: "Total number of ticks skipped because the lease was unavailable",
		}),
		Expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_sweeper_expired_total",
			Help: "Total number of consents expired by the sweeper",
		}),
		SkippedSweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_sweeper_skipped_consents_total",
			Help: "Total number of consents skipped because another writer got there first",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_sweeper_failures_total",
			Help: "Total number of individual expiry failures during sweeps",
		}),
	}
}
