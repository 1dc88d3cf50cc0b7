// Package metrics holds Prometheus metrics for the consent lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for consent commands and reads.
type Metrics struct {
	Created          prometheus.Counter
	Authorized       prometheus.Counter
	Revoked          prometheus.Counter
	Used             prometheus.Counter
	Expired          prometheus.Counter
	VersionConflicts prometheus.Counter
	PublishFailures  prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
}

// New creates a Metrics instance registered against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Created: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_consents_created_total",
			Help: "Total number of consents created",
		}),
		Authorized: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_consents_authorized_total",
			Help: "Total number of consents authorized",
		}),
		Revoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_consents_revoked_total",
			Help: "Total number of consents revoked",
		}),
		Used: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_consent_usages_total",
			Help: "Total number of consent usages recorded",
		}),
		Expired: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_consents_expired_total",
			Help: "Total number of consents expired by the sweeper",
		}),
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_version_conflicts_total",
			Help: "Total number of optimistic concurrency conflicts on append",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_publish_failures_total",
			Help: "Total number of best-effort event publication failures",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_cache_hits_total",
			Help: "Total number of consent cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "openconsent_cache_misses_total",
			Help: "Total number of consent cache misses",
		}),
	}
}
