// Package sweeper expires consents that outlived their validity window. One
// instance per cluster sweeps at a time, elected through a database lease;
// every expiry goes through the normal event path so downstream consumers see
// it like any other transition.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"openconsent/internal/projection"
	"openconsent/internal/sweeper/metrics"
	"openconsent/pkg/domain"
	dErrors "openconsent/pkg/domain-errors"
)

const leaseName = "consent-sweeper"

// Expirer drives one consent through its expiry transition.
type Expirer interface {
	Expire(ctx context.Context, id domain.ConsentID) error
}

// Views is the read-model slice the sweeper scans.
type Views interface {
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]projection.ConsentView, error)
}

// Config tunes the sweep loop.
type Config struct {
	Interval   time.Duration
	LeaseTTL   time.Duration
	BatchSize  int
	InstanceID string
}

// Sweeper periodically expires overdue consents while holding the lease.
type Sweeper struct {
	views   Views
	expirer Expirer
	lease   Lease
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(views Views, expirer Expirer, lease Lease, cfg Config,
	m *metrics.Metrics, logger *slog.Logger) *Sweeper {

	return &Sweeper{
		views:   views,
		expirer: expirer,
		lease:   lease,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Run ticks until ctx is cancelled. The lease is released on the way out so
// another instance can take over immediately.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.lease.Release(releaseCtx, leaseName, s.cfg.InstanceID); err != nil {
				s.logger.Warn("lease release failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	held, err := s.lease.Acquire(ctx, leaseName, s.cfg.InstanceID, s.cfg.LeaseTTL)
	if err != nil {
		// Lease trouble degrades to a no-op sweep; expiry waits for the
		// next tick rather than risking two concurrent sweepers.
		s.metrics.SkippedRuns.Inc()
		s.logger.Warn("lease acquisition failed, skipping sweep", "error", err)
		return
	}
	if !held {
		s.metrics.SkippedRuns.Inc()
		s.logger.Debug("lease held elsewhere, skipping sweep")
		return
	}

	s.metrics.Runs.Inc()
	s.SweepOnce(ctx)
}

// SweepOnce scans one batch of overdue consents and expires each. Individual
// failures are counted and logged but never stop the batch.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	views, err := s.views.ListExpired(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.metrics.Failures.Inc()
		s.logger.Error("expired consent scan failed", "error", err)
		return
	}
	if len(views) == 0 {
		return
	}

	s.logger.Info("sweeping overdue consents", "count", len(views))
	for _, view := range views {
		s.expireOne(ctx, view)
	}
}

func (s *Sweeper) expireOne(ctx context.Context, view projection.ConsentView) {
	id, err := domain.ParseConsentID(view.ConsentID)
	if err != nil {
		s.metrics.Failures.Inc()
		s.logger.Error("malformed consent id in read model", "consent_id", view.ConsentID)
		return
	}

	err = s.expirer.Expire(ctx, id)
	switch {
	case err == nil:
		s.metrics.Expired.Inc()
	case dErrors.HasCode(err, dErrors.CodeVersionConflict),
		dErrors.HasCode(err, dErrors.CodeInvalidTransition),
		dErrors.HasCode(err, dErrors.CodeAlreadyRevoked):
		// Another replica or a concurrent command already moved this consent
		// out of reach. The read model will catch up.
		s.metrics.SkippedSweeps.Inc()
		s.logger.Debug("consent no longer sweepable", "consent_id", view.ConsentID, "error", err)
	default:
		s.metrics.Failures.Inc()
		s.logger.Error("expiry failed", "consent_id", view.ConsentID, "error", err)
	}
}
