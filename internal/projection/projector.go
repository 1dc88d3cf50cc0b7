package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mssola/useragent"

	"openconsent/internal/consent/models"
	"openconsent/internal/eventstore"
	"openconsent/internal/projection/metrics"
	"openconsent/pkg/domain"
	"openconsent/pkg/platform/audit"
	"openconsent/pkg/platform/sentinel"
)

// Projector applies committed events to the read models. Each event kind has
// its own handler, and a handler failure affects only that event: the
// consumer redelivers it without blocking other kinds.
//
// An update arriving before its ConsentCreated row exists (projection lag, or
// the revocations topic overtaking the events topic) is deferred to the retry
// queue instead of being dropped or failing the delivery.
type Projector struct {
	store   Store
	events  eventstore.Store
	audit   *audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	retries *retryQueue
}

func New(store Store, events eventstore.Store, auditPub *audit.Publisher,
	m *metrics.Metrics, logger *slog.Logger) *Projector {

	return &Projector{
		store:   store,
		events:  events,
		audit:   auditPub,
		metrics: m,
		logger:  logger,
		retries: newRetryQueue(),
	}
}

// Apply projects one envelope. A missing view row defers the event and
// returns nil so the consumer commits; every other failure is returned for
// redelivery.
func (p *Projector) Apply(ctx context.Context, env models.Envelope) error {
	err := p.project(ctx, env)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		p.metrics.Deferred.Inc()
		p.logger.Warn("view row not ready, deferring event",
			"aggregate_id", env.AggregateID, "kind", env.Kind(), "sequence", env.Sequence)
		p.retries.schedule(env)
		return nil
	case err != nil:
		p.metrics.Failures.Inc()
		return err
	}

	p.metrics.Processed.Inc()
	p.emitAudit(env)
	return nil
}

func (p *Projector) project(ctx context.Context, env models.Envelope) error {
	switch e := env.Event.(type) {
	case *models.ConsentCreated:
		return p.store.InsertConsent(ctx, ConsentView{
			ConsentID:     env.AggregateID,
			CustomerID:    e.CustomerID,
			ParticipantID: e.ParticipantID,
			Scopes:        e.Scopes,
			Purpose:       e.Purpose,
			Status:        models.StatusPending,
			Version:       env.Sequence,
			CreatedAt:     e.CreatedAt,
			ExpiresAt:     e.ExpiresAt,
		})
	case *models.ConsentAuthorized:
		return p.store.MarkAuthorized(ctx, env.AggregateID, e.AuthorizedAt, env.Sequence)
	case *models.ConsentRevoked:
		return p.store.MarkRevoked(ctx, env.AggregateID, e.RevokedAt, e.Reason, env.Sequence)
	case *models.ConsentExpired:
		return p.store.MarkExpired(ctx, env.AggregateID, e.ExpiredAt, env.Sequence)
	case *models.ConsentUsed:
		return p.store.RecordUsage(ctx, usageRecord(env.AggregateID, env.Sequence, e))
	case *models.ParticipantValidated:
		return p.store.RecordValidation(ctx, e.ParticipantID, e.ValidatedAt, e.Valid)
	case *models.ParticipantOnboarded:
		return p.store.UpsertParticipant(ctx, ParticipantView{
			ParticipantID: e.ParticipantID,
			LegalName:     e.LegalName,
			Role:          e.Role,
			OnboardedAt:   e.OnboardedAt,
		})
	default:
		// The decode registry is closed, so this indicates a handler gap.
		return fmt.Errorf("no projection handler for event kind %s", env.Kind())
	}
}

func (p *Projector) emitAudit(env models.Envelope) {
	entry := audit.Entry{
		Action:    audit.ActionProjectionApplied,
		Decision:  string(env.Kind()),
		RequestID: env.CorrelationID,
		Sequence:  env.Sequence,
	}
	if env.AggregateType == models.AggregateTypeConsent {
		if id, err := domain.ParseConsentID(env.AggregateID); err == nil {
			entry.ConsentID = id
		}
	} else {
		entry.ParticipantID = domain.ParticipantID(env.AggregateID)
	}
	p.audit.Emit(entry)
}

func usageRecord(aggregateID string, sequence int64, e *models.ConsentUsed) UsageRecord {
	rec := UsageRecord{
		ConsentID: aggregateID,
		Sequence:  sequence,
		UsedAt:    e.UsedAt,
		Scope:     e.Scope,
		IPAddress: e.IPAddress,
	}
	if e.UserAgent == "" {
		return rec
	}
	ua := useragent.New(e.UserAgent)
	rec.Browser, rec.BrowserVersion = ua.Browser()
	rec.OS = ua.OS()
	switch {
	case ua.Bot():
		rec.Device = "bot"
	case ua.Mobile():
		rec.Device = "mobile"
	default:
		rec.Device = "desktop"
	}
	return rec
}
