package projection

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"openconsent/internal/consent/models"
	"openconsent/internal/eventstore"
	"openconsent/internal/platform/crypto"
	"openconsent/internal/projection/metrics"
	"openconsent/pkg/domain"
	"openconsent/pkg/platform/audit"
	"openconsent/pkg/platform/sentinel"
)

const (
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

type ProjectorSuite struct {
	suite.Suite
	ctx       context.Context
	store     *Memory
	events    *eventstore.Memory
	projector *Projector
}

func TestProjectorSuite(t *testing.T) {
	suite.Run(t, new(ProjectorSuite))
}

func (s *ProjectorSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key := hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	box, err := crypto.NewBox(key)
	s.Require().NoError(err)

	s.store = NewMemory()
	s.events = eventstore.NewMemory(box)
	s.projector = New(s.store, s.events,
		audit.NewPublisher(64, logger), metrics.New(prometheus.NewRegistry()), logger)
}

// seedConsent appends a ConsentCreated and returns the assigned envelopes.
func (s *ProjectorSuite) seedConsent(id domain.ConsentID, expiresAt time.Time) []models.Envelope {
	now := time.Now().UTC()
	envs, err := s.events.Append(s.ctx, id.String(), models.AggregateTypeConsent,
		[]models.Event{&models.ConsentCreated{
			ConsentID:     id,
			CustomerID:    "cust-1",
			ParticipantID: "bank-a",
			Scopes:        []domain.ConsentScope{domain.ScopeAccountInfo},
			Purpose:       domain.PurposeAccountAggregation,
			CreatedAt:     now,
			ExpiresAt:     expiresAt,
		}}, 0, eventstore.Metadata{})
	s.Require().NoError(err)
	return envs
}

func (s *ProjectorSuite) appendAndApply(id domain.ConsentID, expected int64, event models.Event) models.Envelope {
	envs, err := s.events.Append(s.ctx, id.String(), models.AggregateTypeConsent,
		[]models.Event{event}, expected, eventstore.Metadata{})
	s.Require().NoError(err)
	s.Require().NoError(s.projector.Apply(s.ctx, envs[0]))
	return envs[0]
}

func (s *ProjectorSuite) TestCreatedInsertsView() {
	id := domain.NewConsentID()
	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	envs := s.seedConsent(id, expiresAt)
	s.Require().NoError(s.projector.Apply(s.ctx, envs[0]))

	view, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(models.StatusPending, view.Status)
	s.Equal(domain.CustomerID("cust-1"), view.CustomerID)
	s.Equal(int64(1), view.Version)
	s.Zero(view.UsageCount)
}

func (s *ProjectorSuite) TestLifecycleUpdates() {
	id := domain.NewConsentID()
	envs := s.seedConsent(id, time.Now().UTC().Add(24*time.Hour))
	s.Require().NoError(s.projector.Apply(s.ctx, envs[0]))

	now := time.Now().UTC()
	s.appendAndApply(id, 1, &models.ConsentAuthorized{ConsentID: id, AuthorizedAt: now, Method: "SCA"})

	view, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(models.StatusAuthorized, view.Status)
	s.Require().NotNil(view.AuthorizedAt)
	s.Equal(int64(2), view.Version)

	s.appendAndApply(id, 2, &models.ConsentRevoked{ConsentID: id, RevokedAt: now, Reason: "customer request"})

	view, err = s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, view.Status)
	s.Equal("customer request", view.RevocationReason)
	s.Equal(int64(3), view.Version)
}

func (s *ProjectorSuite) TestRedeliveryIsIdempotent() {
	id := domain.NewConsentID()
	envs := s.seedConsent(id, time.Now().UTC().Add(24*time.Hour))
	s.Require().NoError(s.projector.Apply(s.ctx, envs[0]))

	env := s.appendAndApply(id, 1, &models.ConsentAuthorized{ConsentID: id, AuthorizedAt: time.Now().UTC()})

	// Same delivery again must change nothing.
	s.Require().NoError(s.projector.Apply(s.ctx, env))
	s.Require().NoError(s.projector.Apply(s.ctx, envs[0]))

	view, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(models.StatusAuthorized, view.Status)
	s.Equal(int64(2), view.Version)
}

func (s *ProjectorSuite) TestUsageRecordsParseUserAgent() {
	id := domain.NewConsentID()
	envs := s.seedConsent(id, time.Now().UTC().Add(24*time.Hour))
	s.Require().NoError(s.projector.Apply(s.ctx, envs[0]))
	s.appendAndApply(id, 1, &models.ConsentAuthorized{ConsentID: id, AuthorizedAt: time.Now().UTC()})

	now := time.Now().UTC()
	s.appendAndApply(id, 2, &models.ConsentUsed{
		ConsentID: id, UsedAt: now, Scope: domain.ScopeAccountInfo,
		IPAddress: "10.0.0.1", UserAgent: desktopUA,
	})
	s.appendAndApply(id, 3, &models.ConsentUsed{
		ConsentID: id, UsedAt: now, Scope: domain.ScopeBalances,
		IPAddress: "10.0.0.2", UserAgent: mobileUA,
	})

	view, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(2, view.UsageCount)

	records, err := s.store.ListUsage(s.ctx, id.String())
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal("Chrome", records[0].Browser)
	s.Equal("desktop", records[0].Device)
	s.Equal("mobile", records[1].Device)
}

func (s *ProjectorSuite) TestUpdateBeforeCreateIsDeferredThenApplied() {
	id := domain.NewConsentID()
	createdEnv := s.seedConsent(id, time.Now().UTC().Add(24*time.Hour))[0]
	revokedEnvs, err := s.events.Append(s.ctx, id.String(), models.AggregateTypeConsent,
		[]models.Event{&models.ConsentRevoked{ConsentID: id, RevokedAt: time.Now().UTC(), Reason: "customer request"}},
		1, eventstore.Metadata{})
	s.Require().NoError(err)

	// Revocation arrives first (dedicated topic overtakes the event stream).
	s.Require().NoError(s.projector.Apply(s.ctx, revokedEnvs[0]))
	s.Equal(1, s.projector.PendingRetries())
	_, err = s.store.GetConsent(s.ctx, id.String())
	s.ErrorIs(err, sentinel.ErrNotFound)

	// Creation lands, then the retry pass applies the deferred revocation.
	s.Require().NoError(s.projector.Apply(s.ctx, createdEnv))
	s.projector.drainRetries(s.ctx, time.Now().Add(time.Minute))
	s.Zero(s.projector.PendingRetries())

	view, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, view.Status)
}

func (s *ProjectorSuite) TestDeferredEventStaysQueuedUntilRowExists() {
	id := domain.NewConsentID()
	s.seedConsent(id, time.Now().UTC().Add(24*time.Hour))
	envs, err := s.events.Append(s.ctx, id.String(), models.AggregateTypeConsent,
		[]models.Event{&models.ConsentAuthorized{ConsentID: id, AuthorizedAt: time.Now().UTC()}},
		1, eventstore.Metadata{})
	s.Require().NoError(err)

	s.Require().NoError(s.projector.Apply(s.ctx, envs[0]))
	s.Equal(1, s.projector.PendingRetries())

	// Row still missing: the retry pass must keep the event queued.
	s.projector.drainRetries(s.ctx, time.Now().Add(time.Minute))
	s.Equal(1, s.projector.PendingRetries())
}

func (s *ProjectorSuite) TestParticipantViews() {
	onboarded, err := s.events.Append(s.ctx, "bank-a", models.AggregateTypeParticipant,
		[]models.Event{&models.ParticipantOnboarded{
			ParticipantID: "bank-a", LegalName: "Bank A", Role: "data_receiver",
			OnboardedAt: time.Now().UTC(),
		}}, 0, eventstore.Metadata{})
	s.Require().NoError(err)
	s.Require().NoError(s.projector.Apply(s.ctx, onboarded[0]))

	validated, err := s.events.Append(s.ctx, "bank-a", models.AggregateTypeParticipant,
		[]models.Event{&models.ParticipantValidated{
			ParticipantID: "bank-a", Valid: true, ValidatedAt: time.Now().UTC(),
		}}, 1, eventstore.Metadata{})
	s.Require().NoError(err)
	s.Require().NoError(s.projector.Apply(s.ctx, validated[0]))

	p, err := s.store.GetParticipant(s.ctx, "bank-a")
	s.Require().NoError(err)
	s.Equal("Bank A", p.LegalName)
	s.True(p.LastValidationOK)
	s.Equal(int64(1), p.Validations)
}

func (s *ProjectorSuite) TestListExpired() {
	now := time.Now().UTC()

	expired := domain.NewConsentID()
	s.Require().NoError(s.projector.Apply(s.ctx, s.seedConsent(expired, now.Add(-time.Hour))[0]))

	active := domain.NewConsentID()
	s.Require().NoError(s.projector.Apply(s.ctx, s.seedConsent(active, now.Add(time.Hour))[0]))

	revoked := domain.NewConsentID()
	s.Require().NoError(s.projector.Apply(s.ctx, s.seedConsent(revoked, now.Add(-time.Hour))[0]))
	s.appendAndApply(revoked, 1, &models.ConsentRevoked{ConsentID: revoked, RevokedAt: now, Reason: "customer request"})

	views, err := s.store.ListExpired(s.ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(views, 1, "only live consents past expiry are swept")
	s.Equal(expired.String(), views[0].ConsentID)
}

func (s *ProjectorSuite) TestRebuildMatchesIncremental() {
	id := domain.NewConsentID()
	s.Require().NoError(s.projector.Apply(s.ctx, s.seedConsent(id, time.Now().UTC().Add(24*time.Hour))[0]))
	s.appendAndApply(id, 1, &models.ConsentAuthorized{ConsentID: id, AuthorizedAt: time.Now().UTC()})
	s.appendAndApply(id, 2, &models.ConsentUsed{
		ConsentID: id, UsedAt: time.Now().UTC(), Scope: domain.ScopeAccountInfo, UserAgent: desktopUA,
	})

	incremental, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)

	s.Require().NoError(s.projector.RebuildAll(s.ctx))

	rebuilt, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(incremental.Status, rebuilt.Status)
	s.Equal(incremental.Version, rebuilt.Version)
	s.Equal(incremental.UsageCount, rebuilt.UsageCount)

	records, err := s.store.ListUsage(s.ctx, id.String())
	s.Require().NoError(err)
	s.Len(records, 1)
}

func (s *ProjectorSuite) TestRebuildForAggregate() {
	id := domain.NewConsentID()
	s.Require().NoError(s.projector.Apply(s.ctx, s.seedConsent(id, time.Now().UTC().Add(24*time.Hour))[0]))
	s.appendAndApply(id, 1, &models.ConsentAuthorized{ConsentID: id, AuthorizedAt: time.Now().UTC()})

	// Simulate a corrupted row.
	s.Require().NoError(s.store.DeleteConsent(s.ctx, id.String()))

	s.Require().NoError(s.projector.RebuildForAggregate(s.ctx, id.String()))

	view, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(models.StatusAuthorized, view.Status)
	s.Equal(int64(2), view.Version)

	err = s.projector.RebuildForAggregate(s.ctx, domain.NewConsentID().String())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ProjectorSuite) TestValidateConsistency() {
	id := domain.NewConsentID()
	s.Require().NoError(s.projector.Apply(s.ctx, s.seedConsent(id, time.Now().UTC().Add(24*time.Hour))[0]))
	s.appendAndApply(id, 1, &models.ConsentAuthorized{ConsentID: id, AuthorizedAt: time.Now().UTC()})

	report, err := s.projector.ValidateConsistency(s.ctx)
	s.Require().NoError(err)
	s.True(report.Consistent())
	s.Equal(1, report.Aggregates)

	s.Run("missing row is reported", func() {
		s.Require().NoError(s.store.DeleteConsent(s.ctx, id.String()))

		report, err := s.projector.ValidateConsistency(s.ctx)
		s.Require().NoError(err)
		s.False(report.Consistent())
		s.Equal([]string{id.String()}, report.Missing)
	})

	s.Run("drifted row is reported", func() {
		s.Require().NoError(s.projector.RebuildForAggregate(s.ctx, id.String()))
		s.store.mu.Lock()
		view := s.store.consents[id.String()]
		view.Status = models.StatusPending
		view.UsageCount = 7
		s.store.consents[id.String()] = view
		s.store.mu.Unlock()

		report, err := s.projector.ValidateConsistency(s.ctx)
		s.Require().NoError(err)
		s.Require().Len(report.Drifts, 2)
		s.Equal("status", report.Drifts[0].Field)
		s.Equal("usage_count", report.Drifts[1].Field)
	})
}
