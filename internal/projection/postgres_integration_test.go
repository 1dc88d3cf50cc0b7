//go:build integration

package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
	"openconsent/pkg/platform/sentinel"
	"openconsent/pkg/testutil/containers"
)

type PostgresViewSuite struct {
	suite.Suite
	ctx   context.Context
	pg    *containers.PostgresContainer
	store *Postgres
}

func TestPostgresViewSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, &PostgresViewSuite{})
}

func (s *PostgresViewSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.Require().NoError(EnsureViewSchema(s.ctx, s.pg.Pool))
	s.store = NewPostgres(s.pg.Pool)
}

func (s *PostgresViewSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateAll(s.ctx,
		"consent_views", "consent_usage", "participant_views"))
}

func (s *PostgresViewSuite) insertView(id domain.ConsentID, expiresAt time.Time) ConsentView {
	now := time.Now().UTC().Truncate(time.Microsecond)
	view := ConsentView{
		ConsentID:     id.String(),
		CustomerID:    "cust-1",
		ParticipantID: "bank-a",
		Scopes:        []domain.ConsentScope{domain.ScopeAccountInfo, domain.ScopeBalances},
		Purpose:       domain.PurposeAccountAggregation,
		Status:        models.StatusPending,
		Version:       1,
		CreatedAt:     now,
		ExpiresAt:     expiresAt.Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.InsertConsent(s.ctx, view))
	return view
}

func (s *PostgresViewSuite) TestInsertAndGet() {
	id := domain.NewConsentID()
	inserted := s.insertView(id, time.Now().UTC().Add(24*time.Hour))

	got, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(inserted.ConsentID, got.ConsentID)
	s.Equal(inserted.Scopes, got.Scopes)
	s.Equal(models.StatusPending, got.Status)
	s.Equal(int64(1), got.Version)

	_, err = s.store.GetConsent(s.ctx, domain.NewConsentID().String())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresViewSuite) TestGuardedUpdates() {
	id := domain.NewConsentID()
	s.insertView(id, time.Now().UTC().Add(24*time.Hour))
	now := time.Now().UTC()

	s.Require().NoError(s.store.MarkAuthorized(s.ctx, id.String(), now, 2))

	// Stale redelivery is a silent no-op.
	s.Require().NoError(s.store.MarkAuthorized(s.ctx, id.String(), now, 2))

	s.Require().NoError(s.store.MarkRevoked(s.ctx, id.String(), now, "customer request", 3))

	got, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)
	s.Equal("customer request", got.RevocationReason)
	s.Equal(int64(3), got.Version)
	s.NotNil(got.AuthorizedAt)
	s.NotNil(got.RevokedAt)

	err = s.store.MarkAuthorized(s.ctx, domain.NewConsentID().String(), now, 2)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresViewSuite) TestRecordUsage() {
	id := domain.NewConsentID()
	s.insertView(id, time.Now().UTC().Add(24*time.Hour))
	now := time.Now().UTC().Truncate(time.Microsecond)

	rec := UsageRecord{
		ConsentID: id.String(), Sequence: 2, UsedAt: now,
		Scope: domain.ScopeAccountInfo, IPAddress: "10.0.0.1",
		Browser: "Chrome", BrowserVersion: "120.0", OS: "Windows 10", Device: "desktop",
	}
	s.Require().NoError(s.store.RecordUsage(s.ctx, rec))

	// Redelivery neither double-counts nor duplicates the row.
	s.Require().NoError(s.store.RecordUsage(s.ctx, rec))

	got, err := s.store.GetConsent(s.ctx, id.String())
	s.Require().NoError(err)
	s.Equal(1, got.UsageCount)
	s.Equal(int64(2), got.Version)

	records, err := s.store.ListUsage(s.ctx, id.String())
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("Chrome", records[0].Browser)

	err = s.store.RecordUsage(s.ctx, UsageRecord{
		ConsentID: domain.NewConsentID().String(), Sequence: 2, UsedAt: now,
		Scope: domain.ScopeAccountInfo,
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresViewSuite) TestListQueries() {
	now := time.Now().UTC()

	expired := domain.NewConsentID()
	s.insertView(expired, now.Add(-time.Hour))

	active := domain.NewConsentID()
	s.insertView(active, now.Add(time.Hour))

	revoked := domain.NewConsentID()
	s.insertView(revoked, now.Add(-2*time.Hour))
	s.Require().NoError(s.store.MarkRevoked(s.ctx, revoked.String(), now, "customer request", 2))

	byCustomer, err := s.store.ListByCustomer(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Len(byCustomer, 3)

	byStatus, err := s.store.ListByStatus(s.ctx, models.StatusRevoked)
	s.Require().NoError(err)
	s.Require().Len(byStatus, 1)
	s.Equal(revoked.String(), byStatus[0].ConsentID)

	dueForSweep, err := s.store.ListExpired(s.ctx, now, 10)
	s.Require().NoError(err)
	s.Require().Len(dueForSweep, 1)
	s.Equal(expired.String(), dueForSweep[0].ConsentID)
}

func (s *PostgresViewSuite) TestParticipantViews() {
	now := time.Now().UTC().Truncate(time.Microsecond)

	// Validation before onboarding creates a stub row.
	s.Require().NoError(s.store.RecordValidation(s.ctx, "bank-a", now, true))
	s.Require().NoError(s.store.UpsertParticipant(s.ctx, ParticipantView{
		ParticipantID: "bank-a", LegalName: "Bank A", Role: "data_receiver", OnboardedAt: now,
	}))
	s.Require().NoError(s.store.RecordValidation(s.ctx, "bank-a", now.Add(time.Minute), false))

	p, err := s.store.GetParticipant(s.ctx, "bank-a")
	s.Require().NoError(err)
	s.Equal("Bank A", p.LegalName)
	s.Equal(int64(2), p.Validations)
	s.False(p.LastValidationOK)
}

func (s *PostgresViewSuite) TestDeleteAndReset() {
	id := domain.NewConsentID()
	s.insertView(id, time.Now().UTC().Add(24*time.Hour))
	s.Require().NoError(s.store.RecordUsage(s.ctx, UsageRecord{
		ConsentID: id.String(), Sequence: 2, UsedAt: time.Now().UTC(),
		Scope: domain.ScopeAccountInfo,
	}))

	s.Require().NoError(s.store.DeleteConsent(s.ctx, id.String()))
	_, err := s.store.GetConsent(s.ctx, id.String())
	s.ErrorIs(err, sentinel.ErrNotFound)
	records, err := s.store.ListUsage(s.ctx, id.String())
	s.Require().NoError(err)
	s.Empty(records)

	other := domain.NewConsentID()
	s.insertView(other, time.Now().UTC().Add(24*time.Hour))
	s.Require().NoError(s.store.Reset(s.ctx))
	_, err = s.store.GetConsent(s.ctx, other.String())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
