package eventstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
	dErrors "openconsent/pkg/domain-errors"
	"openconsent/pkg/platform/sentinel"
)

type ConsentRepositorySuite struct {
	suite.Suite
	ctx   context.Context
	store *Memory
	repo  *ConsentRepository
}

func TestConsentRepositorySuite(t *testing.T) {
	suite.Run(t, new(ConsentRepositorySuite))
}

func (s *ConsentRepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewMemory(testCipher(s.T()))
	s.repo = NewConsentRepository(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *ConsentRepositorySuite) newConsent() *models.Consent {
	now := time.Now().UTC()
	consent, err := models.New(domain.NewConsentID(), "cust-1", "bank-a",
		[]domain.ConsentScope{domain.ScopeAccountInfo, domain.ScopeBalances},
		domain.PurposeAccountAggregation, now, now.Add(24*time.Hour))
	s.Require().NoError(err)
	return consent
}

func (s *ConsentRepositorySuite) TestSaveThenLoadRoundTrips() {
	consent := s.newConsent()
	s.Require().NoError(consent.Authorize(time.Now().UTC(), models.AuthorizationContext{Method: "SCA"}))

	envelopes, err := s.repo.Save(s.ctx, consent, Metadata{CorrelationID: "corr-1"})
	s.Require().NoError(err)
	s.Require().Len(envelopes, 2)

	loaded, err := s.repo.Load(s.ctx, consent.ID)
	s.Require().NoError(err)
	s.Equal(consent.ID, loaded.ID)
	s.Equal(models.StatusAuthorized, loaded.Status)
	s.Equal(int64(2), loaded.Version())
	s.Equal(int64(2), loaded.CommittedVersion())
}

func (s *ConsentRepositorySuite) TestLoadUnknownConsentNotFound() {
	_, err := s.repo.Load(s.ctx, domain.NewConsentID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ConsentRepositorySuite) TestSaveWithNoPendingEventsIsNoop() {
	consent := s.newConsent()
	_, err := s.repo.Save(s.ctx, consent, Metadata{})
	s.Require().NoError(err)

	loaded, err := s.repo.Load(s.ctx, consent.ID)
	s.Require().NoError(err)

	envelopes, err := s.repo.Save(s.ctx, loaded, Metadata{})
	s.Require().NoError(err)
	s.Nil(envelopes)
}

func (s *ConsentRepositorySuite) TestStaleSaveConflicts() {
	consent := s.newConsent()
	_, err := s.repo.Save(s.ctx, consent, Metadata{})
	s.Require().NoError(err)

	first, err := s.repo.Load(s.ctx, consent.ID)
	s.Require().NoError(err)
	second, err := s.repo.Load(s.ctx, consent.ID)
	s.Require().NoError(err)

	now := time.Now().UTC()
	s.Require().NoError(first.Authorize(now, models.AuthorizationContext{Method: "SCA"}))
	_, err = s.repo.Save(s.ctx, first, Metadata{})
	s.Require().NoError(err)

	s.Require().NoError(second.Revoke(now, "customer request", "cust-1"))
	_, err = s.repo.Save(s.ctx, second, Metadata{})
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrVersionConflict)
}

func (s *ConsentRepositorySuite) TestSnapshotTakenAndUsed() {
	consent := s.newConsent()
	now := time.Now().UTC()
	s.Require().NoError(consent.Authorize(now, models.AuthorizationContext{Method: "SCA"}))
	usage := models.UsageContext{Scope: domain.ScopeAccountInfo}
	for i := 0; i < 8; i++ {
		s.Require().NoError(consent.RecordUsage(now, usage, 0))
	}

	_, err := s.repo.Save(s.ctx, consent, Metadata{})
	s.Require().NoError(err)

	snap, ok := s.store.snapshots[consent.ID.String()]
	s.Require().True(ok, "10 committed events trigger a snapshot")
	s.Equal(int64(10), snap.Sequence)

	loaded, err := s.repo.Load(s.ctx, consent.ID)
	s.Require().NoError(err)
	s.Equal(8, loaded.UsageCount)
	s.Equal(int64(10), loaded.Version())
}

func (s *ConsentRepositorySuite) TestCorruptSnapshotFallsBackToReplay() {
	consent := s.newConsent()
	now := time.Now().UTC()
	s.Require().NoError(consent.Authorize(now, models.AuthorizationContext{Method: "SCA"}))
	_, err := s.repo.Save(s.ctx, consent, Metadata{})
	s.Require().NoError(err)

	s.store.snapshots[consent.ID.String()] = Snapshot{
		AggregateID: consent.ID.String(),
		Sequence:    1,
		State:       []byte("{not json"),
		CreatedAt:   now,
	}

	loaded, err := s.repo.Load(s.ctx, consent.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAuthorized, loaded.Status)
	s.Equal(int64(2), loaded.Version())
}
