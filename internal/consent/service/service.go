// Package service orchestrates the consent lifecycle across the event store,
// the participant directory, the cache, and the event bus.
//
// Every command runs in two explicit phases. The decide phase validates,
// applies the domain transition, and appends events; any failure there aborts
// the command with nothing persisted beyond prior state. The announce phase
// (publication, cache, metrics, audit) runs strictly after the append and is
// best-effort: once events are committed the outcome is final and no announce
// failure rolls it back.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"openconsent/internal/consent/cache"
	"openconsent/internal/consent/metrics"
	"openconsent/internal/consent/models"
	"openconsent/internal/consent/publisher"
	"openconsent/internal/eventstore"
	"openconsent/internal/participant"
	"openconsent/pkg/domain"
	dErrors "openconsent/pkg/domain-errors"
	audit "openconsent/pkg/platform/audit"
)

// Repository loads and saves consent aggregates.
type Repository interface {
	Load(ctx context.Context, id domain.ConsentID) (*models.Consent, error)
	Save(ctx context.Context, consent *models.Consent, meta eventstore.Metadata) ([]models.Envelope, error)
}

// Deps carries the service's collaborators.
type Deps struct {
	Repository Repository
	Store      eventstore.Store
	Directory  participant.Directory
	Cache      cache.Cache
	Bus        publisher.Publisher
	Audit      *audit.Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// UsageCap bounds cumulative usage per consent; 0 disables the cap.
	UsageCap int
}

// Service is the consent saga orchestrator.
type Service struct {
	repo      Repository
	store     eventstore.Store
	directory participant.Directory
	cache     cache.Cache
	bus       publisher.Publisher
	audit     *audit.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	usageCap  int

	locks aggregateLocks
}

func New(deps Deps) *Service {
	return &Service{
		repo:      deps.Repository,
		store:     deps.Store,
		directory: deps.Directory,
		cache:     deps.Cache,
		bus:       deps.Bus,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("openconsent/consent"),
		logger:    deps.Logger,
		usageCap:  deps.UsageCap,
	}
}

// CreateRequest carries everything needed to create a consent.
type CreateRequest struct {
	CustomerID    domain.CustomerID
	ParticipantID domain.ParticipantID
	Scopes        []domain.ConsentScope
	Purpose       domain.ConsentPurpose
	ValidityDays  int
	RequestID     string
}

// Create validates the request and the participant, then persists a new
// PENDING consent.
//
// Errors: CodeValidation on bad input, CodeParticipantValidation when the
// directory rejects the participant or cannot answer in time.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Consent, error) {
	ctx, span := s.tracer.Start(ctx, "consent.create")
	defer span.End()

	consent, verdict, err := s.decideCreate(ctx, req)
	if err != nil {
		return nil, err
	}

	envelopes, err := s.repo.Save(ctx, consent, eventstore.Metadata{CorrelationID: req.RequestID})
	if err != nil {
		return nil, s.translateStoreErr(err)
	}

	s.announceCreate(ctx, consent, envelopes, verdict, req.RequestID)
	return consent, nil
}

func (s *Service) decideCreate(ctx context.Context, req CreateRequest) (*models.Consent, participant.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "consent.create.decide")
	defer span.End()

	validityDays := req.ValidityDays
	if validityDays == 0 {
		validityDays = req.Purpose.RecommendedValidityDays()
	}
	if validityDays < 0 || validityDays > domain.MaxValidityDays {
		return nil, participant.ValidationResult{}, dErrors.Newf(dErrors.CodeValidation,
			"validity must be between 1 and %d days", domain.MaxValidityDays)
	}

	verdict, err := s.directory.Validate(ctx, req.ParticipantID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeParticipantValidation) {
			return nil, verdict, err
		}
		// Directory timeouts and transport failures resolve to a validation
		// failure; consent creation never blocks on the registry.
		return nil, verdict, dErrors.Wrap(err, dErrors.CodeParticipantValidation,
			"participant validation failed")
	}
	if !verdict.Valid {
		return nil, verdict, dErrors.Newf(dErrors.CodeParticipantValidation,
			"participant %s rejected: %s", req.ParticipantID, verdict.Reason)
	}

	now := time.Now().UTC()
	consent, err := models.New(domain.NewConsentID(), req.CustomerID, req.ParticipantID,
		req.Scopes, req.Purpose, now, now.AddDate(0, 0, validityDays))
	if err != nil {
		return nil, verdict, err
	}
	return consent, verdict, nil
}

func (s *Service) announceCreate(ctx context.Context, consent *models.Consent,
	envelopes []models.Envelope, verdict participant.ValidationResult, requestID string) {

	ctx, span := s.tracer.Start(ctx, "consent.create.announce")
	defer span.End()

	s.recordParticipantValidation(ctx, verdict, requestID)
	s.publishAll(ctx, envelopes)
	s.cache.Put(ctx, consent)
	s.metrics.Created.Inc()
	s.audit.Emit(audit.Entry{
		Action:         audit.ActionConsentCreated,
		ConsentID:      consent.ID,
		CustomerIDHash: audit.HashCustomerID(consent.CustomerID),
		ParticipantID:  consent.ParticipantID,
		Decision:       "created",
		RequestID:      requestID,
		Sequence:       consent.Version(),
	})
}

// AuthorizeRequest carries the customer's approval context.
type AuthorizeRequest struct {
	ConsentID domain.ConsentID
	Context   models.AuthorizationContext
	RequestID string
}

// Authorize moves a PENDING consent to AUTHORIZED.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*models.Consent, error) {
	ctx, span := s.tracer.Start(ctx, "consent.authorize")
	defer span.End()

	consent, err := s.load(ctx, req.ConsentID)
	if err != nil {
		return nil, err
	}
	if err := consent.Authorize(time.Now().UTC(), req.Context); err != nil {
		return nil, err
	}

	envelopes, err := s.repo.Save(ctx, consent, eventstore.Metadata{CorrelationID: req.RequestID})
	if err != nil {
		return nil, s.translateStoreErr(err)
	}

	s.publishAll(ctx, envelopes)
	s.cache.Put(ctx, consent)
	s.metrics.Authorized.Inc()
	s.audit.Emit(audit.Entry{
		Action:         audit.ActionConsentAuthorized,
		ConsentID:      consent.ID,
		CustomerIDHash: audit.HashCustomerID(consent.CustomerID),
		ParticipantID:  consent.ParticipantID,
		Decision:       "authorized",
		RequestID:      req.RequestID,
		Sequence:       consent.Version(),
	})
	return consent, nil
}

// RevokeRequest carries the revocation intent.
type RevokeRequest struct {
	ConsentID domain.ConsentID
	Reason    string
	RevokedBy string
	RequestID string
}

// Revoke permanently revokes a consent. The revocation event goes out with
// elevated priority and the cache entry is evicted unconditionally, even when
// downstream notification fails.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) (*models.Consent, error) {
	ctx, span := s.tracer.Start(ctx, "consent.revoke")
	defer span.End()

	consent, err := s.load(ctx, req.ConsentID)
	if err != nil {
		return nil, err
	}
	if err := consent.Revoke(time.Now().UTC(), req.Reason, req.RevokedBy); err != nil {
		return nil, err
	}

	envelopes, err := s.repo.Save(ctx, consent, eventstore.Metadata{CorrelationID: req.RequestID})
	if err != nil {
		return nil, s.translateStoreErr(err)
	}

	s.announceRevoke(ctx, consent, envelopes, req.RequestID)
	return consent, nil
}

func (s *Service) announceRevoke(ctx context.Context, consent *models.Consent,
	envelopes []models.Envelope, requestID string) {

	ctx, span := s.tracer.Start(ctx, "consent.revoke.announce")
	defer span.End()

	for _, env := range envelopes {
		if err := s.bus.PublishRevocation(ctx, env); err != nil {
			s.metrics.PublishFailures.Inc()
			s.logger.Error("revocation publish failed",
				"consent_id", env.AggregateID, "sequence", env.Sequence, "error", err)
		}
	}

	notice := participant.RevocationNotice{
		ConsentID: consent.ID,
		Reason:    consent.RevocationReason,
	}
	if consent.RevokedAt != nil {
		notice.RevokedAt = *consent.RevokedAt
	}
	if err := s.directory.NotifyRevoked(ctx, consent.ParticipantID, notice); err != nil {
		s.logger.Warn("participant revocation notice failed",
			"consent_id", consent.ID, "participant_id", consent.ParticipantID, "error", err)
	}

	// Evict regardless of publish and notify outcome so no reader sees the
	// old state.
	if err := s.cache.Evict(ctx, consent.ID); err != nil {
		s.logger.Error("cache evict failed after revoke", "consent_id", consent.ID, "error", err)
	}

	s.metrics.Revoked.Inc()
	s.audit.Emit(audit.Entry{
		Action:         audit.ActionConsentRevoked,
		ConsentID:      consent.ID,
		CustomerIDHash: audit.HashCustomerID(consent.CustomerID),
		ParticipantID:  consent.ParticipantID,
		Decision:       "revoked",
		Reason:         consent.RevocationReason,
		RequestID:      requestID,
		Sequence:       consent.Version(),
	})
}

// UsageRequest carries one data-access record.
type UsageRequest struct {
	ConsentID domain.ConsentID
	Context   models.UsageContext
	RequestID string
}

// RecordUsage registers a data access. The read-modify-append sequence runs
// inside a per-aggregate critical section so the cumulative usage cap is
// enforced deterministically when requests arrive simultaneously.
//
// Errors: CodeConsentNotActive, CodeConflict when the cap is exhausted,
// CodeVersionConflict (retryable) when another writer raced this instance.
func (s *Service) RecordUsage(ctx context.Context, req UsageRequest) (*models.Consent, error) {
	ctx, span := s.tracer.Start(ctx, "consent.record_usage")
	defer span.End()

	unlock := s.locks.lock(req.ConsentID)
	defer unlock()

	// Authoritative read: the cap decision must see the latest committed
	// usage count, so the cache is not consulted here.
	consent, err := s.repo.Load(ctx, req.ConsentID)
	if err != nil {
		return nil, err
	}
	if err := consent.RecordUsage(time.Now().UTC(), req.Context, s.usageCap); err != nil {
		return nil, err
	}

	envelopes, err := s.repo.Save(ctx, consent, eventstore.Metadata{CorrelationID: req.RequestID})
	if err != nil {
		return nil, s.translateStoreErr(err)
	}

	s.publishAll(ctx, envelopes)
	s.cache.Put(ctx, consent)
	s.metrics.Used.Inc()
	s.audit.Emit(audit.Entry{
		Action:         audit.ActionConsentUsed,
		ConsentID:      consent.ID,
		CustomerIDHash: audit.HashCustomerID(consent.CustomerID),
		ParticipantID:  consent.ParticipantID,
		Decision:       "used",
		RequestID:      req.RequestID,
		Sequence:       consent.Version(),
	})
	return consent, nil
}

// Expire drives a consent past its validity window through the normal event
// path. Called by the cleanup sweeper.
func (s *Service) Expire(ctx context.Context, id domain.ConsentID) error {
	ctx, span := s.tracer.Start(ctx, "consent.expire")
	defer span.End()

	consent, err := s.repo.Load(ctx, id)
	if err != nil {
		return err
	}
	if err := consent.Expire(time.Now().UTC()); err != nil {
		return err
	}

	envelopes, err := s.repo.Save(ctx, consent, eventstore.Metadata{})
	if err != nil {
		return s.translateStoreErr(err)
	}

	s.publishAll(ctx, envelopes)
	if err := s.cache.Evict(ctx, id); err != nil {
		s.logger.Warn("cache evict failed after expire", "consent_id", id, "error", err)
	}
	s.metrics.Expired.Inc()
	s.audit.Emit(audit.Entry{
		Action:         audit.ActionConsentExpired,
		ConsentID:      consent.ID,
		CustomerIDHash: audit.HashCustomerID(consent.CustomerID),
		ParticipantID:  consent.ParticipantID,
		Decision:       "expired",
		Sequence:       consent.Version(),
	})
	return nil
}

// Get returns the consent, serving from cache when possible and falling back
// to event replay.
func (s *Service) Get(ctx context.Context, id domain.ConsentID) (*models.Consent, error) {
	if consent, ok := s.cache.Get(ctx, id); ok {
		s.metrics.CacheHits.Inc()
		return consent, nil
	}
	s.metrics.CacheMisses.Inc()

	consent, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, consent)
	return consent, nil
}

// load is the shared cache-then-replay read used by command flows.
func (s *Service) load(ctx context.Context, id domain.ConsentID) (*models.Consent, error) {
	if consent, ok := s.cache.Get(ctx, id); ok {
		s.metrics.CacheHits.Inc()
		return consent, nil
	}
	s.metrics.CacheMisses.Inc()
	return s.repo.Load(ctx, id)
}

func (s *Service) publishAll(ctx context.Context, envelopes []models.Envelope) {
	for _, env := range envelopes {
		if err := s.bus.Publish(ctx, env); err != nil {
			s.metrics.PublishFailures.Inc()
			s.logger.Error("event publish failed",
				"consent_id", env.AggregateID, "sequence", env.Sequence, "error", err)
		}
	}
}

// recordParticipantValidation appends the directory verdict to the
// participant's own stream. Best-effort: a failure here never touches the
// consent outcome.
func (s *Service) recordParticipantValidation(ctx context.Context,
	verdict participant.ValidationResult, requestID string) {

	if verdict.ParticipantID.IsZero() {
		return
	}
	streamID := verdict.ParticipantID.String()
	current, err := s.store.CurrentVersion(ctx, streamID)
	if err != nil {
		s.logger.Warn("participant stream version read failed",
			"participant_id", streamID, "error", err)
		return
	}
	event := &models.ParticipantValidated{
		ParticipantID: verdict.ParticipantID,
		Valid:         verdict.Valid,
		Reason:        verdict.Reason,
		ValidatedAt:   verdict.ValidatedAt,
	}
	_, err = s.store.Append(ctx, streamID, models.AggregateTypeParticipant,
		[]models.Event{event}, current, eventstore.Metadata{CorrelationID: requestID})
	if err != nil {
		s.logger.Warn("participant validation append failed",
			"participant_id", streamID, "error", err)
	}
}

func (s *Service) translateStoreErr(err error) error {
	var conflict *eventstore.VersionConflictError
	if errors.As(err, &conflict) {
		s.metrics.VersionConflicts.Inc()
		return dErrors.Wrap(err, dErrors.CodeVersionConflict,
			"consent was modified concurrently, reload and retry")
	}
	return err
}
