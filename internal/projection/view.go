// Package projection maintains the read models derived from the event
// stream: the consent view queried by APIs and the sweeper, per-access usage
// analytics, and the participant directory view. Rows are updated strictly
// after the authoritative append, so reads here are eventually consistent.
package projection

import (
	"context"
	"time"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
)

// ConsentView is one denormalized read-model row per consent aggregate.
// Version carries the sequence number of the last applied event, which makes
// redelivered events idempotent: a store ignores any write whose version is
// not ahead of the stored one.
type ConsentView struct {
	ConsentID        string
	CustomerID       domain.CustomerID
	ParticipantID    domain.ParticipantID
	Scopes           []domain.ConsentScope
	Purpose          domain.ConsentPurpose
	Status           models.Status
	Version          int64
	UsageCount       int
	CreatedAt        time.Time
	ExpiresAt        time.Time
	AuthorizedAt     *time.Time
	RevokedAt        *time.Time
	RevocationReason string
	UpdatedAt        time.Time
}

// UsageRecord is one analytics row per recorded data access, with client
// details parsed out of the raw user agent.
type UsageRecord struct {
	ConsentID      string
	Sequence       int64
	UsedAt         time.Time
	Scope          domain.ConsentScope
	IPAddress      string
	Browser        string
	BrowserVersion string
	OS             string
	Device         string
}

// ParticipantView is the directory read model, fed by onboarding and
// validation events.
type ParticipantView struct {
	ParticipantID    domain.ParticipantID
	LegalName        string
	Role             string
	OnboardedAt      time.Time
	LastValidatedAt  time.Time
	LastValidationOK bool
	Validations      int64
}

// Store persists the read models. Every consent mutation carries the event's
// sequence number; implementations must apply it only when it advances the
// row's version and must treat stale versions as a silent no-op. A mutation
// against a consent with no row returns sentinel.ErrNotFound so the caller
// can schedule a retry.
type Store interface {
	InsertConsent(ctx context.Context, view ConsentView) error
	GetConsent(ctx context.Context, consentID string) (ConsentView, error)
	MarkAuthorized(ctx context.Context, consentID string, at time.Time, version int64) error
	MarkRevoked(ctx context.Context, consentID string, at time.Time, reason string, version int64) error
	MarkExpired(ctx context.Context, consentID string, at time.Time, version int64) error

	// RecordUsage increments the view's usage counter and stores the
	// analytics row in one step.
	RecordUsage(ctx context.Context, rec UsageRecord) error
	ListUsage(ctx context.Context, consentID string) ([]UsageRecord, error)

	ListByCustomer(ctx context.Context, customerID domain.CustomerID) ([]ConsentView, error)
	ListByParticipant(ctx context.Context, participantID domain.ParticipantID) ([]ConsentView, error)
	ListByStatus(ctx context.Context, status models.Status) ([]ConsentView, error)

	// ListExpired returns PENDING and AUTHORIZED consents whose expiry lies
	// at or before asOf, oldest first, capped at limit. The sweeper's scan.
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]ConsentView, error)

	UpsertParticipant(ctx context.Context, p ParticipantView) error
	GetParticipant(ctx context.Context, id domain.ParticipantID) (ParticipantView, error)
	RecordValidation(ctx context.Context, id domain.ParticipantID, at time.Time, ok bool) error

	// DeleteConsent removes the view row and its usage records; Reset clears
	// every read model. Both exist for rebuilds.
	DeleteConsent(ctx context.Context, consentID string) error
	Reset(ctx context.Context) error
}

// ConsistencyReport is the outcome of comparing the read model against state
// folded from the event log.
type ConsistencyReport struct {
	CheckedAt  time.Time
	Aggregates int
	Missing    []string
	Drifts     []Drift
}

// Drift is one field-level disagreement between the event log and a view row.
type Drift struct {
	ConsentID string
	Field     string
	Expected  string
	Actual    string
}

// Consistent reports whether the check found no missing rows and no drift.
func (r ConsistencyReport) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Drifts) == 0
}
