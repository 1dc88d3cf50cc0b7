package models

import (
	"encoding/json"
	"fmt"
	"time"

	"openconsent/pkg/domain"
)

// Aggregate types recorded in event envelopes.
const (
	AggregateTypeConsent     = "consent"
	AggregateTypeParticipant = "participant"
)

// EventKind names a concrete domain event. The set is closed: decoding an
// unknown kind is a typed error, never a silent skip.
type EventKind string

const (
	KindConsentCreated       EventKind = "consent.created"
	KindConsentAuthorized    EventKind = "consent.authorized"
	KindConsentRevoked       EventKind = "consent.revoked"
	KindConsentUsed          EventKind = "consent.used"
	KindConsentExpired       EventKind = "consent.expired"
	KindParticipantValidated EventKind = "participant.validated"
	KindParticipantOnboarded EventKind = "participant.onboarded"
)

// Event is a domain event payload. Events are pure data; appending them to
// the store and folding them through Consent.apply is the only way state
// changes.
type Event interface {
	Kind() EventKind
}

// Envelope wraps an event with the metadata persisted alongside it. Sequence
// numbers are assigned by the event store at append time and are gapless and
// strictly increasing per aggregate.
type Envelope struct {
	AggregateID   string    `json:"aggregate_id"`
	AggregateType string    `json:"aggregate_type"`
	Sequence      int64     `json:"sequence"`
	OccurredAt    time.Time `json:"occurred_at"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"`
	Event         Event     `json:"-"`
}

// Kind returns the kind of the wrapped event.
func (e Envelope) Kind() EventKind { return e.Event.Kind() }

// ConsentCreated is emitted when a consent enters the system in PENDING state.
type ConsentCreated struct {
	ConsentID     domain.ConsentID      `json:"consent_id"`
	CustomerID    domain.CustomerID     `json:"customer_id"`
	ParticipantID domain.ParticipantID  `json:"participant_id"`
	Scopes        []domain.ConsentScope `json:"scopes"`
	Purpose       domain.ConsentPurpose `json:"purpose"`
	CreatedAt     time.Time             `json:"created_at"`
	ExpiresAt     time.Time             `json:"expires_at"`
}

func (ConsentCreated) Kind() EventKind { return KindConsentCreated }

// ConsentAuthorized is emitted when the customer approves a pending consent.
type ConsentAuthorized struct {
	ConsentID    domain.ConsentID `json:"consent_id"`
	AuthorizedAt time.Time        `json:"authorized_at"`
	Method       string           `json:"method,omitempty"`
	IPAddress    string           `json:"ip_address,omitempty"`
	UserAgent    string           `json:"user_agent,omitempty"`
}

func (ConsentAuthorized) Kind() EventKind { return KindConsentAuthorized }

// ConsentRevoked is emitted when a consent is withdrawn. Revocation is
// one-way: a revoked consent never transitions again.
type ConsentRevoked struct {
	ConsentID domain.ConsentID `json:"consent_id"`
	RevokedAt time.Time        `json:"revoked_at"`
	Reason    string           `json:"reason"`
	RevokedBy string           `json:"revoked_by,omitempty"`
}

func (ConsentRevoked) Kind() EventKind { return KindConsentRevoked }

// ConsentUsed is emitted each time a participant accesses data under an
// authorized consent.
type ConsentUsed struct {
	ConsentID domain.ConsentID    `json:"consent_id"`
	UsedAt    time.Time           `json:"used_at"`
	Scope     domain.ConsentScope `json:"scope"`
	IPAddress string              `json:"ip_address,omitempty"`
	UserAgent string              `json:"user_agent,omitempty"`
}

func (ConsentUsed) Kind() EventKind { return KindConsentUsed }

// ConsentExpired is emitted by the cleanup sweeper when a consent passes its
// expiry without being revoked.
type ConsentExpired struct {
	ConsentID domain.ConsentID `json:"consent_id"`
	ExpiredAt time.Time        `json:"expired_at"`
}

func (ConsentExpired) Kind() EventKind { return KindConsentExpired }

// ParticipantValidated is emitted after a directory check of a participant,
// successful or not.
type ParticipantValidated struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Valid         bool                 `json:"valid"`
	Reason        string               `json:"reason,omitempty"`
	ValidatedAt   time.Time            `json:"validated_at"`
}

func (ParticipantValidated) Kind() EventKind { return KindParticipantValidated }

// ParticipantOnboarded arrives from the participant directory platform when a
// new participant is registered. Consumed for the directory read model; never
// produced here.
type ParticipantOnboarded struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	LegalName     string               `json:"legal_name"`
	Role          string               `json:"role"`
	OnboardedAt   time.Time            `json:"onboarded_at"`
}

func (ParticipantOnboarded) Kind() EventKind { return KindParticipantOnboarded }

// UnknownEventKindError reports a persisted or received event whose kind is
// not in the closed registry. This is a fatal decode error: skipping it would
// silently corrupt replayed state.
type UnknownEventKindError struct {
	Kind EventKind
}

func (e *UnknownEventKindError) Error() string {
	return fmt.Sprintf("unknown event kind %q", e.Kind)
}

// eventRegistry is the closed set of decodable event kinds.
var eventRegistry = map[EventKind]func() Event{
	KindConsentCreated:       func() Event { return &ConsentCreated{} },
	KindConsentAuthorized:    func() Event { return &ConsentAuthorized{} },
	KindConsentRevoked:       func() Event { return &ConsentRevoked{} },
	KindConsentUsed:          func() Event { return &ConsentUsed{} },
	KindConsentExpired:       func() Event { return &ConsentExpired{} },
	KindParticipantValidated: func() Event { return &ParticipantValidated{} },
	KindParticipantOnboarded: func() Event { return &ParticipantOnboarded{} },
}

// DecodeEvent unmarshals an event payload by kind.
//
// Errors: *UnknownEventKindError for kinds outside the registry; otherwise a
// JSON unmarshal error.
func DecodeEvent(kind EventKind, data []byte) (Event, error) {
	proto, ok := eventRegistry[kind]
	if !ok {
		return nil, &UnknownEventKindError{Kind: kind}
	}
	event := proto()
	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return event, nil
}

// EncodeEvent marshals an event payload for storage or publication.
func EncodeEvent(event Event) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event.Kind(), err)
	}
	return data, nil
}

// SensitiveKinds lists event kinds whose payloads carry customer-identifying
// data and must be sealed before storage.
var SensitiveKinds = map[EventKind]bool{
	KindConsentCreated: true,
	KindConsentUsed:    true,
}
