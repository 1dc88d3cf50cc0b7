package models

import (
	"time"

	"openconsent/pkg/domain"
	dErrors "openconsent/pkg/domain-errors"
)

// Status is the lifecycle state of a consent. It is a pure function of the
// ordered event history: the only way to move between states is to raise an
// event and fold it through apply.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusRevoked    Status = "REVOKED"
	StatusExpired    Status = "EXPIRED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

// AuthorizationContext captures how the customer approved the consent.
type AuthorizationContext struct {
	Method    string
	IPAddress string
	UserAgent string
}

// UsageContext captures a single data access under an authorized consent.
type UsageContext struct {
	Scope     domain.ConsentScope
	IPAddress string
	UserAgent string
}

// Consent is the aggregate root and the unit of optimistic concurrency. It is
// reconstructed from its event history and mutated only by raising new events;
// fields are exported for read access but callers must treat them as frozen.
type Consent struct {
	ID            domain.ConsentID
	CustomerID    domain.CustomerID
	ParticipantID domain.ParticipantID
	Scopes        []domain.ConsentScope
	Purpose       domain.ConsentPurpose
	Status        Status

	CreatedAt        time.Time
	ExpiresAt        time.Time
	AuthorizedAt     *time.Time
	RevokedAt        *time.Time
	RevocationReason string
	UsageCount       int

	version int64
	pending []Event
}

// New creates a consent in PENDING state and raises ConsentCreated.
//
// Errors: CodeValidation when a required field is missing or the validity
// window is inverted. No side effects on failure.
func New(id domain.ConsentID, customerID domain.CustomerID, participantID domain.ParticipantID,
	scopes []domain.ConsentScope, purpose domain.ConsentPurpose, now, expiresAt time.Time) (*Consent, error) {

	switch {
	case id.IsNil():
		return nil, dErrors.New(dErrors.CodeValidation, "consent id is required")
	case customerID.IsZero():
		return nil, dErrors.New(dErrors.CodeValidation, "customer id is required")
	case participantID.IsZero():
		return nil, dErrors.New(dErrors.CodeValidation, "participant id is required")
	case len(scopes) == 0:
		return nil, dErrors.New(dErrors.CodeValidation, "at least one scope is required")
	case !purpose.IsValid():
		return nil, dErrors.New(dErrors.CodeValidation, "purpose is required")
	case !expiresAt.After(now):
		return nil, dErrors.New(dErrors.CodeValidation, "expiry must be after creation")
	}

	c := &Consent{}
	c.raise(&ConsentCreated{
		ConsentID:     id,
		CustomerID:    customerID,
		ParticipantID: participantID,
		Scopes:        scopes,
		Purpose:       purpose,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	})
	return c, nil
}

// FromHistory reconstructs a consent by folding its ordered event history.
// Folding the same history twice always yields identical state.
func FromHistory(history []Envelope) (*Consent, error) {
	if len(history) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "consent has no event history")
	}
	c := &Consent{}
	for _, env := range history {
		if err := c.apply(env.Event); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Authorize moves a PENDING consent to AUTHORIZED.
//
// Errors: CodeAlreadyRevoked when revoked; CodeInvalidTransition from any
// other non-pending state.
func (c *Consent) Authorize(now time.Time, authCtx AuthorizationContext) error {
	switch c.Status {
	case StatusPending:
	case StatusRevoked:
		return dErrors.New(dErrors.CodeAlreadyRevoked, "consent is revoked")
	default:
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot authorize consent in state %s", c.Status)
	}
	if c.IsExpired(now) {
		return dErrors.New(dErrors.CodeInvalidTransition, "cannot authorize an expired consent")
	}

	c.raise(&ConsentAuthorized{
		ConsentID:    c.ID,
		AuthorizedAt: now,
		Method:       authCtx.Method,
		IPAddress:    authCtx.IPAddress,
		UserAgent:    authCtx.UserAgent,
	})
	return nil
}

// Revoke moves a PENDING or AUTHORIZED consent to REVOKED. Revocation is
// one-way.
//
// Errors: CodeAlreadyRevoked when already revoked; CodeInvalidTransition when
// expired; CodeValidation when the reason is empty.
func (c *Consent) Revoke(now time.Time, reason, revokedBy string) error {
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "revocation reason is required")
	}
	switch c.Status {
	case StatusPending, StatusAuthorized:
	case StatusRevoked:
		return dErrors.New(dErrors.CodeAlreadyRevoked, "consent is already revoked")
	default:
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot revoke consent in state %s", c.Status)
	}

	c.raise(&ConsentRevoked{
		ConsentID: c.ID,
		RevokedAt: now,
		Reason:    reason,
		RevokedBy: revokedBy,
	})
	return nil
}

// RecordUsage registers one data access. Valid only while AUTHORIZED and not
// past expiry; increments usage by exactly 1. A usageCap > 0 bounds cumulative
// usage; the cap check and the raise happen in the same call so the service
// can serialize read-modify-append per aggregate.
//
// Errors: CodeConsentNotActive when not authorized or expired; CodeConflict
// when the cumulative usage cap is exhausted.
func (c *Consent) RecordUsage(now time.Time, uCtx UsageContext, usageCap int) error {
	if c.Status != StatusAuthorized {
		return dErrors.Newf(dErrors.CodeConsentNotActive,
			"cannot record usage on consent in state %s", c.Status)
	}
	if c.IsExpired(now) {
		return dErrors.New(dErrors.CodeConsentNotActive, "consent has expired")
	}
	if usageCap > 0 && c.UsageCount >= usageCap {
		return dErrors.Newf(dErrors.CodeConflict, "usage cap of %d exhausted", usageCap)
	}

	c.raise(&ConsentUsed{
		ConsentID: c.ID,
		UsedAt:    now,
		Scope:     uCtx.Scope,
		IPAddress: uCtx.IPAddress,
		UserAgent: uCtx.UserAgent,
	})
	return nil
}

// Expire moves a consent past its validity window to EXPIRED. Driven by the
// cleanup sweeper through the normal event path.
//
// Errors: CodeInvalidTransition when terminal or not yet past expiry.
func (c *Consent) Expire(now time.Time) error {
	if c.Status.Terminal() {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"cannot expire consent in state %s", c.Status)
	}
	if !c.IsExpired(now) {
		return dErrors.New(dErrors.CodeInvalidTransition, "consent is not past expiry")
	}

	c.raise(&ConsentExpired{ConsentID: c.ID, ExpiredAt: now})
	return nil
}

// IsExpired reports whether now is past the validity window.
func (c *Consent) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Active reports whether usage may currently be recorded.
func (c *Consent) Active(now time.Time) bool {
	return c.Status == StatusAuthorized && !c.IsExpired(now)
}

// Version is the count of applied events, including uncommitted ones.
func (c *Consent) Version() int64 { return c.version }

// CommittedVersion is the version the event store last confirmed; used as the
// expected version for the next append.
func (c *Consent) CommittedVersion() int64 { return c.version - int64(len(c.pending)) }

// PullEvents drains and returns the uncommitted events in raise order.
func (c *Consent) PullEvents() []Event {
	events := c.pending
	c.pending = nil
	return events
}

// raise applies a new event and records it as uncommitted. apply cannot fail
// for events produced by the aggregate itself.
func (c *Consent) raise(event Event) {
	if err := c.apply(event); err != nil {
		panic("consent: raised event failed to apply: " + err.Error())
	}
	c.pending = append(c.pending, event)
}

// apply is the sole state-mutation primitive, used identically for new events
// and historical replay. It must stay free of validation: by the time an
// event exists, the decision was already made.
func (c *Consent) apply(event Event) error {
	switch e := event.(type) {
	case *ConsentCreated:
		c.ID = e.ConsentID
		c.CustomerID = e.CustomerID
		c.ParticipantID = e.ParticipantID
		c.Scopes = append([]domain.ConsentScope(nil), e.Scopes...)
		c.Purpose = e.Purpose
		c.Status = StatusPending
		c.CreatedAt = e.CreatedAt
		c.ExpiresAt = e.ExpiresAt
	case *ConsentAuthorized:
		c.Status = StatusAuthorized
		at := e.AuthorizedAt
		c.AuthorizedAt = &at
	case *ConsentRevoked:
		c.Status = StatusRevoked
		at := e.RevokedAt
		c.RevokedAt = &at
		c.RevocationReason = e.Reason
	case *ConsentUsed:
		c.UsageCount++
	case *ConsentExpired:
		c.Status = StatusExpired
	default:
		return &UnknownEventKindError{Kind: event.Kind()}
	}
	c.version++
	return nil
}
