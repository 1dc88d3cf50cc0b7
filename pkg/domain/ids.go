// Package domain holds typed identifiers and small value objects shared across
// bounded contexts. Typed IDs make cross-type assignment a compile error.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "openconsent/pkg/domain-errors"
)

// ConsentID identifies a consent aggregate. Generated at creation, opaque to
// callers, never reused.
type ConsentID uuid.UUID

// NewConsentID generates a fresh consent identifier.
func NewConsentID() ConsentID {
	return ConsentID(uuid.New())
}

// ParseConsentID constructs a ConsentID from external input.
//
// Errors: returns CodeInvalidInput when the value is empty, malformed, or the
// nil UUID; no other errors are expected.
func ParseConsentID(s string) (ConsentID, error) {
	u, err := parseUUID(s, "consent id")
	if err != nil {
		return ConsentID{}, err
	}
	return ConsentID(u), nil
}

func (id ConsentID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the identifier is the zero UUID.
func (id ConsentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText serializes the identifier as its canonical UUID string so JSON
// payloads carry "xxxx-..." rather than a byte array.
func (id ConsentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical UUID string form.
func (id *ConsentID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid consent id")
	}
	*id = ConsentID(u)
	return nil
}

// CustomerID identifies the customer who owns the data being shared. Customer
// identifiers are issued by the customer platform, so the value is opaque text
// rather than a UUID.
type CustomerID string

// ParseCustomerID constructs a CustomerID from external input.
func ParseCustomerID(s string) (CustomerID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "customer id cannot be empty")
	}
	return CustomerID(s), nil
}

func (id CustomerID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id CustomerID) IsZero() bool { return id == "" }

// ParticipantID identifies a data-receiving participant registered in the
// central participant directory.
type ParticipantID string

// ParseParticipantID constructs a ParticipantID from external input.
func ParseParticipantID(s string) (ParticipantID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "participant id cannot be empty")
	}
	return ParticipantID(s), nil
}

func (id ParticipantID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ParticipantID) IsZero() bool { return id == "" }

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be the nil uuid")
	}
	return u, nil
}
