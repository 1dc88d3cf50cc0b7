// Package domainerrors provides coded errors for the consent platform.
//
// Services and domain models return these so callers can branch on stable
// codes instead of string matching. Infrastructure facts (row missing, key
// already used) live in pkg/platform/sentinel; stores return sentinels and
// services translate them into coded errors at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure. Codes are part of the API contract:
// adding one is fine, renaming one is a breaking change.
type Code string

const (
	// CodeValidation marks bad input rejected before any side effect.
	CodeValidation Code = "validation"
	// CodeInvalidInput marks a single field that failed parsing at a trust boundary.
	CodeInvalidInput Code = "invalid_input"
	// CodeBadRequest marks a malformed request shape.
	CodeBadRequest Code = "bad_request"
	// CodeNotFound marks a missing aggregate or record.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a uniqueness or state conflict.
	CodeConflict Code = "conflict"
	// CodeVersionConflict marks an optimistic-concurrency loss. Retryable by
	// reloading the aggregate and resubmitting.
	CodeVersionConflict Code = "version_conflict"
	// CodeInvalidTransition marks a consent state-machine violation.
	CodeInvalidTransition Code = "invalid_state_transition"
	// CodeAlreadyRevoked marks a revoke against an already revoked consent.
	CodeAlreadyRevoked Code = "already_revoked"
	// CodeConsentNotActive marks usage recording against a consent that is not
	// currently authorized.
	CodeConsentNotActive Code = "consent_not_active"
	// CodeParticipantValidation marks a participant-directory rejection or
	// outage. Retryable.
	CodeParticipantValidation Code = "participant_validation_failed"
	// CodeConsistency marks drift detected between the event store and a read
	// model. Requires operator action.
	CodeConsistency Code = "consistency_violation"
	// CodeTimeout marks a deadline exceeded talking to a collaborator.
	CodeTimeout Code = "timeout"
	// CodeUnavailable marks a collaborator that is temporarily down.
	CodeUnavailable Code = "unavailable"
	// CodeInternal marks an unexpected failure.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Construct via New or Wrap.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. The cause stays
// reachable through errors.Is/errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// Is reports whether err carries any domain error.
func Is(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

// CodeOf returns the outermost code carried by err, or CodeInternal when err
// is not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to an HTTP status for the transport adapter.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeVersionConflict, CodeInvalidTransition,
		CodeAlreadyRevoked, CodeConsentNotActive:
		return http.StatusConflict
	case CodeParticipantValidation:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
