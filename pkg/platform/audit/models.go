// Package audit captures the compliance trail of consent lifecycle actions.
// Entries are redacted before they leave domain code: customer identifiers
// are hashed, raw payloads never recorded.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"openconsent/pkg/domain"
)

// Action identifies what happened.
type Action string

const (
	ActionConsentCreated       Action = "consent_created"
	ActionConsentAuthorized    Action = "consent_authorized"
	ActionConsentRevoked       Action = "consent_revoked"
	ActionConsentUsed          Action = "consent_used"
	ActionConsentExpired       Action = "consent_expired"
	ActionParticipantValidated Action = "participant_validated"
	ActionProjectionApplied    Action = "projection_applied"
	ActionProjectionRebuilt    Action = "projection_rebuilt"
)

// Entry is one redacted audit record. Keep it transport-agnostic so stores
// and sinks can fan out.
type Entry struct {
	Timestamp      time.Time
	Action         Action
	ConsentID      domain.ConsentID
	CustomerIDHash string
	ParticipantID  domain.ParticipantID
	Decision       string
	Reason         string
	RequestID      string
	Sequence       int64
}

// HashCustomerID produces the stored form of a customer identifier. The raw
// value never reaches the audit trail.
func HashCustomerID(id domain.CustomerID) string {
	if id.IsZero() {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
