package models

import (
	"encoding/json"
	"time"

	"openconsent/pkg/domain"
	dErrors "openconsent/pkg/domain-errors"
)

// snapshotState is the serialized form of a consent at a point in its history.
// The version field lets restoration resume replay from the right sequence.
type snapshotState struct {
	ConsentID        domain.ConsentID      `json:"consentId"`
	CustomerID       domain.CustomerID     `json:"customerId"`
	ParticipantID    domain.ParticipantID  `json:"participantId"`
	Scopes           []domain.ConsentScope `json:"scopes"`
	Purpose          domain.ConsentPurpose `json:"purpose"`
	Status           Status                `json:"status"`
	CreatedAt        time.Time             `json:"createdAt"`
	ExpiresAt        time.Time             `json:"expiresAt"`
	AuthorizedAt     *time.Time            `json:"authorizedAt,omitempty"`
	RevokedAt        *time.Time            `json:"revokedAt,omitempty"`
	RevocationReason string                `json:"revocationReason,omitempty"`
	UsageCount       int                   `json:"usageCount"`
	Version          int64                 `json:"version"`
}

// Snapshot serializes the committed state. Calling it with uncommitted events
// pending is a programming error: the snapshot must describe a sequence the
// store has confirmed.
func (c *Consent) Snapshot() ([]byte, error) {
	if len(c.pending) > 0 {
		return nil, dErrors.New(dErrors.CodeInternal, "cannot snapshot consent with uncommitted events")
	}
	state := snapshotState{
		ConsentID:        c.ID,
		CustomerID:       c.CustomerID,
		ParticipantID:    c.ParticipantID,
		Scopes:           c.Scopes,
		Purpose:          c.Purpose,
		Status:           c.Status,
		CreatedAt:        c.CreatedAt,
		ExpiresAt:        c.ExpiresAt,
		AuthorizedAt:     c.AuthorizedAt,
		RevokedAt:        c.RevokedAt,
		RevocationReason: c.RevocationReason,
		UsageCount:       c.UsageCount,
		Version:          c.version,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal consent snapshot")
	}
	return data, nil
}

// FromSnapshot restores a consent from serialized state and folds the events
// recorded after it. The result is identical to replaying the full history.
func FromSnapshot(data []byte, tail []Envelope) (*Consent, error) {
	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "unmarshal consent snapshot")
	}
	c := &Consent{
		ID:               state.ConsentID,
		CustomerID:       state.CustomerID,
		ParticipantID:    state.ParticipantID,
		Scopes:           state.Scopes,
		Purpose:          state.Purpose,
		Status:           state.Status,
		CreatedAt:        state.CreatedAt,
		ExpiresAt:        state.ExpiresAt,
		AuthorizedAt:     state.AuthorizedAt,
		RevokedAt:        state.RevokedAt,
		RevocationReason: state.RevocationReason,
		UsageCount:       state.UsageCount,
		version:          state.Version,
	}
	for _, env := range tail {
		if err := c.apply(env.Event); err != nil {
			return nil, err
		}
	}
	return c, nil
}
