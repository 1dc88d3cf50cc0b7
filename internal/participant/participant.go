// Package participant defines the port to the central participant directory
// and the read model kept from directory events. The saga validates every
// participant against the directory before a consent is persisted.
package participant

import (
	"context"
	"time"

	"openconsent/pkg/domain"
)

// ValidationResult is the directory's verdict on a participant.
type ValidationResult struct {
	ParticipantID domain.ParticipantID
	Valid         bool
	Reason        string
	ValidatedAt   time.Time
}

// Participant is a directory entry as seen by the read model.
type Participant struct {
	ID          domain.ParticipantID
	LegalName   string
	Role        string
	OnboardedAt time.Time
}

// RevocationNotice tells a participant that a consent it relied on is gone.
type RevocationNotice struct {
	ConsentID domain.ConsentID
	Reason    string
	RevokedAt time.Time
}

// Directory validates participants against the central registry and carries
// out-of-band notifications back to them.
//
// Implementations must respect the context deadline: the saga translates a
// timeout into a validation failure rather than blocking a consent command.
type Directory interface {
	Validate(ctx context.Context, id domain.ParticipantID) (ValidationResult, error)

	// NotifyRevoked delivers a revocation notice to the owning participant.
	// Delivery is best-effort; the revocation itself is already committed
	// and callers must not fail it over a notification error.
	NotifyRevoked(ctx context.Context, id domain.ParticipantID, notice RevocationNotice) error
}
