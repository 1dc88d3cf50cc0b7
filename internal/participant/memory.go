package participant

import (
	"context"
	"sync"
	"time"

	"openconsent/pkg/domain"
)

// MemoryDirectory is an in-process Directory for tests and local development.
// Unknown participants validate as not registered rather than erroring, the
// same shape a real directory miss takes.
type MemoryDirectory struct {
	mu           sync.RWMutex
	participants map[domain.ParticipantID]Participant
	notices      map[domain.ParticipantID][]RevocationNotice
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		participants: make(map[domain.ParticipantID]Participant),
		notices:      make(map[domain.ParticipantID][]RevocationNotice),
	}
}

// Register adds or replaces a directory entry.
func (d *MemoryDirectory) Register(p Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.participants[p.ID] = p
}

// Remove deletes a directory entry.
func (d *MemoryDirectory) Remove(id domain.ParticipantID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.participants, id)
}

func (d *MemoryDirectory) Validate(_ context.Context, id domain.ParticipantID) (ValidationResult, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := ValidationResult{ParticipantID: id, ValidatedAt: time.Now().UTC()}
	if _, ok := d.participants[id]; ok {
		result.Valid = true
	} else {
		result.Reason = "participant not registered"
	}
	return result, nil
}

func (d *MemoryDirectory) NotifyRevoked(_ context.Context, id domain.ParticipantID, notice RevocationNotice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices[id] = append(d.notices[id], notice)
	return nil
}

// Notices returns the revocation notices delivered to a participant.
func (d *MemoryDirectory) Notices(id domain.ParticipantID) []RevocationNotice {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RevocationNotice, len(d.notices[id]))
	copy(out, d.notices[id])
	return out
}
