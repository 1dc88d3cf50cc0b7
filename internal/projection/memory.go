package projection

import (
	"context"
	"sort"
	"sync"
	"time"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
	"openconsent/pkg/platform/sentinel"
)

// Memory is the in-memory read-model store used in tests and single-node
// development runs.
type Memory struct {
	mu           sync.RWMutex
	consents     map[string]ConsentView
	usage        map[string][]UsageRecord
	participants map[domain.ParticipantID]ParticipantView
}

func NewMemory() *Memory {
	return &Memory{
		consents:     make(map[string]ConsentView),
		usage:        make(map[string][]UsageRecord),
		participants: make(map[domain.ParticipantID]ParticipantView),
	}
}

func (m *Memory) InsertConsent(_ context.Context, view ConsentView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.consents[view.ConsentID]; ok && existing.Version >= view.Version {
		return nil
	}
	view.UpdatedAt = time.Now().UTC()
	m.consents[view.ConsentID] = view
	return nil
}

func (m *Memory) GetConsent(_ context.Context, consentID string) (ConsentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view, ok := m.consents[consentID]
	if !ok {
		return ConsentView{}, sentinel.ErrNotFound
	}
	return view, nil
}

func (m *Memory) MarkAuthorized(_ context.Context, consentID string, at time.Time, version int64) error {
	return m.update(consentID, version, func(view *ConsentView) {
		view.Status = models.StatusAuthorized
		view.AuthorizedAt = &at
	})
}

func (m *Memory) MarkRevoked(_ context.Context, consentID string, at time.Time, reason string, version int64) error {
	return m.update(consentID, version, func(view *ConsentView) {
		view.Status = models.StatusRevoked
		view.RevokedAt = &at
		view.RevocationReason = reason
	})
}

func (m *Memory) MarkExpired(_ context.Context, consentID string, at time.Time, version int64) error {
	return m.update(consentID, version, func(view *ConsentView) {
		view.Status = models.StatusExpired
	})
}

func (m *Memory) RecordUsage(_ context.Context, rec UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view, ok := m.consents[rec.ConsentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if rec.Sequence <= view.Version {
		return nil
	}
	view.UsageCount++
	view.Version = rec.Sequence
	view.UpdatedAt = time.Now().UTC()
	m.consents[rec.ConsentID] = view
	m.usage[rec.ConsentID] = append(m.usage[rec.ConsentID], rec)
	return nil
}

func (m *Memory) ListUsage(_ context.Context, consentID string) ([]UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]UsageRecord, len(m.usage[consentID]))
	copy(records, m.usage[consentID])
	return records, nil
}

func (m *Memory) ListByCustomer(_ context.Context, customerID domain.CustomerID) ([]ConsentView, error) {
	return m.list(func(view ConsentView) bool { return view.CustomerID == customerID })
}

func (m *Memory) ListByParticipant(_ context.Context, participantID domain.ParticipantID) ([]ConsentView, error) {
	return m.list(func(view ConsentView) bool { return view.ParticipantID == participantID })
}

func (m *Memory) ListByStatus(_ context.Context, status models.Status) ([]ConsentView, error) {
	return m.list(func(view ConsentView) bool { return view.Status == status })
}

func (m *Memory) ListExpired(_ context.Context, asOf time.Time, limit int) ([]ConsentView, error) {
	views, err := m.list(func(view ConsentView) bool {
		active := view.Status == models.StatusPending || view.Status == models.StatusAuthorized
		return active && !view.ExpiresAt.After(asOf)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ExpiresAt.Before(views[j].ExpiresAt) })
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func (m *Memory) UpsertParticipant(_ context.Context, p ParticipantView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.participants[p.ParticipantID]; ok {
		// Onboarding data refreshes identity fields, validation history stays.
		existing.LegalName = p.LegalName
		existing.Role = p.Role
		existing.OnboardedAt = p.OnboardedAt
		m.participants[p.ParticipantID] = existing
		return nil
	}
	m.participants[p.ParticipantID] = p
	return nil
}

func (m *Memory) GetParticipant(_ context.Context, id domain.ParticipantID) (ParticipantView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[id]
	if !ok {
		return ParticipantView{}, sentinel.ErrNotFound
	}
	return p, nil
}

func (m *Memory) RecordValidation(_ context.Context, id domain.ParticipantID, at time.Time, ok bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.participants[id]
	p.ParticipantID = id
	p.LastValidatedAt = at
	p.LastValidationOK = ok
	p.Validations++
	m.participants[id] = p
	return nil
}

func (m *Memory) DeleteConsent(_ context.Context, consentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.consents, consentID)
	delete(m.usage, consentID)
	return nil
}

func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.consents = make(map[string]ConsentView)
	m.usage = make(map[string][]UsageRecord)
	m.participants = make(map[domain.ParticipantID]ParticipantView)
	return nil
}

func (m *Memory) update(consentID string, version int64, mutate func(*ConsentView)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	view, ok := m.consents[consentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if version <= view.Version {
		return nil
	}
	mutate(&view)
	view.Version = version
	view.UpdatedAt = time.Now().UTC()
	m.consents[consentID] = view
	return nil
}

func (m *Memory) list(match func(ConsentView) bool) ([]ConsentView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var views []ConsentView
	for _, view := range m.consents {
		if match(view) {
			views = append(views, view)
		}
	}
	return views, nil
}
