package cache

import (
	"context"
	"sync"
	"time"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
)

// Memory is an in-process cache for unit tests and single-node deployments.
// It stores serialized state like the Redis implementation so the same
// round-trip path is exercised.
type Memory struct {
	mu      sync.RWMutex
	entries map[domain.ConsentID]memoryEntry
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[domain.ConsentID]memoryEntry)}
}

func (m *Memory) Get(_ context.Context, id domain.ConsentID) (*models.Consent, bool) {
	m.mu.RLock()
	entry, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	consent, err := models.FromSnapshot(entry.data, nil)
	if err != nil {
		return nil, false
	}
	return consent, true
}

func (m *Memory) Put(_ context.Context, consent *models.Consent) {
	data, err := consent.Snapshot()
	if err != nil {
		return
	}
	expiresAt := consent.ExpiresAt
	if time.Now().After(expiresAt) {
		expiresAt = time.Now().Add(time.Minute)
	}
	m.mu.Lock()
	m.entries[consent.ID] = memoryEntry{data: data, expiresAt: expiresAt}
	m.mu.Unlock()
}

func (m *Memory) Evict(_ context.Context, id domain.ConsentID) error {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Len reports the number of live entries. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
