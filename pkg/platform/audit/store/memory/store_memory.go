// Package memory keeps audit entries in process for tests and local runs.
package memory

import (
	"context"
	"sync"

	"openconsent/pkg/domain"
	audit "openconsent/pkg/platform/audit"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) ListByConsent(_ context.Context, id domain.ConsentID) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Entry
	for _, entry := range s.entries {
		if entry.ConsentID == id {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.entries) - limit
	if start < 0 {
		start = 0
	}
	return append([]audit.Entry{}, s.entries[start:]...), nil
}
