package audit

import (
	"context"

	"openconsent/pkg/domain"
)

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByConsent(ctx context.Context, id domain.ConsentID) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// BatchStore is implemented by stores that can persist a burst of entries
// atomically. The worker prefers it when the inbox has backed up.
type BatchStore interface {
	AppendBatch(ctx context.Context, entries []Entry) error
}
