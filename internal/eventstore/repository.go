package eventstore

import (
	"context"
	"log/slog"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
)

// ConsentRepository loads and saves consent aggregates through the event
// store, hiding snapshot handling from callers.
type ConsentRepository struct {
	store  Store
	logger *slog.Logger
}

func NewConsentRepository(store Store, logger *slog.Logger) *ConsentRepository {
	return &ConsentRepository{store: store, logger: logger}
}

// Load rebuilds the aggregate from its latest snapshot plus the events after
// it, or from the full history when no snapshot exists.
//
// Errors: CodeNotFound for an empty stream; store errors pass through.
func (r *ConsentRepository) Load(ctx context.Context, id domain.ConsentID) (*models.Consent, error) {
	result, err := r.store.Load(ctx, id.String(), 0)
	if err != nil {
		return nil, err
	}

	if result.Snapshot != nil {
		consent, err := models.FromSnapshot(result.Snapshot.State, result.Events)
		if err == nil {
			return consent, nil
		}
		// A stale or corrupt snapshot is never fatal: replay instead.
		r.logger.Warn("snapshot restore failed, replaying full history",
			"consent_id", id, "error", err)
		full, err := r.store.History(ctx, id.String(), 0)
		if err != nil {
			return nil, err
		}
		return models.FromHistory(full)
	}

	return models.FromHistory(result.Events)
}

// Save appends the aggregate's uncommitted events at its committed version and
// opportunistically snapshots the new state. A snapshot failure is logged and
// swallowed: the events are the source of truth and are already durable.
//
// Errors: *VersionConflictError when a concurrent writer got there first; the
// aggregate's pending events are drained either way, so callers must reload
// and retry rather than re-save.
func (r *ConsentRepository) Save(ctx context.Context, consent *models.Consent, meta Metadata) ([]models.Envelope, error) {
	expected := consent.CommittedVersion()
	events := consent.PullEvents()
	if len(events) == 0 {
		return nil, nil
	}

	envelopes, err := r.store.Append(ctx, consent.ID.String(), models.AggregateTypeConsent,
		events, expected, meta)
	if err != nil {
		return nil, err
	}

	if state, err := consent.Snapshot(); err == nil {
		if err := r.store.MaybeSnapshot(ctx, consent.ID.String(), models.AggregateTypeConsent,
			consent.Version(), state); err != nil {
			r.logger.Warn("snapshot write failed",
				"consent_id", consent.ID, "version", consent.Version(), "error", err)
		}
	}

	return envelopes, nil
}

// Exists reports whether any events were ever appended for the consent.
func (r *ConsentRepository) Exists(ctx context.Context, id domain.ConsentID) (bool, error) {
	return r.store.Exists(ctx, id.String())
}
