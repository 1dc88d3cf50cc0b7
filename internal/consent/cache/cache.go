// Package cache is the write-through acceleration layer over the consent
// aggregate. The event store stays authoritative: every entry can be lost and
// rebuilt by replay, so write failures are logged and swallowed.
package cache

import (
	"context"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
)

// Cache holds reconstructed consents keyed by id.
type Cache interface {
	// Get returns the cached consent and whether it was present. Errors are
	// treated as misses.
	Get(ctx context.Context, id domain.ConsentID) (*models.Consent, bool)

	// Put stores the consent best-effort. Failures never surface.
	Put(ctx context.Context, consent *models.Consent)

	// Evict removes the entry synchronously. Revocation depends on this
	// succeeding before the command returns.
	Evict(ctx context.Context, id domain.ConsentID) error
}

// Noop disables caching. Every read falls through to the event store.
type Noop struct{}

func (Noop) Get(context.Context, domain.ConsentID) (*models.Consent, bool) { return nil, false }
func (Noop) Put(context.Context, *models.Consent)                          {}
func (Noop) Evict(context.Context, domain.ConsentID) error                 { return nil }
