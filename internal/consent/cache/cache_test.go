package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
)

func newAuthorizedConsent(t *testing.T) *models.Consent {
	t.Helper()
	now := time.Now().UTC()
	consent, err := models.New(domain.NewConsentID(), "cust-1", "bank-a",
		[]domain.ConsentScope{domain.ScopeAccountInfo},
		domain.PurposeAccountAggregation, now, now.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, consent.Authorize(now, models.AuthorizationContext{Method: "SCA"}))
	consent.PullEvents()
	return consent
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	consent := newAuthorizedConsent(t)

	_, ok := c.Get(ctx, consent.ID)
	assert.False(t, ok)

	c.Put(ctx, consent)
	got, ok := c.Get(ctx, consent.ID)
	require.True(t, ok)
	assert.Equal(t, consent.ID, got.ID)
	assert.Equal(t, models.StatusAuthorized, got.Status)
	assert.Equal(t, consent.Version(), got.Version())

	require.NoError(t, c.Evict(ctx, consent.ID))
	_, ok = c.Get(ctx, consent.ID)
	assert.False(t, ok)
}

func TestNoopCacheNeverHits(t *testing.T) {
	ctx := context.Background()
	var c Noop
	consent := newAuthorizedConsent(t)

	c.Put(ctx, consent)
	_, ok := c.Get(ctx, consent.ID)
	assert.False(t, ok)
	assert.NoError(t, c.Evict(ctx, consent.ID))
}
