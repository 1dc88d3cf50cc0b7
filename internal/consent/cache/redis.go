package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"openconsent/internal/consent/models"
	platformredis "openconsent/internal/platform/redis"
	"openconsent/pkg/domain"
)

const (
	keyPrefix = "consent:"
	maxTTL    = 24 * time.Hour
)

// Redis is the production cache. Entries carry the serialized committed state
// of the aggregate and expire no later than the consent itself plus a floor
// for terminal states.
type Redis struct {
	client *platformredis.Client
	minTTL time.Duration
	logger *slog.Logger
}

func NewRedis(client *platformredis.Client, minTTL time.Duration, logger *slog.Logger) *Redis {
	return &Redis{client: client, minTTL: minTTL, logger: logger}
}

func (r *Redis) Get(ctx context.Context, id domain.ConsentID) (*models.Consent, bool) {
	data, err := r.client.Get(ctx, keyPrefix+id.String()).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("cache read failed", "consent_id", id, "error", err)
		}
		return nil, false
	}

	consent, err := models.FromSnapshot(data, nil)
	if err != nil {
		// A stale or corrupt entry must not poison reads.
		r.logger.Warn("cache entry corrupt, evicting", "consent_id", id, "error", err)
		_ = r.client.Del(ctx, keyPrefix+id.String()).Err()
		return nil, false
	}
	return consent, true
}

func (r *Redis) Put(ctx context.Context, consent *models.Consent) {
	data, err := consent.Snapshot()
	if err != nil {
		r.logger.Warn("cache serialize failed", "consent_id", consent.ID, "error", err)
		return
	}
	if err := r.client.Set(ctx, keyPrefix+consent.ID.String(), data, r.ttl(consent)).Err(); err != nil {
		r.logger.Warn("cache write failed", "consent_id", consent.ID, "error", err)
	}
}

func (r *Redis) Evict(ctx context.Context, id domain.ConsentID) error {
	return r.client.Del(ctx, keyPrefix+id.String()).Err()
}

// ttl follows the consent's remaining validity, floored so terminal and
// near-expiry consents still get a short cached window, capped to bound churn.
func (r *Redis) ttl(consent *models.Consent) time.Duration {
	ttl := time.Until(consent.ExpiresAt)
	if ttl < r.minTTL {
		ttl = r.minTTL
	}
	if ttl > maxTTL {
		ttl = maxTTL
	}
	return ttl
}
