package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"openconsent/internal/consent/models"
	"openconsent/pkg/domain"
	"openconsent/pkg/platform/sentinel"
)

const viewSchemaSQL = `
CREATE TABLE IF NOT EXISTS consent_views (
    consent_id        TEXT PRIMARY KEY,
    customer_id       TEXT NOT NULL,
    participant_id    TEXT NOT NULL,
    scopes            TEXT[] NOT NULL,
    purpose           TEXT NOT NULL,
    status            TEXT NOT NULL,
    version           BIGINT NOT NULL,
    usage_count       INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL,
    expires_at        TIMESTAMPTZ NOT NULL,
    authorized_at     TIMESTAMPTZ,
    revoked_at        TIMESTAMPTZ,
    revocation_reason TEXT NOT NULL DEFAULT '',
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_consent_views_customer
    ON consent_views (customer_id);
CREATE INDEX IF NOT EXISTS idx_consent_views_participant
    ON consent_views (participant_id);
CREATE INDEX IF NOT EXISTS idx_consent_views_status_expiry
    ON consent_views (status, expires_at);

CREATE TABLE IF NOT EXISTS consent_usage (
    consent_id      TEXT NOT NULL,
    sequence_number BIGINT NOT NULL,
    used_at         TIMESTAMPTZ NOT NULL,
    scope           TEXT NOT NULL,
    ip_address      TEXT NOT NULL DEFAULT '',
    browser         TEXT NOT NULL DEFAULT '',
    browser_version TEXT NOT NULL DEFAULT '',
    os              TEXT NOT NULL DEFAULT '',
    device          TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (consent_id, sequence_number)
);

CREATE TABLE IF NOT EXISTS participant_views (
    participant_id     TEXT PRIMARY KEY,
    legal_name         TEXT NOT NULL DEFAULT '',
    role               TEXT NOT NULL DEFAULT '',
    onboarded_at       TIMESTAMPTZ,
    last_validated_at  TIMESTAMPTZ,
    last_validation_ok BOOLEAN NOT NULL DEFAULT FALSE,
    validations        BIGINT NOT NULL DEFAULT 0
);
`

// EnsureViewSchema creates the read-model tables when absent.
func EnsureViewSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, viewSchemaSQL); err != nil {
		return fmt.Errorf("ensure read model schema: %w", err)
	}
	return nil
}

// Postgres is the production read-model store.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) InsertConsent(ctx context.Context, view ConsentView) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consent_views (
			consent_id, customer_id, participant_id, scopes, purpose, status,
			version, usage_count, created_at, expires_at, revocation_reason, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', now())
		ON CONFLICT (consent_id) DO NOTHING`,
		view.ConsentID, string(view.CustomerID), string(view.ParticipantID),
		scopeStrings(view.Scopes), string(view.Purpose), string(view.Status),
		view.Version, view.UsageCount, view.CreatedAt, view.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert consent view: %w", err)
	}
	return nil
}

func (s *Postgres) GetConsent(ctx context.Context, consentID string) (ConsentView, error) {
	row := s.pool.QueryRow(ctx, selectViewSQL+` WHERE consent_id = $1`, consentID)
	view, err := scanView(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConsentView{}, sentinel.ErrNotFound
	}
	if err != nil {
		return ConsentView{}, fmt.Errorf("get consent view: %w", err)
	}
	return view, nil
}

func (s *Postgres) MarkAuthorized(ctx context.Context, consentID string, at time.Time, version int64) error {
	return s.guardedUpdate(ctx, consentID, version, `
		UPDATE consent_views
		SET status = $3, authorized_at = $4, version = $2, updated_at = now()
		WHERE consent_id = $1 AND version < $2`,
		consentID, version, string(models.StatusAuthorized), at)
}

func (s *Postgres) MarkRevoked(ctx context.Context, consentID string, at time.Time, reason string, version int64) error {
	return s.guardedUpdate(ctx, consentID, version, `
		UPDATE consent_views
		SET status = $3, revoked_at = $4, revocation_reason = $5, version = $2, updated_at = now()
		WHERE consent_id = $1 AND version < $2`,
		consentID, version, string(models.StatusRevoked), at, reason)
}

func (s *Postgres) MarkExpired(ctx context.Context, consentID string, at time.Time, version int64) error {
	return s.guardedUpdate(ctx, consentID, version, `
		UPDATE consent_views
		SET status = $3, version = $2, updated_at = now()
		WHERE consent_id = $1 AND version < $2`,
		consentID, version, string(models.StatusExpired))
}

func (s *Postgres) RecordUsage(ctx context.Context, rec UsageRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE consent_views
		SET usage_count = usage_count + 1, version = $2, updated_at = now()
		WHERE consent_id = $1 AND version < $2`,
		rec.ConsentID, rec.Sequence)
	if err != nil {
		return fmt.Errorf("update usage count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.viewExists(ctx, rec.ConsentID)
		if err != nil {
			return err
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		// Redelivery of an already-applied usage event.
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO consent_usage (
			consent_id, sequence_number, used_at, scope,
			ip_address, browser, browser_version, os, device
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (consent_id, sequence_number) DO NOTHING`,
		rec.ConsentID, rec.Sequence, rec.UsedAt, string(rec.Scope),
		rec.IPAddress, rec.Browser, rec.BrowserVersion, rec.OS, rec.Device)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) ListUsage(ctx context.Context, consentID string) ([]UsageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT consent_id, sequence_number, used_at, scope,
		       ip_address, browser, browser_version, os, device
		FROM consent_usage
		WHERE consent_id = $1
		ORDER BY sequence_number`, consentID)
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		var scope string
		if err := rows.Scan(&rec.ConsentID, &rec.Sequence, &rec.UsedAt, &scope,
			&rec.IPAddress, &rec.Browser, &rec.BrowserVersion, &rec.OS, &rec.Device); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		rec.Scope = domain.ConsentScope(scope)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Postgres) ListByCustomer(ctx context.Context, customerID domain.CustomerID) ([]ConsentView, error) {
	return s.listViews(ctx, selectViewSQL+` WHERE customer_id = $1 ORDER BY created_at`, string(customerID))
}

func (s *Postgres) ListByParticipant(ctx context.Context, participantID domain.ParticipantID) ([]ConsentView, error) {
	return s.listViews(ctx, selectViewSQL+` WHERE participant_id = $1 ORDER BY created_at`, string(participantID))
}

func (s *Postgres) ListByStatus(ctx context.Context, status models.Status) ([]ConsentView, error) {
	return s.listViews(ctx, selectViewSQL+` WHERE status = $1 ORDER BY created_at`, string(status))
}

func (s *Postgres) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]ConsentView, error) {
	return s.listViews(ctx, selectViewSQL+`
		WHERE status IN ($1, $2) AND expires_at <= $3
		ORDER BY expires_at
		LIMIT $4`,
		string(models.StatusPending), string(models.StatusAuthorized), asOf, limit)
}

func (s *Postgres) UpsertParticipant(ctx context.Context, p ParticipantView) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participant_views (participant_id, legal_name, role, onboarded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_id) DO UPDATE
		SET legal_name = EXCLUDED.legal_name,
		    role = EXCLUDED.role,
		    onboarded_at = EXCLUDED.onboarded_at`,
		string(p.ParticipantID), p.LegalName, p.Role, nullableTime(p.OnboardedAt))
	if err != nil {
		return fmt.Errorf("upsert participant view: %w", err)
	}
	return nil
}

func (s *Postgres) GetParticipant(ctx context.Context, id domain.ParticipantID) (ParticipantView, error) {
	var p ParticipantView
	var participantID string
	var onboardedAt, validatedAt *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT participant_id, legal_name, role, onboarded_at,
		       last_validated_at, last_validation_ok, validations
		FROM participant_views
		WHERE participant_id = $1`, string(id)).
		Scan(&participantID, &p.LegalName, &p.Role, &onboardedAt,
			&validatedAt, &p.LastValidationOK, &p.Validations)
	if errors.Is(err, pgx.ErrNoRows) {
		return ParticipantView{}, sentinel.ErrNotFound
	}
	if err != nil {
		return ParticipantView{}, fmt.Errorf("get participant view: %w", err)
	}
	p.ParticipantID = domain.ParticipantID(participantID)
	if onboardedAt != nil {
		p.OnboardedAt = *onboardedAt
	}
	if validatedAt != nil {
		p.LastValidatedAt = *validatedAt
	}
	return p, nil
}

func (s *Postgres) RecordValidation(ctx context.Context, id domain.ParticipantID, at time.Time, ok bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO participant_views (participant_id, last_validated_at, last_validation_ok, validations)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (participant_id) DO UPDATE
		SET last_validated_at = EXCLUDED.last_validated_at,
		    last_validation_ok = EXCLUDED.last_validation_ok,
		    validations = participant_views.validations + 1`,
		string(id), at, ok)
	if err != nil {
		return fmt.Errorf("record participant validation: %w", err)
	}
	return nil
}

func (s *Postgres) DeleteConsent(ctx context.Context, consentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM consent_usage WHERE consent_id = $1`, consentID); err != nil {
		return fmt.Errorf("delete usage records: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM consent_views WHERE consent_id = $1`, consentID); err != nil {
		return fmt.Errorf("delete consent view: %w", err)
	}
	return nil
}

func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE consent_views, consent_usage, participant_views`)
	if err != nil {
		return fmt.Errorf("reset read models: %w", err)
	}
	return nil
}

const selectViewSQL = `
	SELECT consent_id, customer_id, participant_id, scopes, purpose, status,
	       version, usage_count, created_at, expires_at, authorized_at,
	       revoked_at, revocation_reason, updated_at
	FROM consent_views`

func (s *Postgres) guardedUpdate(ctx context.Context, consentID string, version int64,
	query string, args ...any) error {

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update consent view: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	exists, err := s.viewExists(ctx, consentID)
	if err != nil {
		return err
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	// Stale version on redelivery, already applied.
	return nil
}

func (s *Postgres) viewExists(ctx context.Context, consentID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM consent_views WHERE consent_id = $1)`, consentID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check consent view: %w", err)
	}
	return exists, nil
}

func (s *Postgres) listViews(ctx context.Context, query string, args ...any) ([]ConsentView, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consent views: %w", err)
	}
	defer rows.Close()

	var views []ConsentView
	for rows.Next() {
		view, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent view: %w", err)
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

func scanView(row pgx.Row) (ConsentView, error) {
	var view ConsentView
	var customerID, participantID, purpose, status string
	var scopes []string
	err := row.Scan(&view.ConsentID, &customerID, &participantID, &scopes,
		&purpose, &status, &view.Version, &view.UsageCount, &view.CreatedAt,
		&view.ExpiresAt, &view.AuthorizedAt, &view.RevokedAt,
		&view.RevocationReason, &view.UpdatedAt)
	if err != nil {
		return ConsentView{}, err
	}
	view.CustomerID = domain.CustomerID(customerID)
	view.ParticipantID = domain.ParticipantID(participantID)
	view.Purpose = domain.ConsentPurpose(purpose)
	view.Status = models.Status(status)
	view.Scopes = make([]domain.ConsentScope, len(scopes))
	for i, s := range scopes {
		view.Scopes[i] = domain.ConsentScope(s)
	}
	return view, nil
}

func scopeStrings(scopes []domain.ConsentScope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
