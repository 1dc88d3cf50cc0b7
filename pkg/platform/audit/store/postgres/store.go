// Package postgres persists audit entries in the audit_entries table over
// database/sql.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"openconsent/pkg/domain"
	audit "openconsent/pkg/platform/audit"
	txcontext "openconsent/pkg/platform/tx"
)

// Store implements audit.Store on PostgreSQL. Writes honor a transaction
// stored in context so an entry can commit with the operation it describes.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// EnsureSchema creates the audit table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id               UUID        PRIMARY KEY,
			timestamp        TIMESTAMPTZ NOT NULL,
			action           TEXT        NOT NULL,
			consent_id       TEXT        NOT NULL,
			customer_id_hash TEXT        NOT NULL DEFAULT '',
			participant_id   TEXT        NOT NULL DEFAULT '',
			decision         TEXT        NOT NULL DEFAULT '',
			reason           TEXT        NOT NULL DEFAULT '',
			request_id       TEXT        NOT NULL DEFAULT '',
			sequence_number  BIGINT      NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_consent
			ON audit_entries (consent_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, timestamp, action, consent_id, customer_id_hash,
			participant_id, decision, reason, request_id, sequence_number
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New(),
		entry.Timestamp,
		string(entry.Action),
		entry.ConsentID.String(),
		entry.CustomerIDHash,
		entry.ParticipantID.String(),
		entry.Decision,
		entry.Reason,
		entry.RequestID,
		entry.Sequence,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AppendBatch writes a burst of entries in one transaction. Each insert runs
// through the context transaction, so a mid-batch failure rolls the whole
// burst back rather than leaving it half-written.
func (s *Store) AppendBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	txCtx := txcontext.WithTx(ctx, tx)
	for _, entry := range entries {
		if err := s.Append(txCtx, entry); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	return nil
}

func (s *Store) ListByConsent(ctx context.Context, id domain.ConsentID) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, action, consent_id, customer_id_hash,
		       participant_id, decision, reason, request_id, sequence_number
		FROM audit_entries
		WHERE consent_id = $1
		ORDER BY timestamp ASC`,
		id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, action, consent_id, customer_id_hash,
		       participant_id, decision, reason, request_id, sequence_number
		FROM audit_entries
		ORDER BY timestamp DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			entry         audit.Entry
			action        string
			consentID     string
			participantID string
		)
		if err := rows.Scan(&entry.Timestamp, &action, &consentID, &entry.CustomerIDHash,
			&participantID, &entry.Decision, &entry.Reason, &entry.RequestID, &entry.Sequence); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		if id, err := domain.ParseConsentID(consentID); err == nil {
			entry.ConsentID = id
		}
		entry.ParticipantID = domain.ParticipantID(participantID)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
