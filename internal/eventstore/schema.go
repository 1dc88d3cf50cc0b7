package eventstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS consent_events (
  aggregate_id    TEXT        NOT NULL,
  aggregate_type  TEXT        NOT NULL,
  sequence_number BIGINT      NOT NULL,
  event_type      TEXT        NOT NULL,
  payload         BYTEA       NOT NULL,
  encrypted       BOOLEAN     NOT NULL DEFAULT FALSE,
  occurred_at     TIMESTAMPTZ NOT NULL,
  correlation_id  TEXT,
  causation_id    TEXT,
  CONSTRAINT pk_consent_events PRIMARY KEY (aggregate_id, sequence_number),
  CONSTRAINT chk_consent_events_sequence_positive CHECK (sequence_number > 0)
);

CREATE INDEX IF NOT EXISTS idx_consent_events_type
  ON consent_events (aggregate_type, aggregate_id);

CREATE TABLE IF NOT EXISTS consent_snapshots (
  aggregate_id    TEXT        PRIMARY KEY,
  aggregate_type  TEXT        NOT NULL,
  sequence_number BIGINT      NOT NULL,
  state           BYTEA       NOT NULL,
  created_at      TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the event and snapshot tables if they do not exist.
// Statements are idempotent so startup can run this unconditionally.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure event store schema: %w", err)
	}
	return nil
}
