package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"openconsent/internal/consent/models"
)

// pgUniqueViolation is the Postgres error code raised when two writers race
// for the same (aggregate_id, sequence_number) slot.
const pgUniqueViolation = "23505"

// Postgres is the durable Store. The primary key on
// (aggregate_id, sequence_number) is the arbiter under concurrent appends:
// the pre-flight version check keeps the common case cheap, the constraint
// keeps the race correct.
type Postgres struct {
	pool   *pgxpool.Pool
	codec  codec
	logger *slog.Logger
}

// NewPostgres builds a Store over an existing pool.
func NewPostgres(pool *pgxpool.Pool, cipher Cipher, logger *slog.Logger) *Postgres {
	return &Postgres{pool: pool, codec: codec{cipher: cipher}, logger: logger}
}

func (p *Postgres) Append(ctx context.Context, aggregateID, aggregateType string,
	events []models.Event, expectedVersion int64, meta Metadata) ([]models.Envelope, error) {

	if err := validateAppend(aggregateID, events, expectedVersion); err != nil {
		return nil, err
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM consent_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&current)
	if err != nil {
		return nil, fmt.Errorf("read current version: %w", err)
	}
	if current != expectedVersion {
		return nil, &VersionConflictError{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
	}

	now := time.Now().UTC()
	envelopes := make([]models.Envelope, 0, len(events))
	for i, event := range events {
		payload, encrypted, err := p.codec.encode(event)
		if err != nil {
			return nil, err
		}
		env := models.Envelope{
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			Sequence:      expectedVersion + int64(i) + 1,
			OccurredAt:    now,
			CorrelationID: meta.CorrelationID,
			CausationID:   meta.CausationID,
			Event:         event,
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO consent_events
				(aggregate_id, aggregate_type, sequence_number, event_type,
				 payload, encrypted, occurred_at, correlation_id, causation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			env.AggregateID, env.AggregateType, env.Sequence, string(event.Kind()),
			payload, encrypted, env.OccurredAt, nullable(env.CorrelationID), nullable(env.CausationID),
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				// Lost the race after the pre-flight check passed.
				return nil, &VersionConflictError{
					AggregateID: aggregateID,
					Expected:    expectedVersion,
					Actual:      env.Sequence,
				}
			}
			return nil, fmt.Errorf("insert event %s seq %d: %w", aggregateID, env.Sequence, err)
		}
		envelopes = append(envelopes, env)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return envelopes, nil
}

func (p *Postgres) Load(ctx context.Context, aggregateID string, fromVersion int64) (LoadResult, error) {
	var result LoadResult

	snap, err := p.latestSnapshot(ctx, aggregateID)
	if err != nil {
		// A broken snapshot only costs replay time; fall back to events.
		p.logger.Warn("snapshot load failed, replaying full history",
			"aggregate_id", aggregateID, "error", err)
	} else if snap != nil && snap.Sequence >= fromVersion {
		result.Snapshot = snap
		fromVersion = snap.Sequence
	}

	events, err := p.History(ctx, aggregateID, fromVersion)
	if err != nil {
		return LoadResult{}, err
	}
	result.Events = events
	return result, nil
}

func (p *Postgres) History(ctx context.Context, aggregateID string, fromVersion int64) ([]models.Envelope, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT aggregate_type, sequence_number, event_type, payload, encrypted,
		       occurred_at, COALESCE(correlation_id, ''), COALESCE(causation_id, '')
		FROM consent_events
		WHERE aggregate_id = $1 AND sequence_number > $2
		ORDER BY sequence_number ASC`,
		aggregateID, fromVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var envelopes []models.Envelope
	for rows.Next() {
		var (
			env       models.Envelope
			kind      string
			payload   []byte
			encrypted bool
		)
		env.AggregateID = aggregateID
		if err := rows.Scan(&env.AggregateType, &env.Sequence, &kind, &payload,
			&encrypted, &env.OccurredAt, &env.CorrelationID, &env.CausationID); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		event, err := p.codec.decode(models.EventKind(kind), payload, encrypted)
		if err != nil {
			return nil, err
		}
		env.Event = event
		envelopes = append(envelopes, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return envelopes, nil
}

func (p *Postgres) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM consent_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("current version: %w", err)
	}
	return version, nil
}

func (p *Postgres) Exists(ctx context.Context, aggregateID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM consent_events WHERE aggregate_id = $1)`,
		aggregateID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists check: %w", err)
	}
	return exists, nil
}

func (p *Postgres) MaybeSnapshot(ctx context.Context, aggregateID, aggregateType string,
	version int64, state []byte) error {

	var last int64
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM consent_snapshots WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&last)
	if err != nil {
		return fmt.Errorf("read last snapshot: %w", err)
	}
	if !snapshotDue(last, version) {
		return nil
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO consent_snapshots (aggregate_id, aggregate_type, sequence_number, state, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (aggregate_id) DO UPDATE SET
			sequence_number = EXCLUDED.sequence_number,
			state = EXCLUDED.state,
			created_at = EXCLUDED.created_at`,
		aggregateID, aggregateType, version, state, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) AggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	query := `SELECT DISTINCT aggregate_id FROM consent_events`
	args := []any{}
	if aggregateType != "" {
		query += ` WHERE aggregate_type = $1`
		args = append(args, aggregateType)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query aggregate ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan aggregate id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) latestSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var snap Snapshot
	snap.AggregateID = aggregateID
	err := p.pool.QueryRow(ctx, `
		SELECT sequence_number, state, created_at
		FROM consent_snapshots WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&snap.Sequence, &snap.State, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
