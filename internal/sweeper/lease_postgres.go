package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const leaseSchemaSQL = `
CREATE TABLE IF NOT EXISTS sweeper_leases (
    name       TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// EnsureLeaseSchema creates the lease table when absent.
func EnsureLeaseSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, leaseSchemaSQL); err != nil {
		return fmt.Errorf("ensure lease schema: %w", err)
	}
	return nil
}

// PostgresLease arbitrates leadership through a single conditionally-updated
// row. The database clock decides expiry so instance clocks need not agree.
type PostgresLease struct {
	pool *pgxpool.Pool
}

func NewPostgresLease(pool *pgxpool.Pool) *PostgresLease {
	return &PostgresLease{pool: pool}
}

func (l *PostgresLease) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO sweeper_leases (name, owner, expires_at)
		VALUES ($1, $2, now() + $3)
		ON CONFLICT (name) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE sweeper_leases.owner = EXCLUDED.owner
		   OR sweeper_leases.expires_at <= now()`,
		name, owner, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (l *PostgresLease) Release(ctx context.Context, name, owner string) error {
	_, err := l.pool.Exec(ctx,
		`DELETE FROM sweeper_leases WHERE name = $1 AND owner = $2`, name, owner)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
