package sweeper

import (
	"context"
	"sync"
	"time"
)

// Lease is a cluster-wide mutual exclusion primitive: at most one instance
// holds a named lease at a time, and a crashed holder frees it by letting the
// lease expire.
type Lease interface {
	// Acquire takes or renews the lease for owner. Returns false when another
	// live owner holds it.
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)

	// Release frees the lease if owner still holds it.
	Release(ctx context.Context, name, owner string) error
}

// MemoryLease is a single-process lease for tests and development runs.
type MemoryLease struct {
	mu     sync.Mutex
	leases map[string]leaseRow
}

type leaseRow struct {
	owner     string
	expiresAt time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{leases: make(map[string]leaseRow)}
}

func (l *MemoryLease) Acquire(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	row, held := l.leases[name]
	if held && row.owner != owner && row.expiresAt.After(now) {
		return false, nil
	}
	l.leases[name] = leaseRow{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLease) Release(_ context.Context, name, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if row, held := l.leases[name]; held && row.owner == owner {
		delete(l.leases, name)
	}
	return nil
}
