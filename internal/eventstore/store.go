// Package eventstore persists domain events as an append-only, per-aggregate
// ordered log. The expected-version check inside Append is the system's sole
// concurrency-control mechanism; everything downstream (cache, read models)
// is disposable and rebuildable from this log.
package eventstore

import (
	"context"
	"fmt"
	"time"

	"openconsent/internal/consent/models"
	"openconsent/pkg/platform/sentinel"
)

// Snapshot policy: a snapshot is written when at least snapshotEvery events
// accumulated since the last one, or unconditionally once the version passes
// snapshotForceAt. Snapshots only reduce replay cost; losing one is harmless.
const (
	snapshotEvery   = 10
	snapshotForceAt = 100
)

// Cipher seals sensitive event payloads before storage. The store holds only
// opaque ciphertext plus a flag; key handling lives with the implementation.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)
	IsEncrypted(data []byte) bool
}

// Metadata travels with every event appended in one call.
type Metadata struct {
	CorrelationID string
	CausationID   string
}

// Snapshot is a materialized aggregate state at a sequence number. At most one
// exists per aggregate.
type Snapshot struct {
	AggregateID string
	Sequence    int64
	State       []byte
	CreatedAt   time.Time
}

// LoadResult carries the snapshot (if one is usable) and the ordered events
// after it. The store never materializes aggregate state itself.
type LoadResult struct {
	Snapshot *Snapshot
	Events   []models.Envelope
}

// Version returns the version represented by the full result.
func (r LoadResult) Version() int64 {
	if n := len(r.Events); n > 0 {
		return r.Events[n-1].Sequence
	}
	if r.Snapshot != nil {
		return r.Snapshot.Sequence
	}
	return 0
}

// Empty reports whether the aggregate has no history at all.
func (r LoadResult) Empty() bool {
	return r.Snapshot == nil && len(r.Events) == 0
}

// Store is the append-only event log.
type Store interface {
	// Append persists events atomically, assigning sequence numbers from
	// expectedVersion+1. Returns the assigned envelopes.
	//
	// Errors: *VersionConflictError when the persisted version differs from
	// expectedVersion (matches sentinel.ErrVersionConflict via errors.Is).
	Append(ctx context.Context, aggregateID, aggregateType string,
		events []models.Event, expectedVersion int64, meta Metadata) ([]models.Envelope, error)

	// Load returns the history needed to reconstruct state: the nearest
	// usable snapshot (when fromVersion permits) plus ordered events after it.
	Load(ctx context.Context, aggregateID string, fromVersion int64) (LoadResult, error)

	// History returns ordered events after fromVersion, never consulting
	// snapshots. Projection rebuilds depend on the full raw log.
	History(ctx context.Context, aggregateID string, fromVersion int64) ([]models.Envelope, error)

	// AggregateIDs lists aggregates of the given type with at least one
	// event; empty type lists all.
	AggregateIDs(ctx context.Context, aggregateType string) ([]string, error)

	// CurrentVersion returns the highest persisted sequence number, 0 when
	// the aggregate has no events.
	CurrentVersion(ctx context.Context, aggregateID string) (int64, error)

	// Exists reports whether any events exist for the aggregate.
	Exists(ctx context.Context, aggregateID string) (bool, error)

	// MaybeSnapshot writes a snapshot when the policy says one is due.
	// Failures affect only future replay cost; callers log and move on.
	MaybeSnapshot(ctx context.Context, aggregateID, aggregateType string,
		version int64, state []byte) error
}

// VersionConflictError reports an optimistic-concurrency loss: another writer
// appended to the aggregate between load and append. Retryable by reloading.
type VersionConflictError struct {
	AggregateID string
	Expected    int64
	Actual      int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("aggregate %s version conflict: expected %d, have %d",
		e.AggregateID, e.Expected, e.Actual)
}

// Is matches sentinel.ErrVersionConflict so stores stay swappable behind
// errors.Is checks.
func (e *VersionConflictError) Is(target error) bool {
	return target == sentinel.ErrVersionConflict
}

func validateAppend(aggregateID string, events []models.Event, expectedVersion int64) error {
	if aggregateID == "" {
		return fmt.Errorf("aggregate id is required")
	}
	if len(events) == 0 {
		return fmt.Errorf("append requires at least one event")
	}
	if expectedVersion < 0 {
		return fmt.Errorf("expected version cannot be negative")
	}
	return nil
}

// snapshotDue applies the snapshot policy given the last snapshot sequence.
func snapshotDue(lastSnapshot, version int64) bool {
	if version >= snapshotForceAt && lastSnapshot < version {
		return true
	}
	return version-lastSnapshot >= snapshotEvery
}
