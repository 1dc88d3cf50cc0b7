package eventstore

import (
	"context"
	"sync"
	"time"

	"openconsent/internal/consent/models"
)

// storedEvent keeps the encoded form so the memory store exercises the same
// codec path as Postgres, encryption included.
type storedEvent struct {
	envelope  models.Envelope
	kind      models.EventKind
	payload   []byte
	encrypted bool
}

// Memory is an in-process Store with the same concurrency semantics as the
// Postgres implementation. Used in unit tests and local development.
type Memory struct {
	codec codec

	mu        sync.Mutex
	streams   map[string][]storedEvent
	snapshots map[string]Snapshot
}

// NewMemory builds an empty in-memory store.
func NewMemory(cipher Cipher) *Memory {
	return &Memory{
		codec:     codec{cipher: cipher},
		streams:   make(map[string][]storedEvent),
		snapshots: make(map[string]Snapshot),
	}
}

func (m *Memory) Append(ctx context.Context, aggregateID, aggregateType string,
	events []models.Event, expectedVersion int64, meta Metadata) ([]models.Envelope, error) {

	if err := validateAppend(aggregateID, events, expectedVersion); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.streams[aggregateID]
	current := int64(len(stream))
	if current != expectedVersion {
		return nil, &VersionConflictError{
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
	}

	now := time.Now().UTC()
	envelopes := make([]models.Envelope, 0, len(events))
	appended := make([]storedEvent, 0, len(events))
	for i, event := range events {
		payload, encrypted, err := m.codec.encode(event)
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
		envelopes = append(envelopes, env)
		appended = append(appended, storedEvent{
			envelope:  env,
			kind:      event.Kind(),
			payload:   payload,
			encrypted: encrypted,
		})
	}

	m.streams[aggregateID] = append(stream, appended...)
	return envelopes, nil
}

func (m *Memory) Load(ctx context.Context, aggregateID string, fromVersion int64) (LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return LoadResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var result LoadResult
	start := fromVersion
	if snap, ok := m.snapshots[aggregateID]; ok && snap.Sequence >= fromVersion {
		s := snap
		result.Snapshot = &s
		start = snap.Sequence
	}

	for _, stored := range m.streams[aggregateID] {
		if stored.envelope.Sequence <= start {
			continue
		}
		event, err := m.codec.decode(stored.kind, stored.payload, stored.encrypted)
		if err != nil {
			return LoadResult{}, err
		}
		env := stored.envelope
		env.Event = event
		result.Events = append(result.Events, env)
	}
	return result, nil
}

func (m *Memory) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.streams[aggregateID])), nil
}

func (m *Memory) Exists(ctx context.Context, aggregateID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams[aggregateID]) > 0, nil
}

func (m *Memory) MaybeSnapshot(ctx context.Context, aggregateID, aggregateType string,
	version int64, state []byte) error {

	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var last int64
	if snap, ok := m.snapshots[aggregateID]; ok {
		last = snap.Sequence
	}
	if !snapshotDue(last, version) {
		return nil
	}

	m.snapshots[aggregateID] = Snapshot{
		AggregateID: aggregateID,
		Sequence:    version,
		State:       append([]byte(nil), state...),
		CreatedAt:   time.Now().UTC(),
	}
	return nil
}

// History returns the raw ordered event log after fromVersion, bypassing
// snapshots entirely.
func (m *Memory) History(ctx context.Context, aggregateID string, fromVersion int64) ([]models.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var envelopes []models.Envelope
	for _, stored := range m.streams[aggregateID] {
		if stored.envelope.Sequence <= fromVersion {
			continue
		}
		event, err := m.codec.decode(stored.kind, stored.payload, stored.encrypted)
		if err != nil {
			return nil, err
		}
		env := stored.envelope
		env.Event = event
		envelopes = append(envelopes, env)
	}
	return envelopes, nil
}

// AggregateIDs lists every aggregate with at least one event. Supports
// projection rebuilds and consistency validation.
func (m *Memory) AggregateIDs(ctx context.Context, aggregateType string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, stream := range m.streams {
		if len(stream) == 0 {
			continue
		}
		if aggregateType == "" || stream[0].envelope.AggregateType == aggregateType {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
