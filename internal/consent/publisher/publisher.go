// Package publisher pushes committed consent events onto the bus. Publication
// happens strictly after the authoritative append and is best-effort: a
// publication failure never invalidates committed events.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"openconsent/internal/consent/models"
	"openconsent/internal/platform/kafka"
)

// Publisher fans committed envelopes out to downstream consumers.
type Publisher interface {
	// Publish sends one envelope to the ordinary events topic.
	Publish(ctx context.Context, env models.Envelope) error

	// PublishRevocation sends a revocation with elevated priority on its
	// dedicated topic, consumed ahead of the ordinary stream.
	PublishRevocation(ctx context.Context, env models.Envelope) error
}

// wireEnvelope is the JSON shape on the bus.
type wireEnvelope struct {
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Sequence      int64           `json:"sequence_number"`
	Kind          string          `json:"kind"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Encode serializes an envelope to its bus representation.
func Encode(env models.Envelope) ([]byte, error) {
	payload, err := models.EncodeEvent(env.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		AggregateID:   env.AggregateID,
		AggregateType: env.AggregateType,
		Sequence:      env.Sequence,
		Kind:          string(env.Event.Kind()),
		OccurredAt:    env.OccurredAt,
		CorrelationID: env.CorrelationID,
		CausationID:   env.CausationID,
		Payload:       payload,
	})
}

// Decode parses a bus message back into an envelope.
func Decode(data []byte) (models.Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return models.Envelope{}, fmt.Errorf("unmarshal bus envelope: %w", err)
	}
	event, err := models.DecodeEvent(models.EventKind(wire.Kind), wire.Payload)
	if err != nil {
		return models.Envelope{}, err
	}
	return models.Envelope{
		AggregateID:   wire.AggregateID,
		AggregateType: wire.AggregateType,
		Sequence:      wire.Sequence,
		OccurredAt:    wire.OccurredAt,
		CorrelationID: wire.CorrelationID,
		CausationID:   wire.CausationID,
		Event:         event,
	}, nil
}

// Kafka publishes to the events and revocations topics. Messages are keyed by
// aggregate id so per-aggregate ordering survives partitioning.
type Kafka struct {
	producer         *kafka.Producer
	eventsTopic      string
	revocationsTopic string
	logger           *slog.Logger
}

func NewKafka(producer *kafka.Producer, eventsTopic, revocationsTopic string, logger *slog.Logger) *Kafka {
	return &Kafka{
		producer:         producer,
		eventsTopic:      eventsTopic,
		revocationsTopic: revocationsTopic,
		logger:           logger,
	}
}

func (k *Kafka) Publish(ctx context.Context, env models.Envelope) error {
	return k.publish(ctx, k.eventsTopic, env)
}

func (k *Kafka) PublishRevocation(ctx context.Context, env models.Envelope) error {
	return k.publish(ctx, k.revocationsTopic, env)
}

func (k *Kafka) publish(ctx context.Context, topic string, env models.Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return k.producer.Publish(ctx, topic, []byte(env.AggregateID), data)
}

// Noop drops every publication. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, models.Envelope) error           { return nil }
func (Noop) PublishRevocation(context.Context, models.Envelope) error { return nil }

// Recorder captures publications in memory for tests.
type Recorder struct {
	mu          sync.Mutex
	Events      []models.Envelope
	Revocations []models.Envelope
	Err         error
}

func (r *Recorder) Publish(_ context.Context, env models.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, env)
	return nil
}

func (r *Recorder) PublishRevocation(_ context.Context, env models.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Revocations = append(r.Revocations, env)
	return nil
}
