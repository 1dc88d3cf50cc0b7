package projection

import (
	"context"
	"log/slog"

	"openconsent/internal/consent/publisher"
	"openconsent/internal/platform/kafka/consumer"
)

// EventHandler adapts the projector to the bus consumer. One handler instance
// serves both the events topic and the revocations topic; run the revocations
// topic in its own consumer so revocation processing never queues behind the
// ordinary stream.
type EventHandler struct {
	projector *Projector
	logger    *slog.Logger
}

func NewEventHandler(projector *Projector, logger *slog.Logger) *EventHandler {
	return &EventHandler{projector: projector, logger: logger}
}

func (h *EventHandler) Handle(ctx context.Context, msg *consumer.Message) error {
	env, err := publisher.Decode(msg.Value)
	if err != nil {
		// A malformed message would be redelivered forever; log it and move
		// the offset past it. The rebuild path can repair any gap.
		h.logger.Error("dropping undecodable bus message",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		return nil
	}
	return h.projector.Apply(ctx, env)
}
