package audit

import (
	"log/slog"
	"time"
)

// Publisher emits audit entries asynchronously through a bounded channel
// drained by the worker. Emission never blocks domain code: when the buffer
// is full the entry is dropped and counted, not queued.
type Publisher struct {
	inbox  chan Entry
	logger *slog.Logger
}

// NewPublisher creates a publisher with the given buffer size.
func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		inbox:  make(chan Entry, buffer),
		logger: logger,
	}
}

// Inbox is the channel the worker drains.
func (p *Publisher) Inbox() <-chan Entry { return p.inbox }

// Emit queues the entry, stamping the timestamp when unset.
func (p *Publisher) Emit(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	select {
	case p.inbox <- entry:
	default:
		p.logger.Warn("audit buffer full, dropping entry",
			"action", entry.Action, "consent_id", entry.ConsentID)
	}
}
