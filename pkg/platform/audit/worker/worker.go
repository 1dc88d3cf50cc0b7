// Package worker drains the audit publisher's channel into a store.
package worker

import (
	"context"
	"log/slog"

	audit "openconsent/pkg/platform/audit"
)

// maxBatch bounds how many queued entries flush in one store call.
const maxBatch = 64

// Worker consumes audit entries from a channel and persists them. A store
// failure is logged, never propagated: the audit trail must not stall the
// pipeline behind it.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Entry
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Entry, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			w.persist(ctx, w.collect(entry))
		}
	}
}

// collect drains whatever queued up behind the first entry so a backed-up
// inbox flushes as one batch.
func (w *Worker) collect(first audit.Entry) []audit.Entry {
	batch := []audit.Entry{first}
	for len(batch) < maxBatch {
		select {
		case entry := <-w.inbox:
			batch = append(batch, entry)
		default:
			return batch
		}
	}
	return batch
}

func (w *Worker) persist(ctx context.Context, batch []audit.Entry) {
	if bs, ok := w.store.(audit.BatchStore); ok && len(batch) > 1 {
		err := bs.AppendBatch(ctx, batch)
		if err == nil {
			return
		}
		w.logger.Error("audit batch append failed, falling back to per-entry writes",
			"size", len(batch), "error", err)
	}
	for _, entry := range batch {
		if err := w.store.Append(ctx, entry); err != nil {
			w.logger.Error("audit append failed",
				"action", entry.Action, "consent_id", entry.ConsentID, "error", err)
		}
	}
}
