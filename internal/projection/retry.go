package projection

import (
	"context"
	"sync"
	"time"

	"openconsent/internal/consent/models"
)

const (
	retryInitialBackoff = 250 * time.Millisecond
	retryMaxBackoff     = time.Minute
	retryPollInterval   = 100 * time.Millisecond
)

type retryEntry struct {
	env      models.Envelope
	attempts int
	nextAt   time.Time
}

// retryQueue holds events deferred because their view row did not exist yet.
// Entries back off exponentially and are never dropped; once the creating
// event lands, the deferred update applies on the next pass.
type retryQueue struct {
	mu      sync.Mutex
	entries []retryEntry
}

func newRetryQueue() *retryQueue {
	return &retryQueue{}
}

func (q *retryQueue) schedule(env models.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, retryEntry{
		env:    env,
		nextAt: time.Now().Add(retryInitialBackoff),
	})
}

// due removes and returns every entry whose backoff has elapsed.
func (q *retryQueue) due(now time.Time) []retryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []retryEntry
	remaining := q.entries[:0]
	for _, entry := range q.entries {
		if entry.nextAt.After(now) {
			remaining = append(remaining, entry)
			continue
		}
		ready = append(ready, entry)
	}
	q.entries = remaining
	return ready
}

func (q *retryQueue) reschedule(entry retryEntry) {
	entry.attempts++
	entry.nextAt = time.Now().Add(backoffAfter(entry.attempts))

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
}

// backoffAfter doubles per attempt up to the cap. The shift is bounded
// before applying it so long-lived entries cannot overflow into a
// negative (and therefore always-due) backoff.
func backoffAfter(attempts int) time.Duration {
	const maxShift = 10 // 250ms << 10 already exceeds retryMaxBackoff
	if attempts > maxShift {
		return retryMaxBackoff
	}
	backoff := retryInitialBackoff << attempts
	if backoff > retryMaxBackoff {
		backoff = retryMaxBackoff
	}
	return backoff
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Run drains the retry queue until ctx is cancelled. Start it alongside the
// consumer; without it deferred events would wait forever.
func (p *Projector) Run(ctx context.Context) error {
	ticker := time.NewTicker(retryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			p.drainRetries(ctx, now)
		}
	}
}

// PendingRetries reports how many deferred events await their view row.
func (p *Projector) PendingRetries() int {
	return p.retries.len()
}

func (p *Projector) drainRetries(ctx context.Context, now time.Time) {
	for _, entry := range p.retries.due(now) {
		p.metrics.Retried.Inc()
		if err := p.retry(ctx, entry); err != nil {
			p.logger.Error("projection retry failed",
				"aggregate_id", entry.env.AggregateID, "kind", entry.env.Kind(),
				"attempts", entry.attempts+1, "error", err)
			p.retries.reschedule(entry)
		}
	}
}

func (p *Projector) retry(ctx context.Context, entry retryEntry) error {
	if err := p.project(ctx, entry.env); err != nil {
		return err
	}
	p.metrics.Processed.Inc()
	p.emitAudit(entry.env)
	return nil
}
