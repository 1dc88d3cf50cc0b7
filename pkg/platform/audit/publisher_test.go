package audit

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openconsent/pkg/domain"
)

func TestEmitStampsTimestampAndQueues(t *testing.T) {
	p := NewPublisher(4, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p.Emit(Entry{Action: ActionConsentCreated, ConsentID: domain.NewConsentID()})

	entry := <-p.Inbox()
	assert.Equal(t, ActionConsentCreated, entry.Action)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestEmitDropsWhenBufferFull(t *testing.T) {
	p := NewPublisher(1, slog.New(slog.NewTextHandler(io.Discard, nil)))

	p.Emit(Entry{Action: ActionConsentCreated})
	p.Emit(Entry{Action: ActionConsentRevoked}) // dropped, must not block

	entry := <-p.Inbox()
	assert.Equal(t, ActionConsentCreated, entry.Action)
	select {
	case <-p.Inbox():
		t.Fatal("second entry should have been dropped")
	default:
	}
}

func TestHashCustomerIDRedacts(t *testing.T) {
	hash := HashCustomerID("cust-1")
	require.NotEmpty(t, hash)
	assert.NotContains(t, hash, "cust-1")
	assert.Equal(t, hash, HashCustomerID("cust-1"), "hash must be deterministic")
	assert.Empty(t, HashCustomerID(""))
}
