//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"openconsent/pkg/domain"
	audit "openconsent/pkg/platform/audit"
	txcontext "openconsent/pkg/platform/tx"
	"openconsent/pkg/testutil/containers"
)

type PostgresAuditSuite struct {
	suite.Suite
	ctx       context.Context
	container *containers.PostgresContainer
	db        *sql.DB
	store     *Store
}

func TestPostgresAuditSuite(t *testing.T) {
	suite.Run(t, new(PostgresAuditSuite))
}

func (s *PostgresAuditSuite) SetupSuite() {
	s.ctx = context.Background()
	s.container = containers.NewPostgresContainer(s.T())

	db, err := sql.Open("postgres", s.container.DSN)
	s.Require().NoError(err)
	s.db = db

	s.store = New(db)
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresAuditSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *PostgresAuditSuite) SetupTest() {
	s.Require().NoError(s.container.TruncateAll(s.ctx, "audit_entries"))
}

func (s *PostgresAuditSuite) entry(action audit.Action, id domain.ConsentID) audit.Entry {
	return audit.Entry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		ConsentID: id,
		Decision:  string(action),
	}
}

func (s *PostgresAuditSuite) TestAppendAndList() {
	id := domain.NewConsentID()
	s.Require().NoError(s.store.Append(s.ctx, s.entry(audit.ActionConsentCreated, id)))
	s.Require().NoError(s.store.Append(s.ctx, s.entry(audit.ActionConsentAuthorized, id)))

	entries, err := s.store.ListByConsent(s.ctx, id)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(audit.ActionConsentCreated, entries[0].Action)
	s.Equal(audit.ActionConsentAuthorized, entries[1].Action)
}

func (s *PostgresAuditSuite) TestAppendBatchIsAtomic() {
	id := domain.NewConsentID()
	batch := []audit.Entry{
		s.entry(audit.ActionConsentCreated, id),
		s.entry(audit.ActionConsentAuthorized, id),
		s.entry(audit.ActionConsentRevoked, id),
	}
	s.Require().NoError(s.store.AppendBatch(s.ctx, batch))

	entries, err := s.store.ListByConsent(s.ctx, id)
	s.Require().NoError(err)
	s.Len(entries, 3)
}

func (s *PostgresAuditSuite) TestAppendJoinsContextTransaction() {
	id := domain.NewConsentID()

	s.Run("rolled back writes never surface", func() {
		tx, err := s.db.BeginTx(s.ctx, nil)
		s.Require().NoError(err)
		txCtx := txcontext.WithTx(s.ctx, tx)

		s.Require().NoError(s.store.Append(txCtx, s.entry(audit.ActionConsentCreated, id)))
		s.Require().NoError(s.store.Append(txCtx, s.entry(audit.ActionConsentAuthorized, id)))
		s.Require().NoError(tx.Rollback())

		entries, err := s.store.ListByConsent(s.ctx, id)
		s.Require().NoError(err)
		s.Empty(entries)
	})

	s.Run("committed transaction makes writes visible", func() {
		tx, err := s.db.BeginTx(s.ctx, nil)
		s.Require().NoError(err)
		txCtx := txcontext.WithTx(s.ctx, tx)

		s.Require().NoError(s.store.Append(txCtx, s.entry(audit.ActionConsentCreated, id)))
		s.Require().NoError(tx.Commit())

		entries, err := s.store.ListByConsent(s.ctx, id)
		s.Require().NoError(err)
		s.Len(entries, 1)
	})
}
