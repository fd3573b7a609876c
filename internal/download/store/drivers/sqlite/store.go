package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/domain"
	"github.com/aussiebroadwan/droplock/internal/download/store"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", connString(dsn))
	if err != nil {
		return nil, err
	}

	// A plain :memory: DSN gives every pooled connection its own private
	// database. Pin the pool to one connection so all callers share it.
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	return &Store{
		db:  db,
		dsn: dsn,
	}, nil
}

// connString appends the connection options every pooled connection must
// carry. modernc applies _pragma values on each new connection; a one-off
// PRAGMA statement would only reach the connection it happened to run on.
// _txlock=immediate makes WithTx take the write lock at BEGIN, so a
// contended redemption waits out busy_timeout instead of failing on the
// read-to-write upgrade.
func connString(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Vacuum reclaims file space after bulk deletes.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `VACUUM;`)
	return err
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return newTx(tx), nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err // rollback happens in defer
	}

	return tx.Commit()
}

func (s *Store) Codes() store.Codes { return &codesRepo{db: s.db} }

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting the repo serve plain
// and transaction-scoped stores.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// mapConstraint translates sqlite unique-constraint failures to the store
// sentinel. modernc surfaces them as plain errors, so match on the message.
func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed") {
		return store.ErrAlreadyExists
	}
	return err
}

func mapNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

type codeRow struct {
	ID            string
	Code          string
	IsUsed        bool
	UsedIP        sql.NullString
	UsedAt        sql.NullInt64
	Attempts      int
	LastAttemptAt sql.NullInt64
	CreatedAt     int64
}

func mapCode(row codeRow) domain.Code {
	return domain.Code{
		ID:            row.ID,
		Code:          row.Code,
		Used:          row.IsUsed,
		UsedIP:        mapNullString(row.UsedIP),
		UsedAt:        mapNullUnix(row.UsedAt),
		Attempts:      row.Attempts,
		LastAttemptAt: mapNullUnix(row.LastAttemptAt),
		CreatedAt:     time.Unix(row.CreatedAt, 0).UTC(),
	}
}
