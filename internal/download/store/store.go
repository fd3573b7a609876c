package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/droplock/internal/download/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite) implement
// this. The single Codes sub-repository keeps the shape open for future
// drivers while actively stopping callers from nesting transactions.
type Store interface {
	Codes() Codes

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// This is the recommended way to handle transactions as it automatically
	// handles commit/rollback logic. Redemption depends on it: the
	// read-check-write on a code row must be one atomic unit.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Vacuum reclaims file space after bulk deletes. Only valid outside a
	// transaction.
	Vacuum(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Codes interface {
	// CreateCode inserts a new unused code record (id is provided by app via
	// ULID). Returns ErrAlreadyExists when the code collides with an existing
	// row.
	CreateCode(ctx context.Context, c domain.Code) error

	// GetCode returns a code record by its code string.
	GetCode(ctx context.Context, code string) (domain.Code, error)

	// MarkCodeUsed records the first redemption: sets used, binds the
	// redeeming address and stamps used_at/last_attempt_at with attempts=1.
	MarkCodeUsed(ctx context.Context, code, ip string, now time.Time) error

	// IncrementAttempts bumps the retry counter for an in-window retry and
	// stamps last_attempt_at.
	IncrementAttempts(ctx context.Context, code string, now time.Time) error

	// MostRecentRedemption returns the newest used record bound to ip whose
	// used_at is after since. This is the capability binding used at fetch
	// time.
	MostRecentRedemption(ctx context.Context, ip string, since time.Time) (domain.Code, error)

	// ListUnusedCodes returns all unused code strings, oldest first.
	ListUnusedCodes(ctx context.Context) ([]string, error)

	// CountCodes returns total/used/available counts.
	CountCodes(ctx context.Context) (domain.Stats, error)

	// DeleteAllCodes removes every code record.
	DeleteAllCodes(ctx context.Context) error
}
