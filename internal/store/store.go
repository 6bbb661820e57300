package store

import (
	"context"
	"errors"

	"github.com/exzibtx/deployd/internal/domain"
)

var (
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateUsername is surfaced when an insert or update would leave
	// two records in one collection sharing a username. The uniqueness check
	// and the write are a single atomic operation at the driver level, so
	// concurrent creations of the same username cannot both commit.
	ErrDuplicateUsername = errors.New("store: duplicate username")
)

// Store is the root data access interface. Concrete drivers (sqlite)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	Documents() Documents
	Sessions() Sessions

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn returns
	// an error and committing otherwise. This is the recommended way to
	// handle multi-step mutations like bulk deletes.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It exposes the same repos plus Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Documents is generic CRUD-by-query over opaque records, keyed by
// collection name. Records are stored as JSON documents; queries are
// top-level field equality matches.
type Documents interface {
	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (domain.Record, error)

	// Find returns all records matching every field in query, in insertion
	// order. An empty query matches the whole collection.
	Find(ctx context.Context, collection string, query map[string]any) ([]domain.Record, error)

	// Insert stores a new record (id is provided by the service).
	Insert(ctx context.Context, collection string, rec domain.Record) error

	// Update replaces the stored record with rec, keeping the same id.
	Update(ctx context.Context, collection, id string, rec domain.Record) error

	// Delete removes the record with the given id. Deleting an absent id
	// returns ErrNotFound so callers can distinguish a no-op.
	Delete(ctx context.Context, collection, id string) error
}

// Sessions is the shared session table. Tokens are stored verbatim; they are
// already unguessable 128-character random strings.
type Sessions interface {
	// Create persists a new session.
	Create(ctx context.Context, s domain.Session) error

	// Get returns the session with the given token, or ErrNotFound.
	Get(ctx context.Context, id string) (domain.Session, error)

	// Delete removes a session. Unknown tokens are not an error.
	Delete(ctx context.Context, id string) error

	// DeleteAllForUser removes every session bound to uid, invoked when the
	// user is deleted so no live session outlives its user.
	DeleteAllForUser(ctx context.Context, uid string) error

	// DeleteOrphans removes sessions whose user record no longer exists.
	// Housekeeping; returns the number of sessions removed.
	DeleteOrphans(ctx context.Context) (int64, error)
}
