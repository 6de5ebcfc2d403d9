package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store provides database access for piecework records. Every operation goes
// through the Handle, so a Store stays usable across backup and restore: the
// next call after the Handle was closed reopens the file.
type Store struct {
	h    *Handle
	live *hub
	now  func() time.Time
}

// New opens the store file at dbPath, creating or migrating the schema. A
// migration failure is returned here rather than on first use.
func New(dbPath string, opts Options) (*Store, error) {
	s := NewWithHandle(NewHandle(dbPath, opts))
	if _, err := s.h.DB(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// NewWithHandle returns a Store that opens h lazily.
func NewWithHandle(h *Handle) *Store {
	s := &Store{h: h, live: newHub(), now: time.Now}
	h.OnReopen(s.live.notifyAll)
	return s
}

// Close closes the underlying Handle. A later operation reopens it.
func (s *Store) Close() error {
	return s.h.Close()
}

// Handle returns the Handle the Store operates through.
func (s *Store) Handle() *Handle {
	return s.h
}

// DB returns the underlying database pool for advanced usage. Writes made
// through it are not seen by live queries, and Handle.Exclusive does not
// wait for its users.
func (s *Store) DB(ctx context.Context) (*sql.DB, error) {
	return s.h.DB(ctx)
}

// SchemaVersion returns the on-disk schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return userVersion(ctx, db)
}

// withTx runs fn in a transaction and notifies live queries on tables after
// it commits. The transaction runs to commit or rollback even if the
// caller's ctx is cancelled part way through.
func (s *Store) withTx(ctx context.Context, tables []string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx = context.WithoutCancel(ctx)
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.live.notify(tables...)
	return nil
}

// exec runs a single write statement and notifies live queries on tables.
func (s *Store) exec(ctx context.Context, tables []string, query string, args ...any) (sql.Result, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	s.live.notify(tables...)
	return result, nil
}

// mustAffect turns a zero-row update or delete into ErrNotFound.
func mustAffect(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

// Optional timestamps are stored as epoch milliseconds; 0 means unset.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
