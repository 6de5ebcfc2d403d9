package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Options configures how a Handle opens the store file.
type Options struct {
	// BusyTimeout bounds how long a statement waits on a locked database.
	BusyTimeout time.Duration

	// JournalMode is the SQLite journal mode, WAL unless set.
	JournalMode string

	// Registry supplies the migrations; DefaultRegistry unless set.
	Registry *Registry

	// Logger receives lifecycle events. The zero value discards them.
	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = 5 * time.Second
	}
	if o.JournalMode == "" {
		o.JournalMode = "WAL"
	}
	if o.Registry == nil {
		o.Registry = DefaultRegistry
	}
	return o
}

// Handle owns the single live connection pool to the store file. It opens
// lazily on first use, and a closed Handle reopens (and re-migrates) on the
// next call to DB. All methods are safe for concurrent use.
type Handle struct {
	path string
	opts Options

	// ops is held shared by every operation between Acquire and its
	// release, and exclusively by Exclusive.
	ops sync.RWMutex

	mu       sync.Mutex
	db       *sql.DB
	opens    int
	onReopen []func()
}

// NewHandle returns a closed Handle for the store file at path.
func NewHandle(path string, opts Options) *Handle {
	return &Handle{path: path, opts: opts.withDefaults()}
}

// Path returns the store file path.
func (h *Handle) Path() string {
	return h.path
}

// OnReopen registers fn to run after every open that follows a Close. The
// file may have been replaced in between.
func (h *Handle) OnReopen(fn func()) {
	h.mu.Lock()
	h.onReopen = append(h.onReopen, fn)
	h.mu.Unlock()
}

// DB returns the open pool, opening and migrating the store file first if
// needed. Concurrent callers wait for a single open.
func (h *Handle) DB(ctx context.Context) (*sql.DB, error) {
	h.mu.Lock()
	if h.db != nil {
		db := h.db
		h.mu.Unlock()
		return db, nil
	}

	db, err := h.open(ctx)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	h.db = db
	h.opens++
	var hooks []func()
	if h.opens > 1 {
		hooks = append(hooks, h.onReopen...)
	}
	h.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return db, nil
}

// Acquire returns the open pool like DB and keeps Exclusive from starting
// until release is called. release must be called exactly once.
func (h *Handle) Acquire(ctx context.Context) (db *sql.DB, release func(), err error) {
	h.ops.RLock()
	db, err = h.DB(ctx)
	if err != nil {
		h.ops.RUnlock()
		return nil, nil, err
	}
	return db, h.ops.RUnlock, nil
}

func (h *Handle) dsn() string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", h.opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", fmt.Sprintf("journal_mode(%s)", h.opts.JournalMode))
	q.Set("_txlock", "immediate")
	return "file:" + h.path + "?" + q.Encode()
}

func (h *Handle) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", h.dsn())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer: every statement, read or write, is serialized through
	// one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	m := NewMigrator(h.opts.Registry, h.opts.Logger)
	if err := m.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	handleOpensTotal.Inc()
	h.opts.Logger.Debug().Str("path", h.path).Msg("opened store")
	return db, nil
}

// Close flushes the write-ahead log into the main file and closes the pool.
// It is a no-op on a closed Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeLocked()
}

func (h *Handle) closeLocked() error {
	if h.db == nil {
		return nil
	}
	db := h.db
	h.db = nil

	_, cpErr := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	if cpErr != nil {
		return fmt.Errorf("checkpointing database: %w", cpErr)
	}
	h.opts.Logger.Debug().Str("path", h.path).Msg("closed store")
	return nil
}

// Exclusive waits for acquired operations to be released, closes the
// Handle and runs fn with the store file path. No operation can acquire or
// reopen the file until fn returns. A *sql.DB obtained from DB without
// Acquire is not tracked. The next call to DB reopens and re-migrates.
func (h *Handle) Exclusive(ctx context.Context, fn func(path string) error) error {
	h.ops.Lock()
	defer h.ops.Unlock()
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.closeLocked(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(h.path)
}

// IsOpen reports whether the pool is currently open.
func (h *Handle) IsOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.db != nil
}
