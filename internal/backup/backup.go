// Package backup exports and restores the store file as a raw byte copy.
//
// Both directions run while the store handle is closed and held, so no
// connection can observe or write a half-copied file. The handle reopens,
// and re-migrates, on the next data operation.
package backup

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

var (
	// ErrStoreMissing is returned by Export when there is no store file.
	ErrStoreMissing = errors.New("store file does not exist")

	// ErrNotDatabase is returned by Import when the source is not a SQLite
	// database file.
	ErrNotDatabase = errors.New("source is not a database file")
)

// sqliteHeader opens every SQLite database file.
var sqliteHeader = []byte("SQLite format 3\x00")

// sidecars are the engine's journal files, rebuilt on the next open.
var sidecars = []string{"-wal", "-shm", "-journal"}

// Error reports a failed export or import. On import the store file has
// already been put back the way it was.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Handle gives exclusive access to the closed store file.
type Handle interface {
	Exclusive(ctx context.Context, fn func(path string) error) error
}

// Manager exports and imports the store file behind a Handle.
type Manager struct {
	h   Handle
	fs  afero.Fs
	log zerolog.Logger
	now func() time.Time

	// mu serializes exports and imports within the process.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithFs sets the filesystem the store file lives on. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(m *Manager) { m.fs = fs }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock sets the clock used for descriptions and file names.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a Manager for the store behind h.
func New(h Handle, opts ...Option) *Manager {
	m := &Manager{
		h:   h,
		fs:  afero.NewOsFs(),
		log: zerolog.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultFileName returns the conventional backup file name,
// <product>_backup_<YYYYMMDD_HHmmss>.db.
func DefaultFileName(product string, now time.Time) string {
	return fmt.Sprintf("%s_backup_%s.db", product, now.Format("20060102_150405"))
}

// Export copies the store file byte for byte to dst and returns a
// description of the backup.
func (m *Manager) Export(ctx context.Context, dst io.Writer) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var size int64
	var storePath string
	err := m.h.Exclusive(ctx, func(path string) error {
		storePath = path
		m.log.Info().Str("path", path).Msg("exporting store")

		if _, err := m.fs.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ErrStoreMissing
			}
			return err
		}
		f, err := m.fs.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		size, err = io.Copy(dst, &ctxReader{ctx: ctx, r: f})
		return err
	})
	if err != nil {
		operationsTotal.WithLabelValues("export", "error").Inc()
		m.log.Error().Err(err).Str("path", storePath).Msg("export failed")
		return "", &Error{Op: "export", Path: storePath, Err: err}
	}

	operationsTotal.WithLabelValues("export", "ok").Inc()
	m.log.Info().Int64("bytes", size).Msg("exported store")
	return fmt.Sprintf("backup complete (%s, %s)", humanize.IBytes(uint64(size)), m.now().Format("2006-01-02 15:04:05")), nil
}

// ExportFile exports the store to a new file at dest, replacing any file
// there. A failed export removes the partial file.
func (m *Manager) ExportFile(ctx context.Context, dest string) (string, error) {
	f, err := m.fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", &Error{Op: "export", Path: dest, Err: err}
	}

	desc, err := m.Export(ctx, f)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &Error{Op: "export", Path: dest, Err: cerr}
	}
	if err != nil {
		m.fs.Remove(dest)
		return "", err
	}
	return desc, nil
}

// Import replaces the store file with the bytes of src. The current file is
// first copied to a temporary backup beside it; if writing src fails part
// way, the backup is copied back before the error is returned. On success
// the engine's journal sidecars are removed so they are rebuilt against the
// new file. The temporary backup is always removed.
func (m *Manager) Import(ctx context.Context, src io.Reader) (string, error) {
	br := bufio.NewReaderSize(src, 64*1024)
	header, err := br.Peek(len(sqliteHeader))
	if err != nil || !bytes.Equal(header, sqliteHeader) {
		operationsTotal.WithLabelValues("import", "error").Inc()
		return "", &Error{Op: "import", Path: "source", Err: ErrNotDatabase}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var size int64
	var storePath string
	err = m.h.Exclusive(ctx, func(path string) error {
		storePath = path
		m.log.Info().Str("path", path).Msg("importing store")

		var err error
		size, err = m.replace(ctx, path, br)
		return err
	})
	if err != nil {
		operationsTotal.WithLabelValues("import", "error").Inc()
		m.log.Error().Err(err).Str("path", storePath).Msg("import failed")
		return "", &Error{Op: "import", Path: storePath, Err: err}
	}

	operationsTotal.WithLabelValues("import", "ok").Inc()
	m.log.Info().Int64("bytes", size).Msg("imported store")
	return fmt.Sprintf("restore complete (%s)", humanize.IBytes(uint64(size))), nil
}

// ImportFile imports the store from the file at src.
func (m *Manager) ImportFile(ctx context.Context, src string) (string, error) {
	f, err := m.fs.Open(src)
	if err != nil {
		return "", &Error{Op: "import", Path: src, Err: err}
	}
	defer f.Close()
	return m.Import(ctx, f)
}

func (m *Manager) replace(ctx context.Context, path string, src io.Reader) (int64, error) {
	existed, err := afero.Exists(m.fs, path)
	if err != nil {
		return 0, err
	}

	var tmp string
	if existed {
		tmp = path + "." + uuid.NewString() + ".bak"
		if err := m.copyFile(context.Background(), path, tmp); err != nil {
			m.fs.Remove(tmp)
			return 0, fmt.Errorf("saving current store: %w", err)
		}
		defer m.fs.Remove(tmp)
	}

	size, err := m.writeFile(ctx, path, src)
	if err != nil {
		if !existed {
			m.fs.Remove(path)
			return 0, err
		}
		m.log.Warn().Err(err).Str("path", path).Msg("rolling back import")
		if rerr := m.copyFile(context.Background(), tmp, path); rerr != nil {
			return 0, errors.Join(err, fmt.Errorf("rolling back: %w", rerr))
		}
		return 0, err
	}

	for _, suffix := range sidecars {
		if err := m.fs.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Warn().Err(err).Str("path", path+suffix).Msg("removing stale sidecar")
		}
	}
	return size, nil
}

func (m *Manager) copyFile(ctx context.Context, from, to string) error {
	f, err := m.fs.Open(from)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = m.writeFile(ctx, to, f)
	return err
}

func (m *Manager) writeFile(ctx context.Context, path string, src io.Reader) (int64, error) {
	f, err := m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: src})
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
