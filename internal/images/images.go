// Package images copies attached pictures into the application's private
// image directory. The returned path is stored on records as an opaque
// string.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrOutsideDir is returned by Remove for paths this Store did not create.
var ErrOutsideDir = errors.New("path is outside the image directory")

// Store saves image bytes under a single directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// New returns a Store rooted at dir on fs.
func New(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: filepath.Clean(dir)}
}

// Dir returns the image directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save copies src into a new uniquely named file and returns its path. ext
// is the file extension, with or without the leading dot.
func (s *Store) Save(ctx context.Context, src io.Reader, ext string) (string, error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating image dir: %w", err)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	path := filepath.Join(s.dir, uuid.NewString()+strings.ToLower(ext))

	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating image: %w", err)
	}
	_, err = io.Copy(f, readerFunc(func(p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return src.Read(p)
	}))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(path)
		return "", fmt.Errorf("copying image: %w", err)
	}
	return path, nil
}

// SaveFile copies the file at src, keeping its extension.
func (s *Store) SaveFile(ctx context.Context, src string) (string, error) {
	f, err := s.fs.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()
	return s.Save(ctx, f, filepath.Ext(src))
}

// Remove deletes a saved image. Removing a missing file is not an error.
func (s *Store) Remove(path string) error {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("removing %s: %w", path, ErrOutsideDir)
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing image: %w", err)
	}
	return nil
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }
