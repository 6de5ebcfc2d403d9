package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	// Verify database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	version, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != DefaultRegistry.Latest() {
		t.Errorf("SchemaVersion() = %d, want %d", version, DefaultRegistry.Latest())
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/test.db", Options{})
	if err == nil {
		t.Error("New() expected error for invalid path")
	}
}

func TestStore_Close(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	// Closing twice is a no-op
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStore_ReopensAfterClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateProcess(ctx, &Process{Name: "Sewing", DefaultPrice: 1.5, Unit: "pc", IsActive: true}); err != nil {
		t.Fatalf("CreateProcess() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.Handle().IsOpen() {
		t.Fatal("IsOpen() = true after Close()")
	}

	processes, err := s.ListProcesses(ctx)
	if err != nil {
		t.Fatalf("ListProcesses() after Close() error = %v", err)
	}
	if len(processes) != 1 {
		t.Errorf("ListProcesses() returned %d processes, want 1", len(processes))
	}
	if !s.Handle().IsOpen() {
		t.Error("IsOpen() = false after use")
	}
}

func TestStore_ReopenIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s1, err := New(dbPath, Options{})
	if err != nil {
		t.Fatalf("New() first call error = %v", err)
	}
	s1.Close()

	s2, err := New(dbPath, Options{})
	if err != nil {
		t.Fatalf("New() second call error = %v", err)
	}
	defer s2.Close()

	version, err := s2.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 8 {
		t.Errorf("SchemaVersion() = %d, want 8", version)
	}
}

func TestHandle_Exclusive(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle()

	var gotPath string
	err := h.Exclusive(context.Background(), func(path string) error {
		gotPath = path
		if h.db != nil {
			t.Error("handle still open inside Exclusive()")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Exclusive() error = %v", err)
	}
	if gotPath != h.Path() {
		t.Errorf("Exclusive() path = %q, want %q", gotPath, h.Path())
	}

	wantErr := errors.New("copy failed")
	err = h.Exclusive(context.Background(), func(string) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("Exclusive() error = %v, want %v", err, wantErr)
	}
}

func TestHandle_ExclusiveWaitsForAcquired(t *testing.T) {
	s := newTestStore(t)
	h := s.Handle()

	db, release, err := h.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Exclusive(context.Background(), func(string) error { return nil })
	}()

	select {
	case <-done:
		t.Fatal("Exclusive() returned while an operation was acquired")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := db.Exec("INSERT INTO styles (name) VALUES ('held')"); err != nil {
		t.Errorf("Exec() on acquired pool error = %v", err)
	}
	release()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Exclusive() did not run after release")
	}
	if h.IsOpen() {
		t.Error("handle open after Exclusive()")
	}

	st, err := s.GetStyleByName(context.Background(), "held")
	if err != nil {
		t.Fatalf("GetStyleByName() error = %v", err)
	}
	if st == nil {
		t.Error("write made before Exclusive() was lost")
	}
}

func TestHandle_ExclusiveCancelled(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Handle().Exclusive(ctx, func(string) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Exclusive() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("Exclusive() ran callback with cancelled context")
	}
}

// newTestStore creates a new store for testing with a temporary database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
