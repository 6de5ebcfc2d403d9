package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an update or delete targets a missing row.
	ErrNotFound = errors.New("not found")

	// ErrEmptyName is returned when a named entity is saved without a name.
	ErrEmptyName = errors.New("name must not be empty")

	// ErrNoMigrationPath is returned when the registry has no contiguous
	// sequence of steps from the on-disk version to the latest version.
	ErrNoMigrationPath = errors.New("no migration path")

	// ErrDowngrade is returned when the on-disk schema is newer than any
	// version this build knows about.
	ErrDowngrade = errors.New("database schema is newer than this build")

	// ErrSchemaMismatch is returned when the migrated schema differs from the
	// registered latest schema.
	ErrSchemaMismatch = errors.New("schema does not match registry")
)

// MigrationError reports a failure to bring the schema up to date. It is
// always fatal: the store is not opened.
type MigrationError struct {
	From int
	To   int
	Step string
	Err  error
}

func (e *MigrationError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("migrating schema %d -> %d (%s): %v", e.From, e.To, e.Step, e.Err)
	}
	return fmt.Sprintf("migrating schema %d -> %d: %v", e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// WriteError reports a compound write that was rolled back. No rows from the
// failed operation persist.
type WriteError struct {
	Op       string
	RecordID int64
	Err      error
}

func (e *WriteError) Error() string {
	if e.RecordID != 0 {
		return fmt.Sprintf("%s record %d: %v", e.Op, e.RecordID, e.Err)
	}
	return fmt.Sprintf("%s record: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
