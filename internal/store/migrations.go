package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Step transforms the schema from version From to version To. Apply runs
// inside the step's transaction and must be safe to re-run after a partial
// application.
type Step struct {
	From  int
	To    int
	Name  string
	Apply func(ctx context.Context, tx *sql.Tx) error
}

// Registry is an ordered, contiguous list of migration steps.
type Registry struct {
	// Baseline is the oldest on-disk version the steps can upgrade.
	Baseline int
	Steps    []Step
	// Schema is the full schema at Latest, used to create fresh databases
	// and to validate migrated ones.
	Schema []Table
}

// Latest returns the highest version reachable through the registry.
func (r *Registry) Latest() int {
	if len(r.Steps) == 0 {
		return r.Baseline
	}
	return r.Steps[len(r.Steps)-1].To
}

// Validate checks that step i moves version Baseline+i to Baseline+i+1.
func (r *Registry) Validate() error {
	version := r.Baseline
	for _, s := range r.Steps {
		if s.From != version || s.To != version+1 {
			return fmt.Errorf("step %q moves %d -> %d, want %d -> %d", s.Name, s.From, s.To, version, version+1)
		}
		if s.Apply == nil {
			return fmt.Errorf("step %q has no body", s.Name)
		}
		version = s.To
	}
	return nil
}

// Path returns exactly the steps covering [from, to), in order.
func (r *Registry) Path(from, to int) ([]Step, error) {
	if from == to {
		return nil, nil
	}
	if from > to || from < r.Baseline || to > r.Latest() {
		return nil, fmt.Errorf("%w from %d to %d", ErrNoMigrationPath, from, to)
	}
	var path []Step
	version := from
	for _, s := range r.Steps {
		if s.From == version && version < to {
			path = append(path, s)
			version = s.To
		}
	}
	if version != to {
		return nil, fmt.Errorf("%w from %d to %d", ErrNoMigrationPath, from, to)
	}
	return path, nil
}

// migrations is the shipped upgrade history. Steps only ever add columns,
// tables and indexes, or rebuild a table while carrying every row across.
var migrations = []Step{
	{
		From: 1, To: 2,
		Name: "add_work_records_style",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return addColumnIfMissing(ctx, tx, tableRecords, "style", "TEXT NOT NULL DEFAULT ''")
		},
	},
	{
		From: 2, To: 3,
		Name: "create_styles",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return createTables(ctx, tx, []Table{stylesTable})
		},
	},
	{
		From: 3, To: 4,
		Name: "add_work_records_details",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			if err := addColumnIfMissing(ctx, tx, tableRecords, "totalQuantity", "REAL NOT NULL DEFAULT 0.0"); err != nil {
				return err
			}
			if err := addColumnIfMissing(ctx, tx, tableRecords, "serialNumber", "TEXT NOT NULL DEFAULT ''"); err != nil {
				return err
			}
			return addColumnIfMissing(ctx, tx, tableRecords, "color", "TEXT NOT NULL DEFAULT ''")
		},
	},
	{
		From: 4, To: 5,
		Name: "create_work_record_images",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return createTables(ctx, tx, []Table{imagesTable})
		},
	},
	{
		From: 5, To: 6,
		Name: "create_work_record_color_items",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return createTables(ctx, tx, []Table{colorItemsTable})
		},
	},
	{
		From: 6, To: 7,
		Name: "create_color_groups_and_presets",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return createTables(ctx, tx, []Table{groupsTable, presetsTable})
		},
	},
	{
		From: 7, To: 8,
		Name: "rebuild_work_records_nullable_process",
		Apply: func(ctx context.Context, tx *sql.Tx) error {
			return RebuildTable(ctx, tx, recordsTable, recordsTable.ColumnNames())
		},
	},
}

// DefaultRegistry is the registry every production store migrates with.
var DefaultRegistry = &Registry{
	Baseline: 1,
	Steps:    migrations,
	Schema:   LatestSchema,
}

// addColumnIfMissing adds a column unless a previous partial run already did.
func addColumnIfMissing(ctx context.Context, tx *sql.Tx, table, column, definition string) error {
	var n int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("adding column %s.%s: %w", table, column, err)
	}
	return nil
}

// RebuildTable replaces target.Name with a table of target's shape: create a
// shadow table, copy columns by name, drop the original and rename the
// shadow into place. The engine cannot alter column constraints in place, so
// this is the only way to change nullability or type. Run it inside a
// transaction with foreign key enforcement off so the drop does not cascade.
func RebuildTable(ctx context.Context, tx *sql.Tx, target Table, columns []string) error {
	shadow := target.Name + "_new"

	// A previous attempt may have left a shadow behind; the original table
	// is still authoritative.
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+shadow); err != nil {
		return fmt.Errorf("dropping stale %s: %w", shadow, err)
	}
	if _, err := tx.ExecContext(ctx, target.CreateSQL(shadow)); err != nil {
		return fmt.Errorf("creating %s: %w", shadow, err)
	}

	cols := strings.Join(columns, ", ")
	copySQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", shadow, cols, cols, target.Name)
	if _, err := tx.ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("copying %s into %s: %w", target.Name, shadow, err)
	}

	var before, after int64
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+target.Name).Scan(&before); err != nil {
		return fmt.Errorf("counting %s: %w", target.Name, err)
	}
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+shadow).Scan(&after); err != nil {
		return fmt.Errorf("counting %s: %w", shadow, err)
	}
	if before != after {
		return fmt.Errorf("rebuilding %s: copied %d of %d rows", target.Name, after, before)
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+target.Name); err != nil {
		return fmt.Errorf("dropping %s: %w", target.Name, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, target.Name)); err != nil {
		return fmt.Errorf("renaming %s: %w", shadow, err)
	}
	for _, stmt := range target.IndexSQL() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("recreating index on %s: %w", target.Name, err)
		}
	}
	return nil
}

// Migrator brings a database to its registry's latest version.
type Migrator struct {
	Registry *Registry
	Log      zerolog.Logger
}

// NewMigrator returns a Migrator for r, or DefaultRegistry when r is nil.
func NewMigrator(r *Registry, log zerolog.Logger) *Migrator {
	if r == nil {
		r = DefaultRegistry
	}
	return &Migrator{Registry: r, Log: log}
}

// CurrentVersion returns the latest registered version.
func (m *Migrator) CurrentVersion() int {
	return m.Registry.Latest()
}

// Migrate inspects the on-disk version and applies the minimal sequence of
// steps. An empty database is created directly at the latest version. A
// database newer than the registry, or one with no path forward, is never
// touched. Migration runs to completion even if ctx is cancelled.
func (m *Migrator) Migrate(ctx context.Context, db *sql.DB) error {
	ctx = context.WithoutCancel(ctx)
	latest := m.Registry.Latest()

	if err := m.Registry.Validate(); err != nil {
		return &MigrationError{To: latest, Err: err}
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	version, err := userVersion(ctx, conn)
	if err != nil {
		return &MigrationError{To: latest, Err: err}
	}

	switch {
	case version > latest:
		return &MigrationError{From: version, To: latest, Err: ErrDowngrade}

	case version == 0:
		empty, err := isEmpty(ctx, conn)
		if err != nil {
			return &MigrationError{To: latest, Err: err}
		}
		if !empty {
			// Tables without a recorded version: refuse rather than guess.
			return &MigrationError{To: latest, Err: fmt.Errorf("%w: unversioned database has tables", ErrNoMigrationPath)}
		}
		if err := m.create(ctx, conn); err != nil {
			return &MigrationError{To: latest, Err: err}
		}
		m.Log.Info().Int("version", latest).Msg("created schema")
		return nil

	case version < latest:
		if err := m.MigrateRange(ctx, conn, version, latest); err != nil {
			return err
		}
	}

	if err := ValidateSchema(ctx, conn, m.Registry.Schema); err != nil {
		return &MigrationError{From: version, To: latest, Err: err}
	}
	return nil
}

// MigrateRange applies exactly the steps covering [from, to) on conn, each in
// its own transaction. Foreign key enforcement is suspended for the duration
// so table rebuilds cannot cascade deletes into child tables; every step is
// checked with foreign_key_check before it commits.
func (m *Migrator) MigrateRange(ctx context.Context, conn *sql.Conn, from, to int) error {
	steps, err := m.Registry.Path(from, to)
	if err != nil {
		return &MigrationError{From: from, To: to, Err: err}
	}
	if len(steps) == 0 {
		return nil
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return &MigrationError{From: from, To: to, Err: fmt.Errorf("disabling foreign keys: %w", err)}
	}
	defer conn.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	for _, s := range steps {
		if err := m.applyStep(ctx, conn, s); err != nil {
			return &MigrationError{From: s.From, To: s.To, Step: s.Name, Err: err}
		}
		migrationsAppliedTotal.Inc()
		m.Log.Info().Int("from", s.From).Int("to", s.To).Str("step", s.Name).Msg("applied migration")
	}
	return nil
}

func (m *Migrator) applyStep(ctx context.Context, conn *sql.Conn, s Step) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	if err := s.Apply(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := foreignKeyCheck(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", s.To)); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording version %d: %w", s.To, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (m *Migrator) create(ctx context.Context, conn *sql.Conn) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := createTables(ctx, tx, m.Registry.Schema); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Registry.Latest())); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording version: %w", err)
	}
	return tx.Commit()
}

// CreateBaseline lays down the version 1 schema on an empty database.
func CreateBaseline(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := createTables(ctx, tx, BaselineSchema); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, "PRAGMA user_version = 1"); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording version: %w", err)
	}
	return tx.Commit()
}

func userVersion(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func isEmpty(ctx context.Context, conn *sql.Conn) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspecting database: %w", err)
	}
	return n == 0, nil
}

func foreignKeyCheck(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("checking foreign keys: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		var table string
		var rowid sql.NullInt64
		var parent string
		var fkid int
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("scanning foreign key violation: %w", err)
		}
		return fmt.Errorf("foreign key violation in %s row %d referencing %s", table, rowid.Int64, parent)
	}
	return rows.Err()
}
