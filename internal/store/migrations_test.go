package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

// openRaw opens a database file without migrating it.
func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	return db
}

// createAtVersion builds a database at the given schema version by laying
// down the baseline and applying the shipped steps up to it.
func createAtVersion(t *testing.T, path string, version int) {
	t.Helper()
	ctx := context.Background()
	db := openRaw(t, path)
	defer db.Close()

	if err := CreateBaseline(ctx, db); err != nil {
		t.Fatalf("CreateBaseline() error = %v", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("Conn() error = %v", err)
	}
	defer conn.Close()

	m := NewMigrator(nil, zerolog.Nop())
	if err := m.MigrateRange(ctx, conn, 1, version); err != nil {
		t.Fatalf("MigrateRange(1, %d) error = %v", version, err)
	}
}

// seedAtVersion inserts rows using only the columns and tables that exist
// at version. schemaVersion is the version of db itself: seeding a latest
// database with an older version's rows loads the same logical rows a
// migration of that older database should produce.
func seedAtVersion(t *testing.T, db *sql.DB, version, schemaVersion int) {
	t.Helper()
	styleCol, styleVal := "", ""
	if schemaVersion >= 2 {
		// style has no default once work_records is rebuilt.
		styleCol, styleVal = "style, ", "'', "
	}
	stmts := []string{
		"INSERT INTO processes (id, name, defaultPrice, unit, isActive) VALUES (1, 'Sewing', 2.5, 'pc', 1)",
		"INSERT INTO processes (id, name, defaultPrice, unit, isActive) VALUES (2, 'Ironing', 0.8, 'pc', 0)",
		"INSERT INTO work_records (id, processId, processName, " + styleCol + "unitPrice, quantity, amount, startTime, endTime, remark, date, createTime) " +
			"VALUES (1, 1, 'Sewing', " + styleVal + "2.5, 10, 25, 0, 0, 'first', 1700006400000, 1700010000000)",
		"INSERT INTO work_records (id, processId, processName, " + styleCol + "unitPrice, quantity, amount, startTime, endTime, remark, date, createTime) " +
			"VALUES (2, 2, 'Ironing', " + styleVal + "0.8, 5, 4, 1700090000000, 1700093600000, '', 1700092800000, 1700096400000)",
	}
	if version >= 2 {
		stmts = append(stmts, "UPDATE work_records SET style = 'A1' WHERE id = 1")
	}
	if version >= 3 {
		stmts = append(stmts, "INSERT INTO styles (id, name) VALUES (1, 'A1')")
	}
	if version >= 4 {
		stmts = append(stmts, "UPDATE work_records SET totalQuantity = 40, serialNumber = 'SN-7', color = 'red' WHERE id = 2")
	}
	if version >= 5 {
		stmts = append(stmts, "INSERT INTO work_record_images (id, workRecordId, imagePath, createTime) VALUES (1, 1, '/img/a.jpg', 1700010000000)")
	}
	if version >= 6 {
		stmts = append(stmts,
			"INSERT INTO work_record_color_items (id, workRecordId, colorName, colorHex, quantity, sortOrder) VALUES (1, 1, 'red', '#FF0000', 6, 0)",
			"INSERT INTO work_record_color_items (id, workRecordId, colorName, colorHex, quantity, sortOrder) VALUES (2, 1, 'blue', '#0000FF', 4, 1)",
		)
	}
	if version >= 7 {
		stmts = append(stmts,
			"INSERT INTO color_groups (id, name, sortOrder) VALUES (1, 'Basics', 0)",
			"INSERT INTO color_presets (id, name, hexValue, groupId, sortOrder) VALUES (1, 'red', '#FF0000', 1, 0)",
		)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seeding %q: %v", stmt, err)
		}
	}
}

// dumpTable returns every row of table keyed by column name, ordered by id.
func dumpTable(t *testing.T, db *sql.DB, table string) []map[string]any {
	t.Helper()
	rows, err := db.Query("SELECT * FROM " + table + " ORDER BY id")
	if err != nil {
		t.Fatalf("dumping %s: %v", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("columns of %s: %v", table, err)
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			t.Fatalf("scanning %s: %v", table, err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterating %s: %v", table, err)
	}
	return out
}

func TestMigrate_FromEveryVersion(t *testing.T) {
	ctx := context.Background()

	for version := 1; version <= DefaultRegistry.Latest(); version++ {
		version := version
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			dir := t.TempDir()

			// Old database, migrated on open.
			oldPath := filepath.Join(dir, "old.db")
			createAtVersion(t, oldPath, version)
			raw := openRaw(t, oldPath)
			seedAtVersion(t, raw, version, version)
			raw.Close()

			migrated, err := New(oldPath, Options{})
			if err != nil {
				t.Fatalf("New() on version %d error = %v", version, err)
			}
			defer migrated.Close()

			// Fresh database at latest, loaded with the same rows.
			fresh, err := New(filepath.Join(dir, "fresh.db"), Options{})
			if err != nil {
				t.Fatalf("New() fresh error = %v", err)
			}
			defer fresh.Close()
			freshDB, _ := fresh.DB(ctx)
			seedAtVersion(t, freshDB, version, DefaultRegistry.Latest())

			migratedDB, _ := migrated.DB(ctx)
			gotSchema, err := DescribeSchema(ctx, migratedDB)
			if err != nil {
				t.Fatalf("DescribeSchema() migrated error = %v", err)
			}
			wantSchema, err := DescribeSchema(ctx, freshDB)
			if err != nil {
				t.Fatalf("DescribeSchema() fresh error = %v", err)
			}
			if !reflect.DeepEqual(gotSchema, wantSchema) {
				t.Errorf("migrated schema differs from fresh schema:\n got %+v\nwant %+v", gotSchema, wantSchema)
			}

			for _, table := range LatestSchema {
				got := dumpTable(t, migratedDB, table.Name)
				want := dumpTable(t, freshDB, table.Name)
				if !reflect.DeepEqual(got, want) {
					t.Errorf("%s rows differ:\n got %v\nwant %v", table.Name, got, want)
				}
			}

			v, err := migrated.SchemaVersion(ctx)
			if err != nil {
				t.Fatalf("SchemaVersion() error = %v", err)
			}
			if v != DefaultRegistry.Latest() {
				t.Errorf("SchemaVersion() = %d, want %d", v, DefaultRegistry.Latest())
			}
		})
	}
}

func TestMigrate_ProcessDeleteAfterRebuild(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	createAtVersion(t, path, 7)
	raw := openRaw(t, path)
	seedAtVersion(t, raw, 7, 7)
	raw.Close()

	s, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if err := s.DeleteProcess(ctx, 1); err != nil {
		t.Fatalf("DeleteProcess() error = %v", err)
	}
	rec, err := s.GetRecord(ctx, 1)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec == nil {
		t.Fatal("GetRecord() = nil, record was deleted with its process")
	}
	if rec.ProcessID != nil {
		t.Errorf("GetRecord().ProcessID = %d, want nil", *rec.ProcessID)
	}
	items, err := s.ColorItemsForRecord(ctx, 1)
	if err != nil {
		t.Fatalf("ColorItemsForRecord() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("ColorItemsForRecord() returned %d items, want 2", len(items))
	}
}

func TestMigrate_Downgrade(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	raw := openRaw(t, path)
	if _, err := raw.Exec("CREATE TABLE future (id INTEGER)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("setting version: %v", err)
	}
	raw.Close()

	_, err := New(path, Options{})
	if !errors.Is(err, ErrDowngrade) {
		t.Fatalf("New() error = %v, want ErrDowngrade", err)
	}
	var merr *MigrationError
	if !errors.As(err, &merr) {
		t.Fatalf("New() error type = %T, want *MigrationError", err)
	}
	if merr.From != 99 {
		t.Errorf("MigrationError.From = %d, want 99", merr.From)
	}

	raw = openRaw(t, path)
	defer raw.Close()
	var n int
	if err := raw.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'processes'").Scan(&n); err != nil {
		t.Fatalf("inspecting database: %v", err)
	}
	if n != 0 {
		t.Error("downgraded database was modified")
	}
}

func TestMigrate_UnversionedWithTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	raw := openRaw(t, path)
	if _, err := raw.Exec("CREATE TABLE processes (id INTEGER PRIMARY KEY)"); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	raw.Close()

	_, err := New(path, Options{})
	if !errors.Is(err, ErrNoMigrationPath) {
		t.Errorf("New() error = %v, want ErrNoMigrationPath", err)
	}
}

func TestMigrate_StepFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	raw := openRaw(t, path)
	if err := CreateBaseline(ctx, raw); err != nil {
		t.Fatalf("CreateBaseline() error = %v", err)
	}
	raw.Close()

	boom := errors.New("boom")
	reg := &Registry{
		Baseline: 1,
		Steps: []Step{
			migrations[0],
			{
				From: 2, To: 3, Name: "fails_half_way",
				Apply: func(ctx context.Context, tx *sql.Tx) error {
					if _, err := tx.ExecContext(ctx, "CREATE TABLE half (id INTEGER)"); err != nil {
						return err
					}
					return boom
				},
			},
		},
		Schema: LatestSchema,
	}

	_, err := New(path, Options{Registry: reg})
	if !errors.Is(err, boom) {
		t.Fatalf("New() error = %v, want boom", err)
	}
	var merr *MigrationError
	if !errors.As(err, &merr) || merr.Step != "fails_half_way" {
		t.Errorf("New() error = %v, want MigrationError for fails_half_way", err)
	}

	raw = openRaw(t, path)
	defer raw.Close()
	v, err := userVersion(ctx, raw)
	if err != nil {
		t.Fatalf("userVersion() error = %v", err)
	}
	if v != 2 {
		t.Errorf("user_version = %d, want 2 (first step committed, second rolled back)", v)
	}
	var n int
	if err := raw.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'half'").Scan(&n); err != nil {
		t.Fatalf("inspecting database: %v", err)
	}
	if n != 0 {
		t.Error("failed step left its table behind")
	}
}

func TestRebuildTable_StaleShadow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	createAtVersion(t, path, 7)
	raw := openRaw(t, path)
	seedAtVersion(t, raw, 7, 7)
	// A crashed earlier attempt outside a transaction.
	if _, err := raw.Exec("CREATE TABLE work_records_new (id INTEGER, junk TEXT)"); err != nil {
		t.Fatalf("creating stale shadow: %v", err)
	}
	raw.Close()

	s, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	records, err := s.ListRecords(context.Background())
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("ListRecords() returned %d records, want 2", len(records))
	}
}

func TestMigrate_IncompleteStepRerun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	createAtVersion(t, path, 3)
	raw := openRaw(t, path)
	// Step 3 -> 4 partly applied before a crash.
	if _, err := raw.Exec("ALTER TABLE work_records ADD COLUMN totalQuantity REAL NOT NULL DEFAULT 0.0"); err != nil {
		t.Fatalf("adding column: %v", err)
	}
	raw.Close()

	s, err := New(path, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Close()
}

func TestRegistry_Path(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		want     []int
		wantErr  bool
	}{
		{name: "full", from: 1, to: 8, want: []int{1, 2, 3, 4, 5, 6, 7}},
		{name: "middle", from: 3, to: 5, want: []int{3, 4}},
		{name: "last", from: 7, to: 8, want: []int{7}},
		{name: "none", from: 8, to: 8, want: nil},
		{name: "backwards", from: 5, to: 3, wantErr: true},
		{name: "below baseline", from: 0, to: 8, wantErr: true},
		{name: "beyond latest", from: 1, to: 9, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := DefaultRegistry.Path(tt.from, tt.to)
			if tt.wantErr {
				if !errors.Is(err, ErrNoMigrationPath) {
					t.Errorf("Path(%d, %d) error = %v, want ErrNoMigrationPath", tt.from, tt.to, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Path(%d, %d) error = %v", tt.from, tt.to, err)
			}
			var got []int
			for _, s := range steps {
				got = append(got, s.From)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Path(%d, %d) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestRegistry_Validate(t *testing.T) {
	if err := DefaultRegistry.Validate(); err != nil {
		t.Errorf("DefaultRegistry.Validate() error = %v", err)
	}

	gap := &Registry{Baseline: 1, Steps: []Step{migrations[0], migrations[2]}}
	if err := gap.Validate(); err == nil {
		t.Error("Validate() expected error for non-contiguous steps")
	}
	if _, err := gap.Path(1, gap.Latest()); !errors.Is(err, ErrNoMigrationPath) {
		t.Errorf("Path() error = %v, want ErrNoMigrationPath", err)
	}
}

func TestValidateSchema_DetectsDrift(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	db, err := s.DB(ctx)
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}

	if err := ValidateSchema(ctx, db, LatestSchema); err != nil {
		t.Fatalf("ValidateSchema() on fresh store error = %v", err)
	}
	if _, err := db.Exec("DROP INDEX index_color_presets_name"); err != nil {
		t.Fatalf("dropping index: %v", err)
	}
	if err := ValidateSchema(ctx, db, LatestSchema); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("ValidateSchema() error = %v, want ErrSchemaMismatch", err)
	}
}
