package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Table names.
const (
	tableProcesses  = "processes"
	tableRecords    = "work_records"
	tableStyles     = "styles"
	tableImages     = "work_record_images"
	tableColorItems = "work_record_color_items"
	tableGroups     = "color_groups"
	tablePresets    = "color_presets"
)

// Column describes a single table column.
type Column struct {
	Name          string
	Type          string
	NotNull       bool
	PrimaryKey    bool
	AutoIncrement bool
	// Default is the literal SQL default expression, empty for none.
	Default string
}

// ForeignKey describes a single-column reference to another table.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
	// OnDelete is the referential action, e.g. "CASCADE" or "SET NULL".
	OnDelete string
}

// Index describes a (possibly unique) index on one or more columns.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is the declarative form of a table: the registry renders DDL from it
// and validates a live database against it.
type Table struct {
	Name        string
	Columns     []Column
	ForeignKeys []ForeignKey
	Indexes     []Index
}

// ColumnNames returns the table's column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateSQL renders the CREATE TABLE statement for t under the given name.
func (t Table) CreateSQL(name string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", name)

	defs := make([]string, 0, len(t.Columns)+len(t.ForeignKeys))
	for _, c := range t.Columns {
		def := c.Name + " " + c.Type
		if c.PrimaryKey {
			def += " PRIMARY KEY"
			if c.AutoIncrement {
				def += " AUTOINCREMENT"
			}
		}
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Default != "" {
			def += " DEFAULT " + c.Default
		}
		defs = append(defs, "\t"+def)
	}
	for _, fk := range t.ForeignKeys {
		def := fmt.Sprintf("\tFOREIGN KEY(%s) REFERENCES %s(%s)", fk.Column, fk.RefTable, fk.RefColumn)
		if fk.OnDelete != "" {
			def += " ON DELETE " + fk.OnDelete
		}
		defs = append(defs, def)
	}
	sb.WriteString(strings.Join(defs, ",\n"))
	sb.WriteString("\n)")
	return sb.String()
}

// IndexSQL renders the CREATE INDEX statements for t.
func (t Table) IndexSQL() []string {
	stmts := make([]string, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		stmts = append(stmts, fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)",
			unique, idx.Name, t.Name, strings.Join(idx.Columns, ", ")))
	}
	return stmts
}

func idColumn() Column {
	return Column{Name: "id", Type: "INTEGER", NotNull: true, PrimaryKey: true, AutoIncrement: true}
}

var processesTable = Table{
	Name: tableProcesses,
	Columns: []Column{
		idColumn(),
		{Name: "name", Type: "TEXT", NotNull: true},
		{Name: "defaultPrice", Type: "REAL", NotNull: true},
		{Name: "unit", Type: "TEXT", NotNull: true},
		{Name: "isActive", Type: "INTEGER", NotNull: true, Default: "1"},
	},
}

var recordsTable = Table{
	Name: tableRecords,
	Columns: []Column{
		idColumn(),
		{Name: "processId", Type: "INTEGER"},
		{Name: "processName", Type: "TEXT", NotNull: true},
		{Name: "style", Type: "TEXT", NotNull: true},
		{Name: "unitPrice", Type: "REAL", NotNull: true},
		{Name: "quantity", Type: "REAL", NotNull: true},
		{Name: "amount", Type: "REAL", NotNull: true},
		{Name: "startTime", Type: "INTEGER", NotNull: true, Default: "0"},
		{Name: "endTime", Type: "INTEGER", NotNull: true, Default: "0"},
		{Name: "remark", Type: "TEXT", NotNull: true, Default: "''"},
		{Name: "totalQuantity", Type: "REAL", NotNull: true, Default: "0.0"},
		{Name: "serialNumber", Type: "TEXT", NotNull: true, Default: "''"},
		{Name: "color", Type: "TEXT", NotNull: true, Default: "''"},
		{Name: "date", Type: "INTEGER", NotNull: true},
		{Name: "createTime", Type: "INTEGER", NotNull: true},
	},
	ForeignKeys: []ForeignKey{
		{Column: "processId", RefTable: tableProcesses, RefColumn: "id", OnDelete: "SET NULL"},
	},
}

var stylesTable = Table{
	Name: tableStyles,
	Columns: []Column{
		idColumn(),
		{Name: "name", Type: "TEXT", NotNull: true},
	},
}

var imagesTable = Table{
	Name: tableImages,
	Columns: []Column{
		idColumn(),
		{Name: "workRecordId", Type: "INTEGER", NotNull: true},
		{Name: "imagePath", Type: "TEXT", NotNull: true},
		{Name: "createTime", Type: "INTEGER", NotNull: true},
	},
	ForeignKeys: []ForeignKey{
		{Column: "workRecordId", RefTable: tableRecords, RefColumn: "id", OnDelete: "CASCADE"},
	},
	Indexes: []Index{
		{Name: "index_work_record_images_workRecordId", Columns: []string{"workRecordId"}},
	},
}

var colorItemsTable = Table{
	Name: tableColorItems,
	Columns: []Column{
		idColumn(),
		{Name: "workRecordId", Type: "INTEGER", NotNull: true},
		{Name: "colorName", Type: "TEXT", NotNull: true},
		{Name: "colorHex", Type: "TEXT", NotNull: true},
		{Name: "quantity", Type: "REAL", NotNull: true},
		{Name: "sortOrder", Type: "INTEGER", NotNull: true, Default: "0"},
	},
	ForeignKeys: []ForeignKey{
		{Column: "workRecordId", RefTable: tableRecords, RefColumn: "id", OnDelete: "CASCADE"},
	},
	Indexes: []Index{
		{Name: "index_work_record_color_items_workRecordId", Columns: []string{"workRecordId"}},
	},
}

var groupsTable = Table{
	Name: tableGroups,
	Columns: []Column{
		idColumn(),
		{Name: "name", Type: "TEXT", NotNull: true},
		{Name: "sortOrder", Type: "INTEGER", NotNull: true, Default: "0"},
	},
	Indexes: []Index{
		{Name: "index_color_groups_name", Columns: []string{"name"}, Unique: true},
	},
}

// color_presets.groupId has no declared foreign key; group deletion
// reassigns presets in application code (see DeleteColorGroup).
var presetsTable = Table{
	Name: tablePresets,
	Columns: []Column{
		idColumn(),
		{Name: "name", Type: "TEXT", NotNull: true},
		{Name: "hexValue", Type: "TEXT", NotNull: true},
		{Name: "groupId", Type: "INTEGER", NotNull: true, Default: "0"},
		{Name: "sortOrder", Type: "INTEGER", NotNull: true, Default: "0"},
	},
	Indexes: []Index{
		{Name: "index_color_presets_name", Columns: []string{"name"}, Unique: true},
	},
}

// LatestSchema is the full schema at the registry's latest version.
var LatestSchema = []Table{
	processesTable,
	recordsTable,
	stylesTable,
	imagesTable,
	colorItemsTable,
	groupsTable,
	presetsTable,
}

// baselineRecordsTable is work_records as it shipped in version 1: processId
// was mandatory and the row followed its process on delete.
var baselineRecordsTable = Table{
	Name: tableRecords,
	Columns: []Column{
		idColumn(),
		{Name: "processId", Type: "INTEGER", NotNull: true},
		{Name: "processName", Type: "TEXT", NotNull: true},
		{Name: "unitPrice", Type: "REAL", NotNull: true},
		{Name: "quantity", Type: "REAL", NotNull: true},
		{Name: "amount", Type: "REAL", NotNull: true},
		{Name: "startTime", Type: "INTEGER", NotNull: true, Default: "0"},
		{Name: "endTime", Type: "INTEGER", NotNull: true, Default: "0"},
		{Name: "remark", Type: "TEXT", NotNull: true, Default: "''"},
		{Name: "date", Type: "INTEGER", NotNull: true},
		{Name: "createTime", Type: "INTEGER", NotNull: true},
	},
	ForeignKeys: []ForeignKey{
		{Column: "processId", RefTable: tableProcesses, RefColumn: "id", OnDelete: "CASCADE"},
	},
}

// BaselineSchema is the version 1 schema, the oldest on-disk layout the
// registry can upgrade.
var BaselineSchema = []Table{processesTable, baselineRecordsTable}

// execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// createTables creates every table of tables along with its indexes.
func createTables(ctx context.Context, e execer, tables []Table) error {
	for _, t := range tables {
		if _, err := e.ExecContext(ctx, t.CreateSQL(t.Name)); err != nil {
			return fmt.Errorf("creating table %s: %w", t.Name, err)
		}
		for _, stmt := range t.IndexSQL() {
			if _, err := e.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating index on %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// ColumnInfo is a column as reported by the engine.
type ColumnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	Default    string
	PrimaryKey bool
}

// IndexInfo is an explicitly created index as reported by the engine.
type IndexInfo struct {
	Name    string
	Unique  bool
	Columns []string
}

// ForeignKeyInfo is a foreign key as reported by the engine.
type ForeignKeyInfo struct {
	From     string
	Table    string
	To       string
	OnDelete string
}

// TableInfo is the engine's view of a table, normalized so two databases can
// be compared regardless of column order or DDL text.
type TableInfo struct {
	Name        string
	Columns     []ColumnInfo
	Indexes     []IndexInfo
	ForeignKeys []ForeignKeyInfo
}

// Info returns the normalized description the engine should report for t.
func (t Table) Info() TableInfo {
	info := TableInfo{Name: t.Name}
	for _, c := range t.Columns {
		info.Columns = append(info.Columns, ColumnInfo{
			Name:       c.Name,
			Type:       c.Type,
			NotNull:    c.NotNull,
			Default:    c.Default,
			PrimaryKey: c.PrimaryKey,
		})
	}
	for _, idx := range t.Indexes {
		info.Indexes = append(info.Indexes, IndexInfo{
			Name:    idx.Name,
			Unique:  idx.Unique,
			Columns: append([]string(nil), idx.Columns...),
		})
	}
	for _, fk := range t.ForeignKeys {
		onDelete := fk.OnDelete
		if onDelete == "" {
			onDelete = "NO ACTION"
		}
		info.ForeignKeys = append(info.ForeignKeys, ForeignKeyInfo{
			From:     fk.Column,
			Table:    fk.RefTable,
			To:       fk.RefColumn,
			OnDelete: onDelete,
		})
	}
	info.normalize()
	return info
}

func (ti *TableInfo) normalize() {
	sort.Slice(ti.Columns, func(i, j int) bool { return ti.Columns[i].Name < ti.Columns[j].Name })
	sort.Slice(ti.Indexes, func(i, j int) bool { return ti.Indexes[i].Name < ti.Indexes[j].Name })
	sort.Slice(ti.ForeignKeys, func(i, j int) bool { return ti.ForeignKeys[i].From < ti.ForeignKeys[j].From })
}

// DescribeSchema reports every user table in the database. Rows are drained
// before each follow-up query so this is safe on a single-connection pool.
func DescribeSchema(ctx context.Context, q queryer) ([]TableInfo, error) {
	names, err := queryStrings(ctx, q,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		info, err := describeTable(ctx, q, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, info)
	}
	return tables, nil
}

func describeTable(ctx context.Context, q queryer, name string) (TableInfo, error) {
	info := TableInfo{Name: name}

	rows, err := q.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, name)
	if err != nil {
		return info, fmt.Errorf("reading columns of %s: %w", name, err)
	}
	for rows.Next() {
		var c ColumnInfo
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&c.Name, &c.Type, &c.NotNull, &dflt, &pk); err != nil {
			rows.Close()
			return info, fmt.Errorf("scanning column of %s: %w", name, err)
		}
		c.Type = strings.ToUpper(c.Type)
		c.Default = dflt.String
		c.PrimaryKey = pk > 0
		info.Columns = append(info.Columns, c)
	}
	if err := closeRows(rows); err != nil {
		return info, fmt.Errorf("iterating columns of %s: %w", name, err)
	}

	rows, err = q.QueryContext(ctx, `SELECT name, "unique" FROM pragma_index_list(?) WHERE origin = 'c'`, name)
	if err != nil {
		return info, fmt.Errorf("reading indexes of %s: %w", name, err)
	}
	for rows.Next() {
		var idx IndexInfo
		if err := rows.Scan(&idx.Name, &idx.Unique); err != nil {
			rows.Close()
			return info, fmt.Errorf("scanning index of %s: %w", name, err)
		}
		info.Indexes = append(info.Indexes, idx)
	}
	if err := closeRows(rows); err != nil {
		return info, fmt.Errorf("iterating indexes of %s: %w", name, err)
	}
	for i := range info.Indexes {
		cols, err := queryStrings(ctx, q, "SELECT name FROM pragma_index_info(?) ORDER BY seqno", info.Indexes[i].Name)
		if err != nil {
			return info, fmt.Errorf("reading index %s: %w", info.Indexes[i].Name, err)
		}
		info.Indexes[i].Columns = cols
	}

	rows, err = q.QueryContext(ctx, `SELECT "from", "table", "to", on_delete FROM pragma_foreign_key_list(?)`, name)
	if err != nil {
		return info, fmt.Errorf("reading foreign keys of %s: %w", name, err)
	}
	for rows.Next() {
		var fk ForeignKeyInfo
		var to sql.NullString
		if err := rows.Scan(&fk.From, &fk.Table, &to, &fk.OnDelete); err != nil {
			rows.Close()
			return info, fmt.Errorf("scanning foreign key of %s: %w", name, err)
		}
		fk.To = to.String
		fk.OnDelete = strings.ToUpper(fk.OnDelete)
		info.ForeignKeys = append(info.ForeignKeys, fk)
	}
	if err := closeRows(rows); err != nil {
		return info, fmt.Errorf("iterating foreign keys of %s: %w", name, err)
	}

	info.normalize()
	return info, nil
}

// ValidateSchema checks that the live database holds exactly the given
// tables with matching columns, indexes and foreign keys.
func ValidateSchema(ctx context.Context, q queryer, tables []Table) error {
	live, err := DescribeSchema(ctx, q)
	if err != nil {
		return err
	}
	liveByName := make(map[string]TableInfo, len(live))
	for _, ti := range live {
		liveByName[ti.Name] = ti
	}

	var problems []string
	for _, t := range tables {
		got, ok := liveByName[t.Name]
		if !ok {
			problems = append(problems, "missing table "+t.Name)
			continue
		}
		delete(liveByName, t.Name)
		problems = append(problems, diffTable(t.Info(), got)...)
	}
	for name := range liveByName {
		problems = append(problems, "unexpected table "+name)
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.Join(problems, "; "))
	}
	return nil
}

func diffTable(want, got TableInfo) []string {
	var problems []string

	wantCols := make(map[string]ColumnInfo, len(want.Columns))
	for _, c := range want.Columns {
		wantCols[c.Name] = c
	}
	for _, c := range got.Columns {
		w, ok := wantCols[c.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: unexpected column %s", want.Name, c.Name))
			continue
		}
		delete(wantCols, c.Name)
		if w != c {
			problems = append(problems, fmt.Sprintf("%s.%s: have %+v, want %+v", want.Name, c.Name, c, w))
		}
	}
	for name := range wantCols {
		problems = append(problems, fmt.Sprintf("%s: missing column %s", want.Name, name))
	}

	if fmt.Sprint(want.Indexes) != fmt.Sprint(got.Indexes) {
		problems = append(problems, fmt.Sprintf("%s: indexes %v, want %v", want.Name, got.Indexes, want.Indexes))
	}
	if fmt.Sprint(want.ForeignKeys) != fmt.Sprint(got.ForeignKeys) {
		problems = append(problems, fmt.Sprintf("%s: foreign keys %v, want %v", want.Name, got.ForeignKeys, want.ForeignKeys))
	}
	return problems
}

func queryStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, s)
	}
	return out, closeRows(rows)
}

// closeRows closes rows and reports any iteration error.
func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
