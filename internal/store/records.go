package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// WorkRecord is one entry of piecework. ProcessName and UnitPrice are
// captured when the record is written and never follow later edits to the
// process; ProcessID is nil once the process has been deleted.
type WorkRecord struct {
	ID            int64
	ProcessID     *int64
	ProcessName   string
	Style         string
	UnitPrice     float64
	Quantity      float64
	Amount        float64
	StartTime     time.Time
	EndTime       time.Time
	Remark        string
	TotalQuantity float64
	SerialNumber  string
	// Color is the legacy free-text color summary.
	Color      string
	Date       time.Time
	CreateTime time.Time
}

// WorkRecordImage is an image path attached to a record.
type WorkRecordImage struct {
	ID           int64
	WorkRecordID int64
	ImagePath    string
	CreateTime   time.Time
}

// ColorItem is one color/quantity line of a record.
type ColorItem struct {
	ID           int64
	WorkRecordID int64
	ColorName    string
	ColorHex     string
	Quantity     float64
	SortOrder    int
}

// StyleStat is the total amount earned on one style.
type StyleStat struct {
	Style       string
	TotalAmount float64
}

const recordColumns = "id, processId, processName, style, unitPrice, quantity, amount, startTime, endTime, " +
	"remark, totalQuantity, serialNumber, color, date, createTime"

var recordTables = []string{tableRecords, tableImages, tableColorItems}

func scanRecord(sc scanner) (WorkRecord, error) {
	var r WorkRecord
	var processID sql.NullInt64
	var start, end, date, created int64
	err := sc.Scan(&r.ID, &processID, &r.ProcessName, &r.Style, &r.UnitPrice, &r.Quantity, &r.Amount,
		&start, &end, &r.Remark, &r.TotalQuantity, &r.SerialNumber, &r.Color, &date, &created)
	if err != nil {
		return r, err
	}
	if processID.Valid {
		id := processID.Int64
		r.ProcessID = &id
	}
	r.StartTime = fromMillis(start)
	r.EndTime = fromMillis(end)
	r.Date = time.UnixMilli(date).UTC()
	r.CreateTime = fromMillis(created)
	return r, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// prepare fills the derived fields of rec before it is written. Times are
// cut to the millisecond precision they are stored with. Date is always
// set and is stored without the unset sentinel.
func (s *Store) prepare(rec *WorkRecord, stampCreate bool) {
	rec.Amount = rec.Quantity * rec.UnitPrice
	if rec.Date.IsZero() {
		rec.Date = s.now()
	}
	rec.Date = DayStart(rec.Date)
	if stampCreate && rec.CreateTime.IsZero() {
		rec.CreateTime = fromMillis(s.now().UnixMilli())
	}
}

// InsertRecordWithDetails inserts rec together with its images and color
// items as one unit and returns the new record ID. Color items are stored
// in the order given with sort order 0..n-1. Either every row is written
// or none is; the write is not abandoned if ctx is cancelled.
func (s *Store) InsertRecordWithDetails(ctx context.Context, rec *WorkRecord, imagePaths []string, items []ColorItem) (int64, error) {
	r := *rec
	s.prepare(&r, true)

	err := s.withTx(ctx, recordTables, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `INSERT INTO work_records
			(processId, processName, style, unitPrice, quantity, amount, startTime, endTime,
			 remark, totalQuantity, serialNumber, color, date, createTime)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullableID(r.ProcessID), r.ProcessName, r.Style, r.UnitPrice, r.Quantity, r.Amount,
			toMillis(r.StartTime), toMillis(r.EndTime), r.Remark, r.TotalQuantity, r.SerialNumber,
			r.Color, r.Date.UnixMilli(), toMillis(r.CreateTime),
		)
		if err != nil {
			return fmt.Errorf("inserting record: %w", err)
		}
		r.ID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting last insert id: %w", err)
		}
		return s.insertDetails(ctx, tx, r.ID, imagePaths, items)
	})
	if err != nil {
		compoundWritesTotal.WithLabelValues("insert", "rollback").Inc()
		return 0, &WriteError{Op: "insert", Err: err}
	}

	compoundWritesTotal.WithLabelValues("insert", "commit").Inc()
	*rec = r
	return r.ID, nil
}

// UpdateRecordWithDetails overwrites the record rec.ID and replaces all of
// its images and color items with the ones given. The lists are the
// complete desired set, not a delta. A missing record is ErrNotFound and
// nothing is written.
func (s *Store) UpdateRecordWithDetails(ctx context.Context, rec *WorkRecord, imagePaths []string, items []ColorItem) error {
	r := *rec
	s.prepare(&r, false)

	err := s.withTx(ctx, recordTables, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `UPDATE work_records SET
			processId = ?, processName = ?, style = ?, unitPrice = ?, quantity = ?, amount = ?,
			startTime = ?, endTime = ?, remark = ?, totalQuantity = ?, serialNumber = ?, color = ?, date = ?
			WHERE id = ?`,
			nullableID(r.ProcessID), r.ProcessName, r.Style, r.UnitPrice, r.Quantity, r.Amount,
			toMillis(r.StartTime), toMillis(r.EndTime), r.Remark, r.TotalQuantity, r.SerialNumber,
			r.Color, r.Date.UnixMilli(), r.ID,
		)
		if err != nil {
			return fmt.Errorf("updating record: %w", err)
		}
		if err := mustAffect(result, "record", r.ID); err != nil {
			return err
		}

		if err := deleteDetails(ctx, tx, r.ID); err != nil {
			return err
		}
		return s.insertDetails(ctx, tx, r.ID, imagePaths, items)
	})
	if err != nil {
		compoundWritesTotal.WithLabelValues("update", "rollback").Inc()
		return &WriteError{Op: "update", RecordID: r.ID, Err: err}
	}

	compoundWritesTotal.WithLabelValues("update", "commit").Inc()
	*rec = r
	return nil
}

func (s *Store) insertDetails(ctx context.Context, tx *sql.Tx, recordID int64, imagePaths []string, items []ColorItem) error {
	now := toMillis(s.now())
	for _, path := range imagePaths {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO work_record_images (workRecordId, imagePath, createTime) VALUES (?, ?, ?)",
			recordID, path, now,
		)
		if err != nil {
			return fmt.Errorf("inserting image %q: %w", path, err)
		}
	}
	for i, item := range items {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO work_record_color_items (workRecordId, colorName, colorHex, quantity, sortOrder) VALUES (?, ?, ?, ?, ?)",
			recordID, item.ColorName, item.ColorHex, item.Quantity, i,
		)
		if err != nil {
			return fmt.Errorf("inserting color item %q: %w", item.ColorName, err)
		}
	}
	return nil
}

func deleteDetails(ctx context.Context, tx *sql.Tx, recordID int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM work_record_color_items WHERE workRecordId = ?", recordID); err != nil {
		return fmt.Errorf("deleting color items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM work_record_images WHERE workRecordId = ?", recordID); err != nil {
		return fmt.Errorf("deleting images: %w", err)
	}
	return nil
}

// DeleteRecord deletes a record and its children. Children are removed
// explicitly before the parent rather than relying on cascade.
func (s *Store) DeleteRecord(ctx context.Context, id int64) error {
	return s.withTx(ctx, recordTables, func(ctx context.Context, tx *sql.Tx) error {
		if err := deleteDetails(ctx, tx, id); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM work_records WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting record: %w", err)
		}
		return mustAffect(result, "record", id)
	})
}

// GetRecord retrieves a record by ID. Returns nil if it does not exist.
func (s *Store) GetRecord(ctx context.Context, id int64) (*WorkRecord, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	r, err := scanRecord(db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM work_records WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return &r, nil
}

// ListRecords returns every record, most recently created first.
func (s *Store) ListRecords(ctx context.Context) ([]WorkRecord, error) {
	return s.queryRecords(ctx, "SELECT "+recordColumns+" FROM work_records ORDER BY createTime DESC, id DESC")
}

// RecordsBetween returns records whose date falls in the closed range
// [start, end], most recently created first.
func (s *Store) RecordsBetween(ctx context.Context, start, end time.Time) ([]WorkRecord, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM work_records WHERE date >= ? AND date <= ? ORDER BY createTime DESC, id DESC",
		start.UnixMilli(), end.UnixMilli(),
	)
}

// RecordsOnDay returns the records attributed to t's UTC day.
func (s *Store) RecordsOnDay(ctx context.Context, t time.Time) ([]WorkRecord, error) {
	r := DayRange(t)
	return s.RecordsBetween(ctx, r.Start, r.End)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]WorkRecord, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []WorkRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record rows: %w", err)
	}
	return records, nil
}

// ImagesForRecord returns a record's images in the order they were attached.
func (s *Store) ImagesForRecord(ctx context.Context, recordID int64) ([]WorkRecordImage, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := db.QueryContext(ctx,
		"SELECT id, workRecordId, imagePath, createTime FROM work_record_images WHERE workRecordId = ? ORDER BY createTime ASC, id ASC",
		recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying images: %w", err)
	}
	defer rows.Close()

	var images []WorkRecordImage
	for rows.Next() {
		var img WorkRecordImage
		var created int64
		if err := rows.Scan(&img.ID, &img.WorkRecordID, &img.ImagePath, &created); err != nil {
			return nil, fmt.Errorf("scanning image row: %w", err)
		}
		img.CreateTime = fromMillis(created)
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating image rows: %w", err)
	}
	return images, nil
}

// ColorItemsForRecord returns a record's color items in sort order.
func (s *Store) ColorItemsForRecord(ctx context.Context, recordID int64) ([]ColorItem, error) {
	return s.ColorItemsForRecords(ctx, []int64{recordID})
}

// ColorItemsForRecords returns the color items of several records, grouped
// by record and in sort order within each.
func (s *Store) ColorItemsForRecords(ctx context.Context, recordIDs []int64) ([]ColorItem, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(recordIDs)), ", ")
	args := make([]any, len(recordIDs))
	for i, id := range recordIDs {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx,
		"SELECT id, workRecordId, colorName, colorHex, quantity, sortOrder FROM work_record_color_items "+
			"WHERE workRecordId IN ("+placeholders+") ORDER BY workRecordId, sortOrder, id",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying color items: %w", err)
	}
	defer rows.Close()

	var items []ColorItem
	for rows.Next() {
		var it ColorItem
		if err := rows.Scan(&it.ID, &it.WorkRecordID, &it.ColorName, &it.ColorHex, &it.Quantity, &it.SortOrder); err != nil {
			return nil, fmt.Errorf("scanning color item row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating color item rows: %w", err)
	}
	return items, nil
}

// TotalAmountBetween sums amount over records dated in the closed range
// [start, end]. An empty range sums to 0.
func (s *Store) TotalAmountBetween(ctx context.Context, start, end time.Time) (float64, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	var total float64
	err = db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM work_records WHERE date >= ? AND date <= ?",
		start.UnixMilli(), end.UnixMilli(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing amount: %w", err)
	}
	return total, nil
}

// TotalAmountOnDay sums amount over t's UTC day.
func (s *Store) TotalAmountOnDay(ctx context.Context, t time.Time) (float64, error) {
	r := DayRange(t)
	return s.TotalAmountBetween(ctx, r.Start, r.End)
}

// TotalAmountInMonth sums amount over a UTC calendar month.
func (s *Store) TotalAmountInMonth(ctx context.Context, year int, month time.Month) (float64, error) {
	r := MonthClosedRange(year, month)
	return s.TotalAmountBetween(ctx, r.Start, r.End)
}

// StyleStats sums amount per style, largest first. A nil range covers every
// record; otherwise the range is closed.
func (s *Store) StyleStats(ctx context.Context, r *Range) ([]StyleStat, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := "SELECT style, SUM(amount) AS totalAmount FROM work_records"
	var args []any
	if r != nil {
		query += " WHERE date >= ? AND date <= ?"
		args = append(args, r.Start.UnixMilli(), r.End.UnixMilli())
	}
	query += " GROUP BY style ORDER BY totalAmount DESC, style ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying style stats: %w", err)
	}
	defer rows.Close()

	var stats []StyleStat
	for rows.Next() {
		var st StyleStat
		if err := rows.Scan(&st.Style, &st.TotalAmount); err != nil {
			return nil, fmt.Errorf("scanning style stat row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating style stat rows: %w", err)
	}
	return stats, nil
}

// RecordDaysInMonth returns the distinct UTC days that have at least one
// record dated in the half-open range [start, end), ascending. Use
// MonthRange for the bounds of a calendar month.
func (s *Store) RecordDaysInMonth(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT (date / ?) * ? AS day FROM work_records WHERE date >= ? AND date < ? ORDER BY day",
		dayMillis, dayMillis, start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying record days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, fmt.Errorf("scanning record day: %w", err)
		}
		days = append(days, time.UnixMilli(ms).UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating record days: %w", err)
	}
	return days, nil
}
