// Package export writes work records to an .xlsx workbook. It only reads
// from the store.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/sync/errgroup"

	"github.com/djedi/piecework/internal/store"
)

// SheetName is the name of the single worksheet.
const SheetName = "Records"

// headerRow is the 1-based row of the column titles; the summary block
// sits above it.
const headerRow = 6

var columns = []string{
	"ID",
	"Date",
	"Style",
	"Process",
	"Unit price",
	"Quantity",
	"Amount",
	"Start time",
	"End time",
	"Color",
	"Serial number",
	"Total quantity",
	"Remark",
	"Image paths",
	"Created",
}

// Source is the read side of the store the export needs.
type Source interface {
	ListRecords(ctx context.Context) ([]store.WorkRecord, error)
	RecordsBetween(ctx context.Context, start, end time.Time) ([]store.WorkRecord, error)
	ImagesForRecord(ctx context.Context, recordID int64) ([]store.WorkRecordImage, error)
}

// Options selects and formats the exported records.
type Options struct {
	// Start and End bound the record dates, inclusive. Either may be nil.
	Start *time.Time
	End   *time.Time

	// Now stamps the summary block. Defaults to time.Now.
	Now time.Time

	// Location formats timestamps. Defaults to UTC.
	Location *time.Location

	// Concurrency bounds parallel image lookups. Defaults to 4.
	Concurrency int
}

// Summary describes what was exported.
type Summary struct {
	RecordCount int
	TotalAmount float64
}

// Write exports the selected records as a workbook to w.
func Write(ctx context.Context, src Source, w io.Writer, opts Options) (Summary, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	records, err := selectRecords(ctx, src, opts)
	if err != nil {
		return Summary{}, err
	}
	images, err := imagePaths(ctx, src, records, opts.Concurrency)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	sum.RecordCount = len(records)
	for _, r := range records {
		sum.TotalAmount += r.Amount
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return Summary{}, fmt.Errorf("naming sheet: %w", err)
	}

	summary := [][]any{
		{"Export time", opts.Now.In(opts.Location).Format("2006-01-02 15:04")},
		{"Range", rangeText(opts)},
		{"Record count", sum.RecordCount},
		{"Total amount", sum.TotalAmount},
	}
	for i, row := range summary {
		if err := setRow(f, i+1, row); err != nil {
			return Summary{}, err
		}
	}

	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := setRow(f, headerRow, header); err != nil {
		return Summary{}, err
	}
	if bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(columns), headerRow)
		f.SetCellStyle(SheetName, fmt.Sprintf("A%d", headerRow), last, bold)
	}

	for i, r := range records {
		row := []any{
			r.ID,
			formatTime(r.Date, "2006-01-02", time.UTC),
			r.Style,
			r.ProcessName,
			r.UnitPrice,
			r.Quantity,
			r.Amount,
			formatTime(r.StartTime, "2006-01-02 15:04", opts.Location),
			formatTime(r.EndTime, "2006-01-02 15:04", opts.Location),
			r.Color,
			r.SerialNumber,
			r.TotalQuantity,
			r.Remark,
			strings.Join(images[i], " | "),
			formatTime(r.CreateTime, "2006-01-02 15:04", opts.Location),
		}
		if err := setRow(f, headerRow+1+i, row); err != nil {
			return Summary{}, err
		}
	}

	totalRow := headerRow + 1 + len(records)
	if err := f.SetCellValue(SheetName, fmt.Sprintf("F%d", totalRow), "Total"); err != nil {
		return Summary{}, fmt.Errorf("writing totals: %w", err)
	}
	if err := f.SetCellValue(SheetName, fmt.Sprintf("G%d", totalRow), sum.TotalAmount); err != nil {
		return Summary{}, fmt.Errorf("writing totals: %w", err)
	}

	if err := f.Write(w); err != nil {
		return Summary{}, fmt.Errorf("writing workbook: %w", err)
	}
	return sum, nil
}

func selectRecords(ctx context.Context, src Source, opts Options) ([]store.WorkRecord, error) {
	if opts.Start != nil && opts.End != nil {
		records, err := src.RecordsBetween(ctx, *opts.Start, *opts.End)
		if err != nil {
			return nil, fmt.Errorf("loading records: %w", err)
		}
		return records, nil
	}

	all, err := src.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}
	records := all[:0:0]
	for _, r := range all {
		if opts.Start != nil && r.Date.Before(*opts.Start) {
			continue
		}
		if opts.End != nil && r.Date.After(*opts.End) {
			continue
		}
		records = append(records, r)
	}
	return records, nil
}

// imagePaths looks up each record's image paths, index-aligned with records.
func imagePaths(ctx context.Context, src Source, records []store.WorkRecord, limit int) ([][]string, error) {
	paths := make([][]string, len(records))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, r := range records {
		i, r := i, r
		g.Go(func() error {
			images, err := src.ImagesForRecord(ctx, r.ID)
			if err != nil {
				return fmt.Errorf("loading images of record %d: %w", r.ID, err)
			}
			for _, img := range images {
				paths[i] = append(paths[i], img.ImagePath)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

func rangeText(opts Options) string {
	if opts.Start == nil || opts.End == nil {
		return "All data"
	}
	return opts.Start.UTC().Format("2006-01-02") + " ~ " + opts.End.UTC().Format("2006-01-02")
}

func formatTime(t time.Time, layout string, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(layout)
}

func setRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
		return fmt.Errorf("writing row %d: %w", row, err)
	}
	return nil
}
