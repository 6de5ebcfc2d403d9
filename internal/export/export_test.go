package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/djedi/piecework/internal/store"
)

type fakeSource struct {
	records   []store.WorkRecord
	images    map[int64][]string
	imagesErr error
	between   int
}

func (f *fakeSource) ListRecords(context.Context) ([]store.WorkRecord, error) {
	return f.records, nil
}

func (f *fakeSource) RecordsBetween(_ context.Context, start, end time.Time) ([]store.WorkRecord, error) {
	f.between++
	var out []store.WorkRecord
	for _, r := range f.records {
		if !r.Date.Before(start) && !r.Date.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) ImagesForRecord(_ context.Context, id int64) ([]store.WorkRecordImage, error) {
	if f.imagesErr != nil {
		return nil, f.imagesErr
	}
	var out []store.WorkRecordImage
	for _, p := range f.images[id] {
		out = append(out, store.WorkRecordImage{WorkRecordID: id, ImagePath: p})
	}
	return out, nil
}

func day(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

func newSource() *fakeSource {
	return &fakeSource{
		records: []store.WorkRecord{
			{ID: 1, ProcessName: "Sewing", Style: "A1", UnitPrice: 2.5, Quantity: 10, Amount: 25, Date: day(1),
				CreateTime: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)},
			{ID: 2, ProcessName: "Ironing", Style: "B2", UnitPrice: 0.5, Quantity: 8, Amount: 4, Date: day(20),
				Remark: "late", SerialNumber: "SN-2"},
		},
		images: map[int64][]string{1: {"/img/a.jpg", "/img/b.jpg"}},
	}
}

func readBook(t *testing.T, buf *bytes.Buffer) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func cell(t *testing.T, f *excelize.File, name string) string {
	t.Helper()
	v, err := f.GetCellValue(SheetName, name)
	require.NoError(t, err)
	return v
}

func TestWrite_AllData(t *testing.T) {
	src := newSource()
	var buf bytes.Buffer

	sum, err := Write(context.Background(), src, &buf, Options{Now: time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, Summary{RecordCount: 2, TotalAmount: 29}, sum)
	assert.Equal(t, 0, src.between)

	f := readBook(t, &buf)
	assert.Equal(t, "2024-04-01 08:00", cell(t, f, "B1"))
	assert.Equal(t, "All data", cell(t, f, "B2"))
	assert.Equal(t, "2", cell(t, f, "B3"))
	assert.Equal(t, "29", cell(t, f, "B4"))

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), headerRow+2)
	assert.Equal(t, columns, rows[headerRow-1])

	first := rows[headerRow]
	assert.Equal(t, "1", first[0])
	assert.Equal(t, "2024-03-01", first[1])
	assert.Equal(t, "A1", first[2])
	assert.Equal(t, "25", first[6])
	assert.Equal(t, "", first[7], "zero start time should be blank")
	assert.Equal(t, "/img/a.jpg | /img/b.jpg", first[13])
	assert.Equal(t, "2024-03-01 09:30", first[14])

	assert.Equal(t, "Total", cell(t, f, "F9"))
	assert.Equal(t, "29", cell(t, f, "G9"))
}

func TestWrite_Range(t *testing.T) {
	src := newSource()
	start, end := day(1), day(10)
	var buf bytes.Buffer

	sum, err := Write(context.Background(), src, &buf, Options{Start: &start, End: &end})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.RecordCount)
	assert.Equal(t, 25.0, sum.TotalAmount)
	assert.Equal(t, 1, src.between)

	f := readBook(t, &buf)
	assert.Equal(t, "2024-03-01 ~ 2024-03-10", cell(t, f, "B2"))
}

func TestWrite_OpenEndedRange(t *testing.T) {
	src := newSource()
	start := day(2)
	var buf bytes.Buffer

	sum, err := Write(context.Background(), src, &buf, Options{Start: &start})
	require.NoError(t, err)
	assert.Equal(t, Summary{RecordCount: 1, TotalAmount: 4}, sum)

	f := readBook(t, &buf)
	assert.Equal(t, "All data", cell(t, f, "B2"))
}

func TestWrite_ImageLookupFails(t *testing.T) {
	src := newSource()
	src.imagesErr = errors.New("store closed")

	_, err := Write(context.Background(), src, &bytes.Buffer{}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store closed")
}
