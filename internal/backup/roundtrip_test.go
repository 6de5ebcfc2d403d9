package backup_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/djedi/piecework/internal/backup"
	"github.com/djedi/piecework/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Processes []store.Process
	Styles    []store.Style
	Records   []store.WorkRecord
	Images    [][]store.WorkRecordImage
	Items     [][]store.ColorItem
	Groups    []store.ColorGroup
	Presets   []store.ColorPreset
}

func takeSnapshot(t *testing.T, s *store.Store) snapshot {
	t.Helper()
	ctx := context.Background()
	var snap snapshot
	var err error

	snap.Processes, err = s.ListAllProcesses(ctx)
	require.NoError(t, err)
	snap.Styles, err = s.ListStyles(ctx)
	require.NoError(t, err)
	snap.Records, err = s.ListRecords(ctx)
	require.NoError(t, err)
	for _, r := range snap.Records {
		images, err := s.ImagesForRecord(ctx, r.ID)
		require.NoError(t, err)
		snap.Images = append(snap.Images, images)
		items, err := s.ColorItemsForRecord(ctx, r.ID)
		require.NoError(t, err)
		snap.Items = append(snap.Items, items)
	}
	snap.Groups, err = s.ListColorGroups(ctx)
	require.NoError(t, err)
	snap.Presets, err = s.ListColorPresets(ctx)
	require.NoError(t, err)
	return snap
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.New(filepath.Join(dir, "process_record_database"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p := &store.Process{Name: "Sewing", DefaultPrice: 2.5, Unit: "pc", IsActive: true}
	require.NoError(t, s.CreateProcess(ctx, p))
	_, err = s.AddStyle(ctx, "A1")
	require.NoError(t, err)
	g, err := s.AddColorGroup(ctx, "Basics")
	require.NoError(t, err)
	_, err = s.AddColorPreset(ctx, "red", "#FF0000", g.ID)
	require.NoError(t, err)
	_, err = s.InsertRecordWithDetails(ctx, &store.WorkRecord{
		ProcessID:   &p.ID,
		ProcessName: p.Name,
		Style:       "A1",
		UnitPrice:   p.DefaultPrice,
		Quantity:    10,
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}, []string{"/img/a.jpg"}, []store.ColorItem{{ColorName: "red", ColorHex: "#FF0000", Quantity: 10}})
	require.NoError(t, err)

	want := takeSnapshot(t, s)

	m := backup.New(s.Handle())
	backupPath := filepath.Join(dir, backup.DefaultFileName("piecework", time.Now()))
	desc, err := m.ExportFile(ctx, backupPath)
	require.NoError(t, err)
	assert.Contains(t, desc, "backup complete")
	assert.False(t, s.Handle().IsOpen(), "handle left open after export")

	// Diverge from the backup.
	require.NoError(t, s.DeleteProcess(ctx, p.ID))
	require.NoError(t, s.DeleteColorGroup(ctx, g.ID))
	_, err = s.InsertRecordWithDetails(ctx, &store.WorkRecord{ProcessName: "extra", Quantity: 1}, nil, nil)
	require.NoError(t, err)
	require.NotEqual(t, want, takeSnapshot(t, s))

	_, err = m.ImportFile(ctx, backupPath)
	require.NoError(t, err)

	// The next operation reopens the restored file.
	assert.Equal(t, want, takeSnapshot(t, s))

	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.DefaultRegistry.Latest(), version)
}

func TestImport_WatchersSeeRestoredData(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()

	s, err := store.New(filepath.Join(dir, "process_record_database"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := backup.New(s.Handle())
	backupPath := filepath.Join(dir, "empty.db")
	_, err = m.ExportFile(ctx, backupPath)
	require.NoError(t, err)

	_, err = s.AddStyle(ctx, "A1")
	require.NoError(t, err)

	ch := store.Watch(ctx, s, store.StylesQuery())
	first := <-ch
	require.NoError(t, first.Err)
	require.Len(t, first.Value, 1)

	_, err = m.ImportFile(ctx, backupPath)
	require.NoError(t, err)
	_, err = s.DB(ctx)
	require.NoError(t, err)

	select {
	case snap := <-ch:
		require.NoError(t, snap.Err)
		assert.Empty(t, snap.Value)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot after restore")
	}
}
