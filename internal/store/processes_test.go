package store

import (
	"context"
	"errors"
	"testing"
)

func TestStore_CreateProcess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Process{Name: "Sewing", DefaultPrice: 2.5, Unit: "pc", IsActive: true}
	if err := s.CreateProcess(ctx, p); err != nil {
		t.Fatalf("CreateProcess() error = %v", err)
	}
	if p.ID == 0 {
		t.Error("CreateProcess() did not set ID")
	}

	got, err := s.GetProcess(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProcess() error = %v", err)
	}
	if got == nil || *got != *p {
		t.Errorf("GetProcess() = %+v, want %+v", got, p)
	}

	if err := s.CreateProcess(ctx, &Process{Name: "  "}); !errors.Is(err, ErrEmptyName) {
		t.Errorf("CreateProcess() with blank name error = %v, want ErrEmptyName", err)
	}
}

func TestStore_GetProcess_NotFound(t *testing.T) {
	s := newTestStore(t)

	p, err := s.GetProcess(context.Background(), 99999)
	if err != nil {
		t.Fatalf("GetProcess() error = %v", err)
	}
	if p != nil {
		t.Error("GetProcess() expected nil for non-existent process")
	}
}

func TestStore_ListProcesses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"Cutting", "Sewing", "Ironing"} {
		if err := s.CreateProcess(ctx, &Process{Name: name, Unit: "pc", IsActive: true}); err != nil {
			t.Fatalf("CreateProcess(%s) error = %v", name, err)
		}
	}
	all, err := s.ListProcesses(ctx)
	if err != nil {
		t.Fatalf("ListProcesses() error = %v", err)
	}
	if len(all) != 3 || all[0].Name != "Ironing" {
		t.Fatalf("ListProcesses() = %+v, want 3 newest first", all)
	}

	if err := s.DeactivateProcess(ctx, all[1].ID); err != nil {
		t.Fatalf("DeactivateProcess() error = %v", err)
	}
	active, err := s.ListProcesses(ctx)
	if err != nil {
		t.Fatalf("ListProcesses() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("ListProcesses() after deactivate returned %d, want 2", len(active))
	}
	everything, err := s.ListAllProcesses(ctx)
	if err != nil {
		t.Fatalf("ListAllProcesses() error = %v", err)
	}
	if len(everything) != 3 {
		t.Errorf("ListAllProcesses() returned %d, want 3", len(everything))
	}
}

func TestStore_UpdateProcess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Process{Name: "Sewing", DefaultPrice: 2.5, Unit: "pc", IsActive: true}
	if err := s.CreateProcess(ctx, p); err != nil {
		t.Fatalf("CreateProcess() error = %v", err)
	}
	id := mustInsert(t, s, &WorkRecord{ProcessID: &p.ID, ProcessName: p.Name, UnitPrice: p.DefaultPrice, Quantity: 2}, nil, nil)

	p.Name = "Hemming"
	p.DefaultPrice = 3
	if err := s.UpdateProcess(ctx, p); err != nil {
		t.Fatalf("UpdateProcess() error = %v", err)
	}

	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec.ProcessName != "Sewing" || rec.UnitPrice != 2.5 {
		t.Errorf("record snapshot changed to %s/%v, want Sewing/2.5", rec.ProcessName, rec.UnitPrice)
	}

	if err := s.UpdateProcess(ctx, &Process{ID: 999, Name: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProcess() missing error = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteProcess_KeepsRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Process{Name: "Sewing", DefaultPrice: 2.5, Unit: "pc", IsActive: true}
	if err := s.CreateProcess(ctx, p); err != nil {
		t.Fatalf("CreateProcess() error = %v", err)
	}
	id := mustInsert(t, s, &WorkRecord{ProcessID: &p.ID, ProcessName: "Sewing", UnitPrice: 2.5, Quantity: 4},
		[]string{"/a"}, []ColorItem{{ColorName: "red", Quantity: 4}})

	if err := s.DeleteProcess(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProcess() error = %v", err)
	}

	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec == nil {
		t.Fatal("GetRecord() = nil, record deleted with its process")
	}
	if rec.ProcessID != nil {
		t.Errorf("ProcessID = %d, want nil", *rec.ProcessID)
	}
	if rec.ProcessName != "Sewing" || rec.UnitPrice != 2.5 || rec.Amount != 10 {
		t.Errorf("record = %+v, want snapshot fields intact", rec)
	}
	if n := countRows(t, s, tableColorItems, id); n != 1 {
		t.Errorf("color items = %d, want 1", n)
	}

	if err := s.DeleteProcess(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteProcess() twice error = %v, want ErrNotFound", err)
	}
}
