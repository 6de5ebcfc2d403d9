package store

import (
	"context"
	"errors"
	"testing"
)

func TestStore_AddStyle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.AddStyle(ctx, "A1")
	if err != nil {
		t.Fatalf("AddStyle() error = %v", err)
	}
	again, err := s.AddStyle(ctx, "A1")
	if err != nil {
		t.Fatalf("AddStyle() again error = %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("AddStyle() again ID = %d, want %d", again.ID, first.ID)
	}
	// Case matters.
	lower, err := s.AddStyle(ctx, "a1")
	if err != nil {
		t.Fatalf("AddStyle(a1) error = %v", err)
	}
	if lower.ID == first.ID {
		t.Error("AddStyle(a1) reused A1")
	}

	if _, err := s.AddStyle(ctx, ""); !errors.Is(err, ErrEmptyName) {
		t.Errorf("AddStyle(\"\") error = %v, want ErrEmptyName", err)
	}

	styles, err := s.ListStyles(ctx)
	if err != nil {
		t.Fatalf("ListStyles() error = %v", err)
	}
	if len(styles) != 2 || styles[0].Name != "A1" || styles[1].Name != "a1" {
		t.Errorf("ListStyles() = %+v, want [A1 a1]", styles)
	}
}

func TestStore_DeleteStyle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st, err := s.AddStyle(ctx, "B2")
	if err != nil {
		t.Fatalf("AddStyle() error = %v", err)
	}
	if _, err := s.AddStyle(ctx, "C3"); err != nil {
		t.Fatalf("AddStyle() error = %v", err)
	}
	id := mustInsert(t, s, &WorkRecord{ProcessName: "p", Style: "C3"}, nil, nil)

	if err := s.DeleteStyle(ctx, st.ID); err != nil {
		t.Fatalf("DeleteStyle() error = %v", err)
	}
	if got, _ := s.GetStyleByName(ctx, "B2"); got != nil {
		t.Error("GetStyleByName() found deleted style")
	}
	if err := s.DeleteStyle(ctx, st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteStyle() twice error = %v, want ErrNotFound", err)
	}

	if err := s.DeleteStyleByName(ctx, "C3"); err != nil {
		t.Fatalf("DeleteStyleByName() error = %v", err)
	}
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if rec.Style != "C3" {
		t.Errorf("record style = %q, want C3", rec.Style)
	}
}
