package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Style is a style code remembered for quick entry.
type Style struct {
	ID   int64
	Name string
}

// AddStyle records a style name, matched exactly as entered. Adding a name
// that already exists returns the existing row.
func (s *Store) AddStyle(ctx context.Context, name string) (*Style, error) {
	if name == "" {
		return nil, fmt.Errorf("adding style: %w", ErrEmptyName)
	}

	st := &Style{Name: name}
	err := s.withTx(ctx, []string{tableStyles}, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT id FROM styles WHERE name = ? LIMIT 1", name).Scan(&st.ID)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("looking up style: %w", err)
		}

		result, err := tx.ExecContext(ctx, "INSERT INTO styles (name) VALUES (?)", name)
		if err != nil {
			return fmt.Errorf("inserting style: %w", err)
		}
		st.ID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// GetStyleByName retrieves a style by exact name. Returns nil if none exists.
func (s *Store) GetStyleByName(ctx context.Context, name string) (*Style, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	st := &Style{}
	err = db.QueryRowContext(ctx, "SELECT id, name FROM styles WHERE name = ? LIMIT 1", name).Scan(&st.ID, &st.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting style by name: %w", err)
	}
	return st, nil
}

// ListStyles returns all styles ordered by name.
func (s *Store) ListStyles(ctx context.Context) ([]Style, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := db.QueryContext(ctx, "SELECT id, name FROM styles ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing styles: %w", err)
	}
	defer rows.Close()

	var styles []Style
	for rows.Next() {
		var st Style
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, fmt.Errorf("scanning style row: %w", err)
		}
		styles = append(styles, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating style rows: %w", err)
	}
	return styles, nil
}

// DeleteStyle deletes a style by ID.
func (s *Store) DeleteStyle(ctx context.Context, id int64) error {
	result, err := s.exec(ctx, []string{tableStyles}, "DELETE FROM styles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting style: %w", err)
	}
	return mustAffect(result, "style", id)
}

// DeleteStyleByName deletes every style with the given name. Records keep
// their style text.
func (s *Store) DeleteStyleByName(ctx context.Context, name string) error {
	if _, err := s.exec(ctx, []string{tableStyles}, "DELETE FROM styles WHERE name = ?", name); err != nil {
		return fmt.Errorf("deleting style by name: %w", err)
	}
	return nil
}
