package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// FallbackGroupName names the color group that receives the presets of a
// deleted group. It is created on demand and cannot be deleted.
const FallbackGroupName = "Custom"

// fallbackSortOrder keeps the fallback group last.
const fallbackSortOrder = 9999

// ColorGroup is a named, ordered bucket of color presets.
type ColorGroup struct {
	ID        int64
	Name      string
	SortOrder int
}

// ColorPreset is a named color offered for quick entry.
type ColorPreset struct {
	ID        int64
	Name      string
	HexValue  string
	GroupID   int64
	SortOrder int
}

var colorTables = []string{tableGroups, tablePresets}

// ListColorGroups returns every group in display order.
func (s *Store) ListColorGroups(ctx context.Context) ([]ColorGroup, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := db.QueryContext(ctx, "SELECT id, name, sortOrder FROM color_groups ORDER BY sortOrder ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("listing color groups: %w", err)
	}
	defer rows.Close()

	var groups []ColorGroup
	for rows.Next() {
		var g ColorGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.SortOrder); err != nil {
			return nil, fmt.Errorf("scanning color group row: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating color group rows: %w", err)
	}
	return groups, nil
}

// AddColorGroup adds a group named name, trimmed. Adding a name that exists
// returns the existing group, keeping its ID and position.
func (s *Store) AddColorGroup(ctx context.Context, name string) (*ColorGroup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("adding color group: %w", ErrEmptyName)
	}

	g := &ColorGroup{Name: name}
	err := s.withTx(ctx, colorTables, func(ctx context.Context, tx *sql.Tx) error {
		sortOrder := fallbackSortOrder
		if name != FallbackGroupName {
			err := tx.QueryRowContext(ctx,
				"SELECT COALESCE(MAX(sortOrder), -1) + 1 FROM color_groups WHERE name != ?",
				FallbackGroupName,
			).Scan(&sortOrder)
			if err != nil {
				return fmt.Errorf("computing sort order: %w", err)
			}
		}

		err := tx.QueryRowContext(ctx,
			`INSERT INTO color_groups (name, sortOrder) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET name = excluded.name
			RETURNING id, sortOrder`,
			name, sortOrder,
		).Scan(&g.ID, &g.SortOrder)
		if err != nil {
			return fmt.Errorf("upserting color group: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// UpdateColorGroup renames or reorders a group. Renaming onto a name that
// is already taken fails; it does not merge the groups.
func (s *Store) UpdateColorGroup(ctx context.Context, g *ColorGroup) error {
	name := strings.TrimSpace(g.Name)
	if name == "" {
		return fmt.Errorf("updating color group: %w", ErrEmptyName)
	}
	result, err := s.exec(ctx, colorTables,
		"UPDATE color_groups SET name = ?, sortOrder = ? WHERE id = ?",
		name, g.SortOrder, g.ID,
	)
	if err != nil {
		return fmt.Errorf("updating color group: %w", err)
	}
	if err := mustAffect(result, "color group", g.ID); err != nil {
		return err
	}
	g.Name = name
	return nil
}

// GetColorGroupByName retrieves a group by name. Returns nil if none exists.
func (s *Store) GetColorGroupByName(ctx context.Context, name string) (*ColorGroup, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	g := &ColorGroup{}
	err = db.QueryRowContext(ctx,
		"SELECT id, name, sortOrder FROM color_groups WHERE name = ?", strings.TrimSpace(name),
	).Scan(&g.ID, &g.Name, &g.SortOrder)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting color group by name: %w", err)
	}
	return g, nil
}

// DeleteColorGroup deletes a group after moving its presets to the fallback
// group, creating the fallback first if needed. Deleting the fallback group
// itself does nothing.
func (s *Store) DeleteColorGroup(ctx context.Context, id int64) error {
	return s.withTx(ctx, colorTables, func(ctx context.Context, tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx, "SELECT name FROM color_groups WHERE id = ?", id).Scan(&name)
		if err == sql.ErrNoRows {
			return fmt.Errorf("color group %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("getting color group: %w", err)
		}
		if name == FallbackGroupName {
			return nil
		}

		var fallbackID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO color_groups (name, sortOrder) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET name = excluded.name
			RETURNING id`,
			FallbackGroupName, fallbackSortOrder,
		).Scan(&fallbackID)
		if err != nil {
			return fmt.Errorf("ensuring fallback color group: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "UPDATE color_presets SET groupId = ? WHERE groupId = ?", fallbackID, id); err != nil {
			return fmt.Errorf("moving presets to fallback group: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM color_groups WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting color group: %w", err)
		}
		return nil
	})
}

// ListColorPresets returns every preset, grouped and in display order.
func (s *Store) ListColorPresets(ctx context.Context) ([]ColorPreset, error) {
	return s.listPresets(ctx,
		"SELECT id, name, hexValue, groupId, sortOrder FROM color_presets ORDER BY groupId ASC, sortOrder ASC, id ASC")
}

// ListColorPresetsInGroup returns the presets of one group in display order.
func (s *Store) ListColorPresetsInGroup(ctx context.Context, groupID int64) ([]ColorPreset, error) {
	return s.listPresets(ctx,
		"SELECT id, name, hexValue, groupId, sortOrder FROM color_presets WHERE groupId = ? ORDER BY sortOrder ASC, id ASC",
		groupID)
}

func (s *Store) listPresets(ctx context.Context, query string, args ...any) ([]ColorPreset, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing color presets: %w", err)
	}
	defer rows.Close()

	var presets []ColorPreset
	for rows.Next() {
		var p ColorPreset
		if err := rows.Scan(&p.ID, &p.Name, &p.HexValue, &p.GroupID, &p.SortOrder); err != nil {
			return nil, fmt.Errorf("scanning color preset row: %w", err)
		}
		presets = append(presets, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating color preset rows: %w", err)
	}
	return presets, nil
}

// AddColorPreset adds a preset at the end of its group. A preset with the
// same name is replaced in place: it keeps its ID, takes the new hex value
// and group, and keeps its position unless it moved group.
func (s *Store) AddColorPreset(ctx context.Context, name, hexValue string, groupID int64) (*ColorPreset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("adding color preset: %w", ErrEmptyName)
	}

	p := &ColorPreset{Name: name, HexValue: hexValue, GroupID: groupID}
	err := s.withTx(ctx, colorTables, func(ctx context.Context, tx *sql.Tx) error {
		var sortOrder int
		err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(sortOrder), -1) + 1 FROM color_presets WHERE groupId = ?", groupID,
		).Scan(&sortOrder)
		if err != nil {
			return fmt.Errorf("computing sort order: %w", err)
		}

		err = tx.QueryRowContext(ctx,
			`INSERT INTO color_presets (name, hexValue, groupId, sortOrder) VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				hexValue = excluded.hexValue,
				sortOrder = CASE WHEN groupId = excluded.groupId THEN sortOrder ELSE excluded.sortOrder END,
				groupId = excluded.groupId
			RETURNING id, sortOrder`,
			name, hexValue, groupID, sortOrder,
		).Scan(&p.ID, &p.SortOrder)
		if err != nil {
			return fmt.Errorf("upserting color preset: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateColorPreset overwrites an existing preset.
func (s *Store) UpdateColorPreset(ctx context.Context, p *ColorPreset) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("updating color preset: %w", ErrEmptyName)
	}
	result, err := s.exec(ctx, []string{tablePresets},
		"UPDATE color_presets SET name = ?, hexValue = ?, groupId = ?, sortOrder = ? WHERE id = ?",
		name, p.HexValue, p.GroupID, p.SortOrder, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating color preset: %w", err)
	}
	if err := mustAffect(result, "color preset", p.ID); err != nil {
		return err
	}
	p.Name = name
	return nil
}

// DeleteColorPreset deletes a preset by ID.
func (s *Store) DeleteColorPreset(ctx context.Context, id int64) error {
	result, err := s.exec(ctx, []string{tablePresets}, "DELETE FROM color_presets WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting color preset: %w", err)
	}
	return mustAffect(result, "color preset", id)
}

// CountPresetsInGroup returns how many presets reference a group.
func (s *Store) CountPresetsInGroup(ctx context.Context, groupID int64) (int, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM color_presets WHERE groupId = ?", groupID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting presets: %w", err)
	}
	return n, nil
}
