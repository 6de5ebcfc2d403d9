package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Process is a kind of job with a default piece rate.
type Process struct {
	ID           int64
	Name         string
	DefaultPrice float64
	Unit         string
	IsActive     bool
}

const processColumns = "id, name, defaultPrice, unit, isActive"

func scanProcess(sc scanner) (Process, error) {
	var p Process
	err := sc.Scan(&p.ID, &p.Name, &p.DefaultPrice, &p.Unit, &p.IsActive)
	return p, err
}

// CreateProcess inserts p and sets its ID.
func (s *Store) CreateProcess(ctx context.Context, p *Process) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("creating process: %w", ErrEmptyName)
	}
	result, err := s.exec(ctx, []string{tableProcesses},
		"INSERT INTO processes (name, defaultPrice, unit, isActive) VALUES (?, ?, ?, ?)",
		p.Name, p.DefaultPrice, p.Unit, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("creating process: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// GetProcess retrieves a process by ID. Returns nil if it does not exist.
func (s *Store) GetProcess(ctx context.Context, id int64) (*Process, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	p, err := scanProcess(db.QueryRowContext(ctx, "SELECT "+processColumns+" FROM processes WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting process: %w", err)
	}
	return &p, nil
}

// ListProcesses returns active processes, newest first.
func (s *Store) ListProcesses(ctx context.Context) ([]Process, error) {
	return s.listProcesses(ctx, "SELECT "+processColumns+" FROM processes WHERE isActive = 1 ORDER BY id DESC")
}

// ListAllProcesses returns every process including deactivated ones.
func (s *Store) ListAllProcesses(ctx context.Context) ([]Process, error) {
	return s.listProcesses(ctx, "SELECT "+processColumns+" FROM processes ORDER BY id DESC")
}

func (s *Store) listProcesses(ctx context.Context, query string) ([]Process, error) {
	db, release, err := s.h.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	defer rows.Close()

	var processes []Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning process row: %w", err)
		}
		processes = append(processes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating process rows: %w", err)
	}
	return processes, nil
}

// UpdateProcess updates an existing process. Records already written keep
// the name and price they captured.
func (s *Store) UpdateProcess(ctx context.Context, p *Process) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("updating process: %w", ErrEmptyName)
	}
	result, err := s.exec(ctx, []string{tableProcesses},
		"UPDATE processes SET name = ?, defaultPrice = ?, unit = ?, isActive = ? WHERE id = ?",
		p.Name, p.DefaultPrice, p.Unit, p.IsActive, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating process: %w", err)
	}
	return mustAffect(result, "process", p.ID)
}

// DeactivateProcess hides a process from ListProcesses without deleting it.
func (s *Store) DeactivateProcess(ctx context.Context, id int64) error {
	result, err := s.exec(ctx, []string{tableProcesses}, "UPDATE processes SET isActive = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deactivating process: %w", err)
	}
	return mustAffect(result, "process", id)
}

// DeleteProcess deletes a process. Records that referenced it survive with a
// null process reference; their captured name and price are untouched. The
// references are cleared explicitly so the rule holds even without engine
// foreign key support.
func (s *Store) DeleteProcess(ctx context.Context, id int64) error {
	return s.withTx(ctx, []string{tableProcesses, tableRecords}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE work_records SET processId = NULL WHERE processId = ?", id); err != nil {
			return fmt.Errorf("detaching records from process: %w", err)
		}
		result, err := tx.ExecContext(ctx, "DELETE FROM processes WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("deleting process: %w", err)
		}
		return mustAffect(result, "process", id)
	})
}
