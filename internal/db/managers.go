package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Manager represents a row in the managers table.
type Manager struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// InsertManager stores a new manager.
func (db *DB) InsertManager(ctx context.Context, m Manager) error {
	return db.Update(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO managers (id, name) VALUES (?, ?)`,
			m.ID, m.Name,
		)
		if err != nil {
			return fmt.Errorf("inserting manager: %w", err)
		}
		return nil
	})
}

// GetManager fetches one manager by ID. Returns nil when absent.
func (db *DB) GetManager(
	ctx context.Context, id string,
) (*Manager, error) {
	var m Manager
	err := db.reader.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM managers WHERE id = ?`,
		id,
	).Scan(&m.ID, &m.Name, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying manager: %w", err)
	}
	return &m, nil
}

// ListManagers returns all managers ordered by name.
func (db *DB) ListManagers(ctx context.Context) ([]Manager, error) {
	rows, err := db.reader.QueryContext(ctx,
		`SELECT id, name, created_at FROM managers ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying managers: %w", err)
	}
	defer rows.Close()

	var out []Manager
	for rows.Next() {
		var m Manager
		if err := rows.Scan(&m.ID, &m.Name, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning manager: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating managers: %w", err)
	}
	return out, nil
}
