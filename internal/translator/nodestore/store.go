// Package nodestore persists the set of node ids the translator has ever
// seen, so discovery descriptors can be republished at startup before the
// first telemetry cycle arrives.
package nodestore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open node store: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS nodes (
			id         TEXT PRIMARY KEY,
			first_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create node store schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Add records a node id. Adding a known id is a no-op.
func (s *Store) Add(id string) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO nodes (id) VALUES (?)`, id); err != nil {
		return fmt.Errorf("failed to record node %s: %w", id, err)
	}

	return nil
}

// All returns every recorded node id, oldest first.
func (s *Store) All() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM nodes ORDER BY first_seen, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan node id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}

	return ids, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
