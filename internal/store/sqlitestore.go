package store

import (
	"database/sql"
	"fmt"

	"medication-reminder/internal/database"
)

// SQLiteStore keeps documents in the documents table of a SQLite database.
type SQLiteStore struct {
	db *database.DB
}

func NewSQLiteStore(db *database.DB) (*SQLiteStore, error) {
	if err := db.InitSchema(); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(key string) ([]byte, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM documents WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *SQLiteStore) Save(key string, data []byte) error {
	query := `
		INSERT INTO documents (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.Exec(query, key, string(data)); err != nil {
		return fmt.Errorf("failed to save document %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
