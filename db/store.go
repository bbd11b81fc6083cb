package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when a referenced user, feed or article does not
// exist at call time.
var ErrNotFound = errors.New("not found")

// Store wraps the shared SQLite connection pool. All mutations commit per
// statement; no long-lived transactions are held across calls.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at the given path, creating the parent
// directory if needed.
func NewStore(database string) (*Store, error) {
	if dir := filepath.Dir(database); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// nullTime converts a nullable unix timestamp column to a *time.Time.
func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

// nullString converts a nullable text column to a *string.
func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
