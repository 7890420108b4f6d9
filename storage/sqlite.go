package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connections for profile storage. Separate read
// and write pools leverage WAL mode: one writer, concurrent readers.
type SQLite struct {
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Path    string
	logger  *zap.SugaredLogger
}

// NewSQLite opens (creating if needed) the profile database at path and runs
// migrations.
func NewSQLite(path string, logger *zap.SugaredLogger) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite write pool: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", path)
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to open sqlite read pool: %w", err)
	}
	readDB.SetMaxOpenConns(10)

	s := &SQLite{WriteDB: writeDB, ReadDB: readDB, Path: path, logger: logger}

	for _, db := range []*sql.DB{writeDB, readDB} {
		if err := configureConnection(db); err != nil {
			s.Close()
			return nil, err
		}
	}

	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}

	logger.Infof("SQLite profile store ready at %s", path)
	return s, nil
}

func configureConnection(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return nil
}

func (s *SQLite) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS profiles (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		owner_id     TEXT NOT NULL DEFAULT '',
		enabled      INTEGER NOT NULL DEFAULT 1,
		version      INTEGER NOT NULL DEFAULT 1,
		filter_tree  TEXT NOT NULL,
		notification TEXT NOT NULL DEFAULT '{}',
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_profiles_owner ON profiles(owner_id);
	CREATE INDEX IF NOT EXISTS idx_profiles_enabled ON profiles(enabled);
	`
	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to run profile store migrations: %w", err)
	}
	return nil
}

// Close closes both pools.
func (s *SQLite) Close() error {
	var firstErr error
	if err := s.WriteDB.Close(); err != nil {
		firstErr = err
	}
	if err := s.ReadDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
