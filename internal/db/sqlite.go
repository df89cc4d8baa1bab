// Package db persists learned header tables and detection history in
// SQLite.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrSchemaTooNew is returned when the file was written by a newer build.
var ErrSchemaTooNew = errors.New("database schema is newer than this build")

// migrations are applied in order, one transaction each. PRAGMA user_version
// records how many have run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS headers (
		direction TEXT NOT NULL,
		name TEXT NOT NULL,
		header INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (direction, name)
	)`,
	`CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL DEFAULT '',
		event TEXT NOT NULL,
		header INTEGER NOT NULL,
		packet TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_detections_event ON detections(event);
	CREATE INDEX IF NOT EXISTS idx_detections_created ON detections(created_at)`,
}

// Database is a single-connection SQLite handle with a migrated schema.
// Writes are serialized.
type Database struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the database at dbPath and brings its schema up to
// date. ":memory:" opens a private in-memory database.
func Open(dbPath string) (*Database, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			log.Warn().Err(err).Str("pragma", pragma).Msg("failed to apply pragma")
		}
	}

	d := &Database{db: conn, path: dbPath}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Str("path", dbPath).Int("schema", len(migrations)).Msg("database opened")
	return d, nil
}

// SchemaVersion returns the number of migrations applied to the file.
func (d *Database) SchemaVersion() (int, error) {
	var version int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (d *Database) migrate() error {
	version, err := d.SchemaVersion()
	if err != nil {
		return err
	}
	if version > len(migrations) {
		return fmt.Errorf("%w: file at %d, build knows %d", ErrSchemaTooNew, version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		err := d.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(migrations[i]); err != nil {
				return err
			}
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		log.Debug().Int("version", i+1).Msg("database migration applied")
	}
	return nil
}

// Path returns the file the database was opened from.
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Exec runs a statement that returns no rows.
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query runs a statement that returns rows. The caller closes them.
func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

// Transaction runs fn inside a transaction, rolling back when fn fails.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
