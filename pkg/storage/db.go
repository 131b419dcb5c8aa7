package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// busyTimeoutMs bounds how long a writer waits for a competing transaction.
const busyTimeoutMs = 5000

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates a SQLite database at the given path
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// Capture and query requests arrive concurrently; every write
	// transaction takes the RESERVED lock up front so read-modify-write
	// sequences never fail with SQLITE_BUSY halfway through.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate", path, busyTimeoutMs)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	// Initialize database
	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize sets up the database schema and configuration
func (db *DB) initialize() error {
	// Enable WAL mode for better concurrency
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Run migrations
	if err := db.migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// migrate applies database migrations
func (db *DB) migrate() error {
	currentVersion, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if currentVersion < CurrentSchema {
		return db.applyMigrations(currentVersion, CurrentSchema)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableExists bool
	err := db.conn.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM sqlite_master
			WHERE type='table' AND name='schema_version'
		)
	`).Scan(&tableExists)
	if err != nil {
		return 0, err
	}

	if !tableExists {
		return 0, nil
	}

	var version sql.NullInt64
	if err := db.conn.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}

	return int(version.Int64), nil
}

// applyMigrations applies all migrations from 'from' to 'to' version
func (db *DB) applyMigrations(from, to int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for version := from + 1; version <= to; version++ {
		schema := GetSchema(version)
		if schema == "" {
			return fmt.Errorf("no schema found for version %d", version)
		}

		if _, err := tx.Exec(schema); err != nil {
			return fmt.Errorf("failed to apply schema v%d: %w", version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, applied_at) VALUES (?, strftime('%s', 'now'))",
			version,
		); err != nil {
			return fmt.Errorf("failed to record migration v%d: %w", version, err)
		}
	}

	return tx.Commit()
}

// SchemaVersion reports the applied schema version.
func (db *DB) SchemaVersion() (int, error) {
	return db.getSchemaVersion()
}

// Snapshot writes a transactionally consistent copy of the database to dst.
// dst must not exist yet.
func (db *DB) Snapshot(ctx context.Context, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("snapshot destination already exists: %s", dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}
