package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	db, err := Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	assert.NotNil(t, db)
	assert.Equal(t, dbPath, db.Path())

	// Verify database file exists
	_, err = os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "subdir", "nested", "test.db")

	db, err := Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	assert.NoError(t, err)
}

func TestInitialize_EnablesWAL(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	var journalMode string
	err := db.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	require.NoError(t, err)
	assert.Equal(t, "wal", journalMode)
}

func TestInitialize_CreatesTables(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	for _, table := range []string{"schema_version", "clipboard_history", "sessions"} {
		var count int
		err := db.conn.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='table' AND name=?
		`, table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
}

func TestInitialize_CreatesIndexes(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	expectedIndexes := []string{
		"idx_history_type",
		"idx_history_created",
		"idx_created_type",
		"idx_history_favorited",
		"idx_sessions_expires",
	}

	for _, indexName := range expectedIndexes {
		var count int
		err := db.conn.QueryRow(`
			SELECT COUNT(*) FROM sqlite_master
			WHERE type='index' AND name=?
		`, indexName).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "index %s should exist", indexName)
	}
}

func TestGetSchemaVersion(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchema, version)
}

func TestMigrate_Idempotent(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	db1, err := Open(dbPath)
	require.NoError(t, err)
	db1.Close()

	db2, err := Open(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	version, err := db2.getSchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchema, version)
}

func TestMigrate_V1ToV2BackfillsFavorites(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "legacy.db")

	// Build a v1 database the way an older deployment left it
	raw, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = raw.Exec(schemaV1)
	require.NoError(t, err)
	_, err = raw.Exec("INSERT INTO schema_version (version, applied_at) VALUES (1, 0)")
	require.NoError(t, err)
	_, err = raw.Exec(`
		INSERT INTO clipboard_history (type, content, created_at, extra_data) VALUES
			('Text', 'compact', 1, '{"favorited":true}'),
			('Text', 'spaced', 2, '{"favorited": true}'),
			('Text', 'off', 3, '{"favorited":false}'),
			('Text', 'none', 4, NULL)
	`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err := Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion2, version)

	rows, err := db.conn.Query("SELECT content, favorited FROM clipboard_history ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	got := map[string]bool{}
	for rows.Next() {
		var content string
		var fav bool
		require.NoError(t, rows.Scan(&content, &fav))
		got[content] = fav
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, map[string]bool{
		"compact": true,
		"spaced":  true,
		"off":     false,
		"none":    false,
	}, got)
}

func TestClose(t *testing.T) {
	db := setupTestDB(t)

	err := db.Close()
	assert.NoError(t, err)

	// Trying to use closed connection should fail
	var count int
	err = db.conn.QueryRow("SELECT COUNT(*) FROM clipboard_history").Scan(&count)
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertRecord(ctx, &Record{Kind: KindText, Content: "kept"}))

	dst := filepath.Join(t.TempDir(), "backups", "snap.db")
	require.NoError(t, db.Snapshot(ctx, dst))

	copied, err := Open(dst)
	require.NoError(t, err)
	defer copied.Close()

	count, err := copied.CountRecords(ctx, QueryFilters{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	t.Run("refuses existing destination", func(t *testing.T) {
		err := db.Snapshot(ctx, dst)
		assert.Error(t, err)
	})
}
