package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spideyz0r/clipdav/pkg/storage"
)

// NewTestDB opens a fresh database in a temp dir, closed on cleanup.
func NewTestDB(t *testing.T) *storage.DB {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "clipboard.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	return db
}

// WriteFile creates dir/name (and any parent directories) with the given
// content and returns its path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}

	return path
}

// InsertText inserts a Text record captured at createdAt.
func InsertText(t *testing.T, db *storage.DB, content string, createdAt time.Time) *storage.Record {
	t.Helper()
	return Insert(t, db, &storage.Record{Kind: storage.KindText, Content: content, CreatedAt: createdAt})
}

// Insert stores rec and returns it with its assigned id.
func Insert(t *testing.T, db *storage.DB, rec *storage.Record) *storage.Record {
	t.Helper()

	if err := db.InsertRecord(context.Background(), rec); err != nil {
		t.Fatalf("failed to insert record: %v", err)
	}

	return rec
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
