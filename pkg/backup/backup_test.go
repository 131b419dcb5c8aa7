package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spideyz0r/clipdav/pkg/storage"
	"github.com/spideyz0r/clipdav/pkg/testutil"
)

func seededDB(t *testing.T) *storage.DB {
	t.Helper()
	db := testutil.NewTestDB(t)
	testutil.InsertText(t, db, "first", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))
	testutil.InsertText(t, db, "second", time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC))
	return db
}

func restoredContents(t *testing.T, path string) []string {
	t.Helper()
	db, err := storage.Open(path)
	require.NoError(t, err)
	defer db.Close()

	recs, err := db.QueryRecords(context.Background(), storage.QueryFilters{})
	require.NoError(t, err)
	var out []string
	for _, r := range recs {
		out = append(out, r.Content)
	}
	return out
}

func TestCreateRestoreEncrypted(t *testing.T) {
	db := seededDB(t)
	dir := filepath.Join(t.TempDir(), "backups")

	info, err := Create(context.Background(), db, dir, "hunter2")
	require.NoError(t, err)
	assert.True(t, info.Encrypted)
	assert.FileExists(t, info.Path)
	assert.Greater(t, info.Size, int64(0))

	stat, err := os.Stat(info.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), stat.Mode().Perm())

	dst := filepath.Join(t.TempDir(), "restored.db")
	assert.Error(t, Restore(info.Path, dst, "wrong"))
	assert.Error(t, Restore(info.Path, dst, ""))
	assert.NoFileExists(t, dst)

	require.NoError(t, Restore(info.Path, dst, "hunter2"))
	assert.Equal(t, []string{"second", "first"}, restoredContents(t, dst))
}

func TestCreateRestorePlain(t *testing.T) {
	db := seededDB(t)
	dir := t.TempDir()

	info, err := Create(context.Background(), db, dir, "")
	require.NoError(t, err)
	assert.False(t, info.Encrypted)
	assert.Equal(t, ".db", filepath.Ext(info.Path))

	// Staging directory is cleaned up
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	dst := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(dst+"-wal", []byte("stale"), 0644))
	require.NoError(t, Restore(info.Path, dst, ""))
	assert.NoFileExists(t, dst+"-wal")
	assert.Len(t, restoredContents(t, dst), 2)
}

func TestRestoreRejectsNonDatabase(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WriteFile(t, dir, "clipboard-host-20240101-120000.000.db", "not a database")
	dst := filepath.Join(dir, "out.db")

	assert.Error(t, Restore(src, dst, ""))
	assert.NoFileExists(t, dst)
}

func TestParseBackupFilename(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		host      string
		encrypted bool
		wantErr   bool
	}{
		{"encrypted", "clipboard-nas-20240101-120000.000.db.enc", "nas", true, false},
		{"plain", "clipboard-nas-20240101-120000.000.db", "nas", false, false},
		{"dashed hostname", "clipboard-nas-01-lan-20240101-120000.500.db.enc", "nas-01-lan", true, false},
		{"wrong prefix", "history-nas-20240101-120000.000.db.enc", "", false, true},
		{"bad timestamp", "clipboard-nas-2024-01-01.db", "", false, true},
		{"other extension", "clipboard-nas-20240101-120000.000.tar", "", false, true},
		{"no hostname", "clipboard-20240101-120000.000.db", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseBackupFilename(tt.filename)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, info.Hostname)
			assert.Equal(t, tt.encrypted, info.Encrypted)
		})
	}
}

func TestListAndRotate(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"clipboard-a-20240101-120000.000.db.enc",
		"clipboard-a-20240103-120000.000.db.enc",
		"clipboard-a-20240102-120000.000.db",
		"clipboard-a-20240104-120000.000.db.enc",
	}
	for _, n := range names {
		testutil.WriteFile(t, dir, n, "x")
	}
	testutil.WriteFile(t, dir, "notes.txt", "ignored")

	backups, err := List(dir)
	require.NoError(t, err)
	require.Len(t, backups, 4)
	assert.Equal(t, names[3], backups[0].Filename)
	assert.Equal(t, names[0], backups[3].Filename)

	removed, err := Rotate(dir, 2)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	backups, err = List(dir)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, names[3], backups[0].Filename)
	assert.Equal(t, names[1], backups[1].Filename)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	removed, err = Rotate(dir, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestListMissingDir(t *testing.T) {
	backups, err := List(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRunRotates(t *testing.T) {
	db := seededDB(t)
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "clipboard-old-20000101-000000.000.db", "x")

	info, err := Run(context.Background(), db, Options{Dir: dir, Keep: 1})
	require.NoError(t, err)

	backups, err := List(dir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, info.Filename, backups[0].Filename)
}

func TestScheduleStopsWithContext(t *testing.T) {
	db := seededDB(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Schedule(ctx, 20*time.Millisecond, db, Options{Dir: dir, Keep: 2}, nil)
		close(done)
	}()

	require.Eventually(t, func() bool {
		backups, err := List(dir)
		return err == nil && len(backups) > 0
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	backups, err := List(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 2)
}
