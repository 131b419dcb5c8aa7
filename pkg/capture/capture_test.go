package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spideyz0r/clipdav/pkg/storage"
	"github.com/spideyz0r/clipdav/pkg/testutil"
)

// memRecorder is an in-memory Recorder.
type memRecorder struct {
	mu      sync.Mutex
	records []*storage.Record
	err     error
}

func (m *memRecorder) InsertRecord(_ context.Context, rec *storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	rec.ID = int64(len(m.records))
	return nil
}

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)

func setupPipeline(t *testing.T, rec Recorder) (*Pipeline, string) {
	t.Helper()
	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, PayloadDirName), 0755))

	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	p := New(rec, Options{
		DataDir:  dataDir,
		Location: loc,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return fixedNow },
	})
	return p, dataDir
}

func writeManifest(t *testing.T, dataDir, body string) string {
	t.Helper()
	path := filepath.Join(dataDir, ManifestName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func writePayload(t *testing.T, dataDir, name, body string) string {
	t.Helper()
	path := filepath.Join(dataDir, PayloadDirName, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0640))
	return path
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected *Manifest
		wantErr  bool
	}{
		{
			name:     "text",
			input:    `{"Type":"Text","Clipboard":"hello","File":""}`,
			expected: &Manifest{Type: "Text", Clipboard: "hello"},
		},
		{
			name:     "with BOM and extra fields",
			input:    "\ufeff" + `{"Type":"Image","Clipboard":"ABC","File":"a.png","Extra":1}`,
			expected: &Manifest{Type: "Image", Clipboard: "ABC", File: "a.png"},
		},
		{
			name:    "garbage",
			input:   `{"Type":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m)
		})
	}
}

func TestSnapshotName(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	at := time.Date(2024, 5, 6, 15, 8, 9, 123456789, loc)
	assert.Equal(t, "20240506_070809_123456_photo.png", SnapshotName(at, "photo.png"))
}

func TestHandleManifest_Text(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)
	path := writeManifest(t, dataDir, `{"Type":"Text","Clipboard":"hello <world>","File":""}`)

	res := p.HandleManifest(context.Background(), path)
	require.Equal(t, Recorded, res.Status)
	assert.NoError(t, res.Err)
	assert.Empty(t, res.Snapshot)

	require.Len(t, rec.records, 1)
	got := rec.records[0]
	assert.Equal(t, storage.KindText, got.Kind)
	assert.Equal(t, "hello <world>", got.Content)
	assert.Nil(t, got.FilePath)
	assert.Nil(t, got.FileHash)
	assert.Nil(t, got.FileSize)
	assert.True(t, fixedNow.Equal(got.CreatedAt))
	assert.Equal(t, "Asia/Shanghai", got.CreatedAt.Location().String())
}

func TestHandleManifest_ImageWithPayload(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)
	src := writePayload(t, dataDir, "shot.png", "PNGDATA")
	mtime := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))
	path := writeManifest(t, dataDir, `{"Type":"Image","Clipboard":"HASH123","File":"shot.png"}`)

	res := p.HandleManifest(context.Background(), path)
	require.Equal(t, Recorded, res.Status)
	assert.Equal(t, "history/20240506_070809_123456_shot.png", res.Snapshot)

	require.Len(t, rec.records, 1)
	got := rec.records[0]
	assert.Equal(t, storage.KindImage, got.Kind)
	assert.Equal(t, "shot.png", got.Content)
	require.NotNil(t, got.FilePath)
	assert.Equal(t, res.Snapshot, *got.FilePath)
	require.NotNil(t, got.FileSize)
	assert.Equal(t, int64(7), *got.FileSize)
	require.NotNil(t, got.FileHash)
	assert.Equal(t, "HASH123", *got.FileHash)

	copied := filepath.Join(dataDir, filepath.FromSlash(res.Snapshot))
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(data))

	info, err := os.Stat(copied)
	require.NoError(t, err)
	assert.True(t, mtime.Equal(info.ModTime()))
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	// Staging copy untouched
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestHandleManifest_MissingPayload(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)
	path := writeManifest(t, dataDir, `{"Type":"File","Clipboard":"H","File":"gone.pdf"}`)

	res := p.HandleManifest(context.Background(), path)
	require.Equal(t, Recorded, res.Status)

	require.Len(t, rec.records, 1)
	got := rec.records[0]
	assert.Equal(t, "gone.pdf", got.Content)
	assert.Nil(t, got.FilePath)
	assert.Nil(t, got.FileSize)
	assert.Nil(t, got.FileHash)
}

func TestHandleManifest_UnsafePayloadName(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "secret.txt"), []byte("x"), 0644))
	path := writeManifest(t, dataDir, `{"Type":"File","Clipboard":"","File":"../secret.txt"}`)

	res := p.HandleManifest(context.Background(), path)
	require.Equal(t, Recorded, res.Status)
	require.Len(t, rec.records, 1)
	assert.Nil(t, rec.records[0].FilePath)
	assert.Equal(t, "../secret.txt", rec.records[0].Content)
}

func TestHandleManifest_UnknownKind(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)
	writePayload(t, dataDir, "a.bin", "x")
	path := writeManifest(t, dataDir, `{"Type":"Sticker","Clipboard":"raw","File":"a.bin"}`)

	res := p.HandleManifest(context.Background(), path)
	require.Equal(t, Recorded, res.Status)
	require.Len(t, rec.records, 1)
	assert.Equal(t, storage.Kind("Sticker"), rec.records[0].Kind)
	assert.Equal(t, "raw", rec.records[0].Content)
	assert.Nil(t, rec.records[0].FilePath)
}

func TestHandleManifest_MissingType(t *testing.T) {
	db := testutil.NewTestDB(t)
	p, dataDir := setupPipeline(t, db)
	path := writeManifest(t, dataDir, `{"Clipboard":"no type given"}`)

	res := p.HandleManifest(context.Background(), path)
	require.Equal(t, Recorded, res.Status, "err: %v", res.Err)

	got, err := db.GetRecord(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, storage.Kind(""), got.Kind)
	assert.Equal(t, "no type given", got.Content)
}

func TestHandleManifest_MissingManifest(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)

	res := p.HandleManifest(context.Background(), filepath.Join(dataDir, ManifestName))
	assert.Equal(t, Skipped, res.Status)
	assert.NoError(t, res.Err)
	assert.Empty(t, rec.records)
}

func TestHandleManifest_Malformed(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)
	path := writeManifest(t, dataDir, `not json`)

	res := p.HandleManifest(context.Background(), path)
	assert.Equal(t, Failed, res.Status)
	assert.Error(t, res.Err)
	assert.Empty(t, rec.records)
}

func TestHandleManifest_InsertFailureRemovesSnapshot(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	p, dataDir := setupPipeline(t, rec)
	writePayload(t, dataDir, "doc.txt", "body")
	path := writeManifest(t, dataDir, `{"Type":"File","Clipboard":"H","File":"doc.txt"}`)

	res := p.HandleManifest(context.Background(), path)
	assert.Equal(t, Failed, res.Status)
	assert.EqualError(t, res.Err, "disk full")

	entries, err := os.ReadDir(filepath.Join(dataDir, HistoryDirName))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleManifest_SameSecondNoOverwrite(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)
	writePayload(t, dataDir, "same.txt", "one")
	path := writeManifest(t, dataDir, `{"Type":"File","Clipboard":"","File":"same.txt"}`)

	// Frozen clock: every capture asks for the same stamp
	var snapshots []string
	for i := 0; i < 3; i++ {
		res := p.HandleManifest(context.Background(), path)
		require.Equal(t, Recorded, res.Status)
		snapshots = append(snapshots, res.Snapshot)
	}

	assert.Equal(t, []string{
		"history/20240506_070809_123456_same.txt",
		"history/20240506_070809_123457_same.txt",
		"history/20240506_070809_123458_same.txt",
	}, snapshots)
}

func TestHandleManifest_ConcurrentCaptures(t *testing.T) {
	rec := &memRecorder{}
	p, dataDir := setupPipeline(t, rec)
	writePayload(t, dataDir, "c.txt", "data")
	path := writeManifest(t, dataDir, `{"Type":"File","Clipboard":"","File":"c.txt"}`)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.HandleManifest(context.Background(), path)
			assert.Equal(t, Recorded, res.Status)
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(filepath.Join(dataDir, HistoryDirName))
	require.NoError(t, err)
	assert.Len(t, entries, n)
	assert.Len(t, rec.records, n)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "recorded", Recorded.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
