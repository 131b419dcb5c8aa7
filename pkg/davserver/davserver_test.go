package davserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

type recordedHook struct {
	mu    sync.Mutex
	calls []Materialized
	data  []string
}

func (h *recordedHook) fn(_ context.Context, m Materialized) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, m)
	data, _ := os.ReadFile(m.LocalPath)
	h.data = append(h.data, string(data))
}

func setupAdapter(t *testing.T) (*Adapter, *recordedHook) {
	t.Helper()
	root := t.TempDir()
	a := New(root, "/dav", slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := &recordedHook{}
	require.NoError(t, a.OnMaterialized("/SyncClipboard.json", h.fn))
	return a, h
}

func do(a *Adapter, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func TestPutManifestFiresHook(t *testing.T) {
	a, h := setupAdapter(t)

	rec := do(a, http.MethodPut, "/dav/SyncClipboard.json", strings.NewReader(`{"Type":"Text"}`))
	assert.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, h.calls, 1)
	assert.Equal(t, "/SyncClipboard.json", h.calls[0].Name)
	assert.Equal(t, filepath.Join(a.Root(), "SyncClipboard.json"), h.calls[0].LocalPath)
	// The hook sees the completed content
	assert.Equal(t, `{"Type":"Text"}`, h.data[0])

	// Overwrite fires again
	rec = do(a, http.MethodPut, "/dav/SyncClipboard.json", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, h.calls, 2)
}

func TestPutOtherPathDoesNotFire(t *testing.T) {
	a, h := setupAdapter(t)

	rec := do(a, http.MethodPut, "/dav/notes.txt", strings.NewReader("x"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, h.calls)

	_, err := os.Stat(filepath.Join(a.Root(), "notes.txt"))
	assert.NoError(t, err)
}

func TestGetDoesNotFire(t *testing.T) {
	a, h := setupAdapter(t)
	require.NoError(t, os.WriteFile(filepath.Join(a.Root(), "SyncClipboard.json"), []byte("{}"), 0644))

	rec := do(a, http.MethodGet, "/dav/SyncClipboard.json", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}", rec.Body.String())
	assert.Empty(t, h.calls)
}

func TestFailedPutDoesNotFire(t *testing.T) {
	a, h := setupAdapter(t)

	body := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("connection reset")))
	rec := do(a, http.MethodPut, "/dav/SyncClipboard.json", body)
	assert.NotEqual(t, http.StatusCreated, rec.Code)
	assert.Empty(t, h.calls)
}

func TestPutIntoMissingCollectionDoesNotFire(t *testing.T) {
	a, h := setupAdapter(t)
	require.NoError(t, a.OnMaterialized("/missing/*", h.fn))

	rec := do(a, http.MethodPut, "/dav/missing/SyncClipboard.json", strings.NewReader("{}"))
	assert.False(t, rec.Code >= 200 && rec.Code < 300)
	assert.Empty(t, h.calls)
}

func TestPathIsCleanedBeforeMatching(t *testing.T) {
	a, h := setupAdapter(t)

	rec := do(a, http.MethodPut, "/dav/./SyncClipboard.json", strings.NewReader("{}"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, h.calls, 1)
	assert.Equal(t, "/SyncClipboard.json", h.calls[0].Name)
}

func TestHookPanicIsContained(t *testing.T) {
	a, h := setupAdapter(t)

	a2 := New(a.Root(), "/dav", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, a2.OnMaterialized("/*.json", func(context.Context, Materialized) {
		panic("boom")
	}))
	require.NoError(t, a2.OnMaterialized("/SyncClipboard.json", h.fn))

	rec := do(a2, http.MethodPut, "/dav/SyncClipboard.json", strings.NewReader("{}"))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, h.calls, 1)
}

func TestHookContextSurvivesClientCancel(t *testing.T) {
	root := t.TempDir()
	a := New(root, "/dav", nil)

	var hookErr error
	require.NoError(t, a.OnMaterialized("/SyncClipboard.json", func(ctx context.Context, _ Materialized) {
		hookErr = ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPut, "/dav/SyncClipboard.json", strings.NewReader("{}")).WithContext(ctx)
	rec := httptest.NewRecorder()

	// Cancel once the engine has the file open for writing.
	a.handler.FileSystem = &cancelOnOpenFS{trackingFS: a.handler.FileSystem.(*trackingFS), cancel: cancel}
	a.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, hookErr)
}

type cancelOnOpenFS struct {
	*trackingFS
	cancel context.CancelFunc
}

func (fs *cancelOnOpenFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (f webdav.File, err error) {
	f, err = fs.trackingFS.OpenFile(ctx, name, flag, perm)
	fs.cancel()
	return f, err
}

func TestOnMaterializedValidation(t *testing.T) {
	a := New(t.TempDir(), "/dav", nil)

	assert.Error(t, a.OnMaterialized("SyncClipboard.json", func(context.Context, Materialized) {}))
	assert.Error(t, a.OnMaterialized("/[", func(context.Context, Materialized) {}))
	assert.Error(t, a.OnMaterialized("/x", nil))
	assert.NoError(t, a.OnMaterialized("/file/*", func(context.Context, Materialized) {}))
}

func TestResourceName(t *testing.T) {
	a := New(t.TempDir(), "/dav/", nil)
	assert.Equal(t, "/dav", a.Prefix())

	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/dav/SyncClipboard.json", "/SyncClipboard.json", true},
		{"/dav", "/", true},
		{"/dav/a/../b", "/b", true},
		{"/other/x", "", false},
	}
	for _, tt := range tests {
		got, ok := a.resourceName(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
