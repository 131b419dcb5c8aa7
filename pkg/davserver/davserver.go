// Package davserver serves a directory over WebDAV and reports completed
// writes of selected resources to registered hooks.
package davserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/webdav"
)

// Materialized identifies a resource whose write completed successfully.
type Materialized struct {
	Name      string // cleaned resource path, e.g. /SyncClipboard.json
	LocalPath string // file backing the resource
}

// MaterializedFunc is called after a successful write to a matching resource.
type MaterializedFunc func(ctx context.Context, m Materialized)

type hook struct {
	pattern string
	fn      MaterializedFunc
}

// Adapter is a WebDAV handler over a local directory.
type Adapter struct {
	root    string
	prefix  string
	handler *webdav.Handler
	logger  *slog.Logger

	mu    sync.RWMutex
	hooks []hook
}

// New creates an adapter serving root under the URL prefix.
func New(root, prefix string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.TrimSuffix(prefix, "/")

	a := &Adapter{
		root:   root,
		prefix: prefix,
		logger: logger,
	}
	a.handler = &webdav.Handler{
		Prefix:     prefix,
		FileSystem: &trackingFS{FileSystem: webdav.Dir(root)},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Debug("webdav request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			}
		},
	}
	return a
}

// OnMaterialized registers fn for resources whose cleaned path matches
// pattern (path.Match syntax, rooted at "/"). Hooks run in registration
// order.
func (a *Adapter) OnMaterialized(pattern string, fn MaterializedFunc) error {
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("pattern must be rooted: %q", pattern)
	}
	if _, err := path.Match(pattern, "/"); err != nil {
		return fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	if fn == nil {
		return fmt.Errorf("hook for %q is nil", pattern)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, hook{pattern: pattern, fn: fn})
	return nil
}

// Root returns the served directory.
func (a *Adapter) Root() string {
	return a.root
}

// Prefix returns the URL prefix.
func (a *Adapter) Prefix() string {
	return a.prefix
}

func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		a.handler.ServeHTTP(w, r)
		return
	}

	name, ok := a.resourceName(r.URL.Path)
	if !ok {
		a.handler.ServeHTTP(w, r)
		return
	}
	hooks := a.matching(name)
	if len(hooks) == 0 {
		a.handler.ServeHTTP(w, r)
		return
	}

	tracker := &writeTracker{}
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	a.handler.ServeHTTP(ww, r.WithContext(withTracker(r.Context(), tracker)))

	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status > 299 {
		a.logger.Debug("write not materialized", "path", name, "status", status)
		return
	}
	if err := tracker.result(); err != nil {
		a.logger.Warn("write reported success with errors", "path", name, "error", err)
		return
	}

	m := Materialized{Name: name, LocalPath: a.localPath(name)}
	// The client may hang up once the response is written; capture must
	// still run to completion.
	ctx := context.WithoutCancel(r.Context())
	for _, h := range hooks {
		a.run(ctx, h, m)
	}
}

func (a *Adapter) run(ctx context.Context, h hook, m Materialized) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("materialized hook panicked", "pattern", h.pattern, "path", m.Name, "panic", rec)
		}
	}()
	h.fn(ctx, m)
}

func (a *Adapter) matching(name string) []hook {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []hook
	for _, h := range a.hooks {
		if ok, _ := path.Match(h.pattern, name); ok {
			out = append(out, h)
		}
	}
	return out
}

// resourceName strips the URL prefix and cleans the remainder the same way
// the engine does before touching the filesystem.
func (a *Adapter) resourceName(urlPath string) (string, bool) {
	if a.prefix == "" {
		return path.Clean("/" + urlPath), true
	}
	rest := strings.TrimPrefix(urlPath, a.prefix)
	if len(rest) == len(urlPath) {
		return "", false
	}
	return path.Clean("/" + rest), true
}

func (a *Adapter) localPath(name string) string {
	return filepath.Join(a.root, filepath.FromSlash(path.Clean("/"+name)))
}
