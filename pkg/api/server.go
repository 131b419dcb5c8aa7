// Package api exposes the history service, the login flow and the WebDAV
// share on one chi router.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/spideyz0r/clipdav/pkg/auth"
	"github.com/spideyz0r/clipdav/pkg/davserver"
	"github.com/spideyz0r/clipdav/pkg/history"
)

// Realm is the Basic auth realm announced to WebDAV clients.
const Realm = "clipdav"

// WebDAV methods chi does not route by default.
var davMethods = []string{"PROPFIND", "PROPPATCH", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK"}

func init() {
	for _, m := range davMethods {
		chi.RegisterMethod(m)
	}
}

// Paths reported by /api/info.
type Paths struct {
	DataDir    string
	HistoryDir string
	Database   string
}

// Options wires a Server.
type Options struct {
	History   *history.Service
	Gate      *auth.Gate
	DAV       *davserver.Adapter
	Paths     Paths
	StaticDir string // front-end assets; empty disables the mount
	Logger    *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	history   *history.Service
	gate      *auth.Gate
	dav       *davserver.Adapter
	paths     Paths
	staticDir string
	logger    *slog.Logger
}

// New creates a server. History, Gate and DAV are required.
func New(opts Options) (*Server, error) {
	if opts.History == nil || opts.Gate == nil || opts.DAV == nil {
		return nil, fmt.Errorf("history, gate and dav are required")
	}
	if opts.StaticDir != "" {
		info, err := os.Stat(opts.StaticDir)
		if err != nil {
			return nil, fmt.Errorf("invalid static dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static dir %s is not a directory", opts.StaticDir)
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Server{
		history:   opts.History,
		gate:      opts.Gate,
		dav:       opts.DAV,
		paths:     opts.Paths,
		staticDir: opts.StaticDir,
		logger:    opts.Logger,
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger, s.dav.Prefix()))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/login", s.handleLogin)
	r.Post("/api/logout", s.handleLogout)
	r.Get("/api/check-auth", s.handleCheckAuth)

	r.Group(func(r chi.Router) {
		r.Use(s.gate.RequireUser)

		r.Get("/api/history", s.handleList)
		r.Post("/api/history/batch-delete", s.handleBatchDelete)
		r.Get("/api/history/{id}", s.handleGet)
		r.Delete("/api/history/{id}", s.handleDelete)
		r.Post("/api/history/{id}/favorite", s.handleToggleFavorite)
		r.Get("/api/file/{id}", s.handleFile)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/info", s.handleInfo)
	})

	dav := s.gate.RequireBasic(Realm)(s.dav)
	r.Handle(s.dav.Prefix(), dav)
	r.Handle(s.dav.Prefix()+"/*", dav)

	if s.staticDir != "" {
		r.Get("/", s.handleRoot)
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}

	return r
}

// handleRoot sends signed-in users to the app and everyone else to login.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if _, err := s.gate.Authenticate(r); err != nil {
		http.Redirect(w, r, "/login.html", http.StatusTemporaryRedirect)
		return
	}
	http.Redirect(w, r, "/index.html", http.StatusTemporaryRedirect)
}
