// Package auth verifies the configured account and manages login sessions.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/spideyz0r/clipdav/pkg/storage"
)

var (
	// ErrInvalidCredentials is returned when a username/password pair is rejected.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrNoSession is returned when a request carries no usable identity.
	ErrNoSession = errors.New("not logged in")
)

const (
	// CookieName is the session cookie set on login.
	CookieName = "session_id"
	// DefaultTTL is how long a session stays valid.
	DefaultTTL = 24 * time.Hour
)

// SessionStore persists sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *storage.Session) error
	GetSession(ctx context.Context, id string, now time.Time) (*storage.Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Credentials is the single account allowed in. When PasswordHash is set
// it is a bcrypt hash and Password is ignored.
type Credentials struct {
	Username     string
	Password     string
	PasswordHash string
}

// Options tunes a Gate.
type Options struct {
	TTL          time.Duration
	CookieSecure bool
	Now          func() time.Time
	Logger       *slog.Logger
}

// Gate authenticates requests.
type Gate struct {
	creds    Credentials
	sessions SessionStore
	ttl      time.Duration
	secure   bool
	now      func() time.Time
	logger   *slog.Logger
}

// NewGate creates a gate for creds with sessions kept in store.
func NewGate(creds Credentials, store SessionStore, opts Options) (*Gate, error) {
	if creds.Username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if creds.PasswordHash == "" && creds.Password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if creds.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(creds.PasswordHash)); err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
	}

	g := &Gate{
		creds:    creds,
		sessions: store,
		ttl:      opts.TTL,
		secure:   opts.CookieSecure,
		now:      opts.Now,
		logger:   opts.Logger,
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// Verify reports whether username and password match the account.
func (g *Gate) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.creds.Username)) == 1

	var passOK bool
	if g.creds.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(g.creds.PasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(g.creds.Password)) == 1
	}

	return userOK && passOK
}

// Login checks the credentials and opens a new session.
func (g *Gate) Login(ctx context.Context, username, password string) (*storage.Session, error) {
	if !g.Verify(username, password) {
		return nil, ErrInvalidCredentials
	}

	now := g.now()
	s := &storage.Session{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}
	if err := g.sessions.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// Logout ends a session. Unknown tokens are ignored.
func (g *Gate) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return g.sessions.DeleteSession(ctx, token)
}

// Authenticate resolves the user behind r: the session cookie first, then
// HTTP Basic credentials.
func (g *Gate) Authenticate(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		s, err := g.sessions.GetSession(r.Context(), c.Value, g.now())
		switch {
		case err == nil:
			return s.Username, nil
		case !errors.Is(err, storage.ErrNotFound):
			return "", fmt.Errorf("failed to look up session: %w", err)
		}
	}

	if user, pass, ok := r.BasicAuth(); ok && g.Verify(user, pass) {
		return user, nil
	}

	return "", ErrNoSession
}

// SetCookie attaches the session cookie for s to the response.
func (g *Gate) SetCookie(w http.ResponseWriter, s *storage.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(g.ttl / time.Second),
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie.
func (g *Gate) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   g.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Sweep removes expired sessions.
func (g *Gate) Sweep(ctx context.Context) (int64, error) {
	return g.sessions.DeleteExpiredSessions(ctx, g.now())
}
