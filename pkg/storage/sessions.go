package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is a persisted login session.
type Session struct {
	ID        string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CreateSession stores a new session
func (db *DB) CreateSession(ctx context.Context, s *Session) error {
	if s.ID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (id, username, created_at, expires_at) VALUES (?, ?, ?, ?)",
		s.ID, s.Username, s.CreatedAt.UnixMicro(), s.ExpiresAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns the session with the given id. Sessions that have
// expired at now are reported as ErrNotFound.
func (db *DB) GetSession(ctx context.Context, id string, now time.Time) (*Session, error) {
	var (
		s         Session
		createdAt int64
		expiresAt int64
	)
	err := db.conn.QueryRowContext(ctx,
		"SELECT id, username, created_at, expires_at FROM sessions WHERE id = ?", id,
	).Scan(&s.ID, &s.Username, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.CreatedAt = time.UnixMicro(createdAt)
	s.ExpiresAt = time.UnixMicro(expiresAt)
	if s.Expired(now) {
		return nil, ErrNotFound
	}
	return &s, nil
}

// DeleteSession removes a session. Deleting an unknown id is not an error.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes every session expired at now and returns
// how many were removed.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted sessions: %w", err)
	}
	return n, nil
}
