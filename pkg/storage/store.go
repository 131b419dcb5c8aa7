package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Store defines the interface for history storage operations
type Store interface {
	InsertRecord(ctx context.Context, rec *Record) error
	QueryRecords(ctx context.Context, filters QueryFilters) ([]*Record, error)
	CountRecords(ctx context.Context, filters QueryFilters) (int64, error)
	GetRecord(ctx context.Context, id int64) (*Record, error)
	CountByKind(ctx context.Context) (map[Kind]int64, error)
	LatestRecord(ctx context.Context) (*Record, error)
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	DeleteRecord(ctx context.Context, id int64) (*Record, error)
	DeleteRecords(ctx context.Context, ids []int64) ([]*Record, error)
	Close() error
}

// QueryFilters defines filters for querying history
type QueryFilters struct {
	Kind      Kind       // Exact type match
	Favorited *bool      // nil = either
	Search    string     // Substring in content or extra_data
	After     *time.Time // Inclusive lower bound on created_at
	Before    *time.Time // Inclusive upper bound on created_at
	Limit     int        // Max results (0 = unlimited)
	Offset    int        // Pagination offset
}

const recordColumns = "id, type, content, file_path, file_hash, file_size, created_at, extra_data, favorited"

// The favorite column is authoritative; the substring markers keep rows
// whose extra_data was edited outside clipdav visible to the filter.
const (
	favoriteTrueClause  = `(favorited = 1 OR (extra_data IS NOT NULL AND (extra_data LIKE '%"favorited":true%' OR extra_data LIKE '%"favorited": true%')))`
	favoriteFalseClause = `(favorited = 0 AND (extra_data IS NULL OR (extra_data NOT LIKE '%"favorited":true%' AND extra_data NOT LIKE '%"favorited": true%')))`
)

// InsertRecord adds a new record and sets rec.ID.
func (db *DB) InsertRecord(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.ExtraData != nil && ExtraFavorited(rec.ExtraData) {
		rec.Favorited = true
	}

	query := `
		INSERT INTO clipboard_history (
			type, content, file_path, file_hash, file_size, created_at, extra_data, favorited
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.conn.ExecContext(
		ctx,
		query,
		string(rec.Kind),
		rec.Content,
		rec.FilePath,
		rec.FileHash,
		rec.FileSize,
		rec.CreatedAt.UnixMicro(),
		rec.ExtraData,
		rec.Favorited,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get record id: %w", err)
	}
	rec.ID = id

	return nil
}

// whereClause builds the shared WHERE clause for filtered queries
func (f QueryFilters) whereClause() (string, []interface{}) {
	var b strings.Builder
	args := []interface{}{}

	b.WriteString(" WHERE 1=1")

	if f.Kind != "" {
		b.WriteString(" AND type = ?")
		args = append(args, string(f.Kind))
	}

	if f.Favorited != nil {
		if *f.Favorited {
			b.WriteString(" AND " + favoriteTrueClause)
		} else {
			b.WriteString(" AND " + favoriteFalseClause)
		}
	}

	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		b.WriteString(` AND (content LIKE ? ESCAPE '\' OR extra_data LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}

	if f.After != nil {
		b.WriteString(" AND created_at >= ?")
		args = append(args, f.After.UnixMicro())
	}

	if f.Before != nil {
		b.WriteString(" AND created_at <= ?")
		args = append(args, f.Before.UnixMicro())
	}

	return b.String(), args
}

// escapeLike makes s match literally inside a LIKE pattern
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// QueryRecords retrieves records matching the given filters, most recent first
func (db *DB) QueryRecords(ctx context.Context, filters QueryFilters) ([]*Record, error) {
	where, args := filters.whereClause()
	query := "SELECT " + recordColumns + " FROM clipboard_history" + where +
		" ORDER BY created_at DESC, id DESC"

	if filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
	} else if filters.Offset > 0 {
		query += " LIMIT -1"
	}

	if filters.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filters.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	return records, nil
}

// CountRecords returns the number of records matching the given filters.
// Limit and Offset are ignored.
func (db *DB) CountRecords(ctx context.Context, filters QueryFilters) (int64, error) {
	where, args := filters.whereClause()

	var count int64
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM clipboard_history"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// GetRecord retrieves a single record by ID
func (db *DB) GetRecord(ctx context.Context, id int64) (*Record, error) {
	return getRecord(ctx, db.conn, id)
}

// CountByKind returns record counts grouped by type
func (db *DB) CountByKind(ctx context.Context) (map[Kind]int64, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT type, COUNT(*) FROM clipboard_history GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to count by type: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[Kind]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Kind(kind)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

// LatestRecord returns the most recently captured record
func (db *DB) LatestRecord(ctx context.Context) (*Record, error) {
	query := "SELECT " + recordColumns + " FROM clipboard_history ORDER BY created_at DESC, id DESC LIMIT 1"
	rec, err := scanRecord(db.conn.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record: %w", err)
	}
	return rec, nil
}

// ToggleFavorite flips the favorite flag of a record inside one transaction
// and returns the new value. A record counts as favorited when either the
// column or extra_data says so; extra_data is rewritten with all of its other
// keys intact.
func (db *DB) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		extra  sql.NullString
		column bool
	)
	err = tx.QueryRowContext(ctx, "SELECT extra_data, favorited FROM clipboard_history WHERE id = ?", id).Scan(&extra, &column)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read record: %w", err)
	}

	favorited := !(column || ExtraFavorited(nullString(extra)))
	encoded, err := SetExtraFavorited(nullString(extra), favorited)
	if err != nil {
		return false, fmt.Errorf("failed to encode extra data: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE clipboard_history SET extra_data = ?, favorited = ? WHERE id = ?",
		encoded, favorited, id,
	); err != nil {
		return false, fmt.Errorf("failed to update record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit favorite: %w", err)
	}

	return favorited, nil
}

// DeleteRecord removes a record by ID and returns what was removed
func (db *DB) DeleteRecord(ctx context.Context, id int64) (*Record, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := getRecord(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM clipboard_history WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("failed to delete record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	return rec, nil
}

// DeleteRecords removes every existing record among ids in one transaction.
// Unknown ids are skipped. The removed records are returned.
func (db *DB) DeleteRecords(ctx context.Context, ids []int64) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM clipboard_history WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	records, err := scanRecords(rows)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM clipboard_history WHERE id IN ("+placeholders+")", args...); err != nil {
		return nil, fmt.Errorf("failed to delete records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	return records, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getRecord(ctx context.Context, q queryer, id int64) (*Record, error) {
	query := "SELECT " + recordColumns + " FROM clipboard_history WHERE id = ?"
	rec, err := scanRecord(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var (
		kind      string
		content   sql.NullString
		filePath  sql.NullString
		fileHash  sql.NullString
		fileSize  sql.NullInt64
		createdAt int64
		extra     sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&kind,
		&content,
		&filePath,
		&fileHash,
		&fileSize,
		&createdAt,
		&extra,
		&rec.Favorited,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = Kind(kind)
	rec.Content = content.String
	rec.FilePath = nullString(filePath)
	rec.FileHash = nullString(fileHash)
	if fileSize.Valid {
		size := fileSize.Int64
		rec.FileSize = &size
	}
	rec.CreatedAt = time.UnixMicro(createdAt)
	rec.ExtraData = nullString(extra)

	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
