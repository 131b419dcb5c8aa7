// Package history serves filtered, paginated access to captured clipboard
// records and the operations that mutate them.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spideyz0r/clipdav/pkg/stats"
	"github.com/spideyz0r/clipdav/pkg/storage"
)

// Error kinds reported to callers. Wrapped errors carry the detail.
var (
	ErrNotFound = errors.New("not found")
	ErrBadInput = errors.New("bad input")
)

// Pagination bounds.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 10000
)

// Store is the persistence the service needs.
type Store interface {
	QueryRecords(ctx context.Context, filters storage.QueryFilters) ([]*storage.Record, error)
	CountRecords(ctx context.Context, filters storage.QueryFilters) (int64, error)
	GetRecord(ctx context.Context, id int64) (*storage.Record, error)
	CountByKind(ctx context.Context) (map[storage.Kind]int64, error)
	LatestRecord(ctx context.Context) (*storage.Record, error)
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	DeleteRecord(ctx context.Context, id int64) (*storage.Record, error)
	DeleteRecords(ctx context.Context, ids []int64) ([]*storage.Record, error)
}

// Filters narrows a listing. Zero values mean no constraint.
type Filters struct {
	Kind      string
	Favorited *bool
	Search    string
	Start     string // inclusive lower bound on created_at
	End       string // inclusive upper bound on created_at
}

// Page is one page of a listing.
type Page struct {
	Total    int64
	Page     int
	PageSize int
	Items    []*storage.Record
}

// Payload is an open snapshot file. The caller must close Content.
type Payload struct {
	Name    string
	Size    int64
	ModTime time.Time
	Content io.ReadSeekCloser
}

// Service implements the history operations.
type Service struct {
	store   Store
	dataDir string
	loc     *time.Location
	logger  *slog.Logger
}

// New creates a service over store. Snapshot paths are resolved against
// dataDir and naive timestamps are read in loc.
func New(store Store, dataDir string, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		dataDir: dataDir,
		loc:     loc,
		logger:  logger,
	}
}

// Location returns the zone records are presented in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// List returns the records matching filters, most recent first.
// A page or pageSize of 0 selects the default.
func (s *Service) List(ctx context.Context, filters Filters, page, pageSize int) (*Page, error) {
	if page == 0 {
		page = DefaultPage
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", ErrBadInput)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: page_size must be between 1 and %d", ErrBadInput, MaxPageSize)
	}
	// The row offset must fit in an int
	if page-1 > math.MaxInt/pageSize {
		return nil, fmt.Errorf("%w: page is out of range", ErrBadInput)
	}

	qf := storage.QueryFilters{
		Kind:      storage.Kind(filters.Kind),
		Favorited: filters.Favorited,
		Search:    filters.Search,
	}
	if filters.Start != "" {
		t, err := ParseTime(filters.Start, s.loc)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid start_date format", ErrBadInput)
		}
		qf.After = &t
	}
	if filters.End != "" {
		t, err := ParseTime(filters.End, s.loc)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid end_date format", ErrBadInput)
		}
		qf.Before = &t
	}

	total, err := s.store.CountRecords(ctx, qf)
	if err != nil {
		return nil, err
	}

	qf.Limit = pageSize
	qf.Offset = (page - 1) * pageSize
	items, err := s.store.QueryRecords(ctx, qf)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*storage.Record{}
	}

	return &Page{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	}, nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id int64) (*storage.Record, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: record not found", ErrNotFound)
	}
	return rec, err
}

// GetPayload opens the snapshot of a record. The suggested download name
// is the original file name.
func (s *Service) GetPayload(ctx context.Context, id int64) (*Payload, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.HasFile() {
		return nil, fmt.Errorf("%w: no file associated with this record", ErrNotFound)
	}

	full, ok := s.resolve(*rec.FilePath)
	if !ok {
		s.logger.Warn("refusing snapshot path outside data directory", "id", id, "file_path", *rec.FilePath)
		return nil, fmt.Errorf("%w: file not found", ErrNotFound)
	}

	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: file not found", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: file not found", ErrNotFound)
	}

	name := rec.Content
	if name == "" {
		name = filepath.Base(full)
	}

	return &Payload{
		Name:    name,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Content: f,
	}, nil
}

// Stats returns aggregate counts.
func (s *Service) Stats(ctx context.Context) (*stats.Stats, error) {
	return stats.Collect(ctx, s.store)
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *Service) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	fav, err := s.store.ToggleFavorite(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("%w: record not found", ErrNotFound)
	}
	return fav, err
}

// Delete removes a record and its snapshot. Failing to remove the
// snapshot does not fail the delete.
func (s *Service) Delete(ctx context.Context, id int64) error {
	rec, err := s.store.DeleteRecord(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: record not found", ErrNotFound)
	}
	if err != nil {
		return err
	}

	s.removeSnapshot(rec)
	return nil
}

// BatchDelete removes every existing record among ids and returns how many
// were removed. Unknown ids are skipped.
func (s *Service) BatchDelete(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no IDs provided", ErrBadInput)
	}

	deleted, err := s.store.DeleteRecords(ctx, ids)
	if err != nil {
		return 0, err
	}

	for _, rec := range deleted {
		s.removeSnapshot(rec)
	}
	return len(deleted), nil
}

// cleanup is the outcome of removing a snapshot after its record is gone.
type cleanup int

const (
	cleanupNone    cleanup = iota // record had no snapshot
	cleanupRemoved                // snapshot removed
	cleanupMissing                // snapshot already gone
	cleanupFailed                 // removal failed; logged and ignored
)

func (s *Service) removeSnapshot(rec *storage.Record) cleanup {
	if !rec.HasFile() {
		return cleanupNone
	}

	full, ok := s.resolve(*rec.FilePath)
	if !ok {
		s.logger.Warn("skipping cleanup of path outside data directory", "id", rec.ID, "file_path", *rec.FilePath)
		return cleanupFailed
	}

	err := os.Remove(full)
	switch {
	case err == nil:
		return cleanupRemoved
	case errors.Is(err, fs.ErrNotExist):
		return cleanupMissing
	default:
		s.logger.Warn("failed to remove snapshot", "id", rec.ID, "path", full, "error", err)
		return cleanupFailed
	}
}

// resolve maps a stored relative path to a file under the data directory.
func (s *Service) resolve(rel string) (string, bool) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", false
	}
	return filepath.Join(s.dataDir, local), true
}

// Layouts accepted by ParseTime, in the order they are tried. Fractional
// seconds are accepted after the seconds field of any of them.
var timeLayouts = []struct {
	layout string
	zoned  bool
}{
	{time.RFC3339, true},
	{"2006-01-02 15:04:05Z07:00", true},
	{"2006-01-02T15:04Z07:00", true},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02 15:04", false},
	{"2006-01-02", false},
}

// ParseTime parses an ISO-8601 timestamp. Values without a zone offset are
// read in loc.
func ParseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, l := range timeLayouts {
		var (
			t   time.Time
			err error
		)
		if l.zoned {
			t, err = time.Parse(l.layout, value)
		} else {
			t, err = time.ParseInLocation(l.layout, value, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
