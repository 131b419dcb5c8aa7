package search

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/spideyz0r/clipdav/pkg/storage"
)

const (
	timeLayout   = "2006-01-02 15:04:05"
	summaryWidth = 80
)

// Querier is the read access browsing needs.
type Querier interface {
	QueryRecords(ctx context.Context, filters storage.QueryFilters) ([]*storage.Record, error)
}

// Recent returns up to limit records matching filters, most recent first.
// A limit of 0 loads everything.
func Recent(ctx context.Context, src Querier, filters storage.QueryFilters, limit int) ([]*storage.Record, error) {
	filters.Limit = limit
	records, err := src.QueryRecords(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	return records, nil
}

// FilterRecords keeps records whose content contains query, ignoring case.
func FilterRecords(records []*storage.Record, query string) []*storage.Record {
	query = strings.ToLower(query)
	var filtered []*storage.Record
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Content), query) {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// FormatRecord formats a record as one picker line.
// Format: time │ kind │ favorite │ summary.
func FormatRecord(rec *storage.Record, loc *time.Location) string {
	star := " "
	if rec.Favorited {
		star = "★"
	}

	parts := []string{
		rec.CreatedAt.In(loc).Format(timeLayout),
		fmt.Sprintf("%-5s", rec.Kind),
		star,
		summary(rec),
	}

	return strings.Join(parts, " │ ")
}

// summary flattens content to a single bounded line.
func summary(rec *storage.Record) string {
	s := strings.Join(strings.Fields(rec.Content), " ")
	if rec.Kind.HasPayload() && rec.FileSize != nil {
		s = fmt.Sprintf("%s (%s)", s, humanize.IBytes(uint64(*rec.FileSize)))
	}
	if utf8.RuneCountInString(s) <= summaryWidth {
		return s
	}
	r := []rune(s)
	return string(r[:summaryWidth-3]) + "..."
}

// Preview renders the detail pane for a record.
func Preview(rec *storage.Record, loc *time.Location, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#%d  %s", rec.ID, rec.Kind)
	if rec.Favorited {
		b.WriteString("  ★")
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Captured: %s (%s)\n", rec.CreatedAt.In(loc).Format(timeLayout), humanize.RelTime(rec.CreatedAt, now, "ago", "from now"))
	if rec.HasFile() {
		fmt.Fprintf(&b, "Snapshot: %s\n", *rec.FilePath)
	}
	if rec.FileSize != nil {
		fmt.Fprintf(&b, "Size:     %s\n", humanize.IBytes(uint64(*rec.FileSize)))
	}
	if rec.FileHash != nil {
		fmt.Fprintf(&b, "Hash:     %s\n", *rec.FileHash)
	}

	b.WriteString("\n")
	b.WriteString(rec.Content)

	return b.String()
}

// Selection returns what browsing prints for a chosen record: the snapshot
// location for payload records, the clipboard text otherwise.
func Selection(rec *storage.Record, dataDir string) string {
	if rec.Kind.HasPayload() && rec.HasFile() {
		return filepath.Join(dataDir, filepath.FromSlash(*rec.FilePath))
	}
	return rec.Content
}
