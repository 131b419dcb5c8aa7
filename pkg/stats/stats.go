package stats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/spideyz0r/clipdav/pkg/storage"
)

// Source is the part of the store statistics are computed from.
type Source interface {
	CountByKind(ctx context.Context) (map[storage.Kind]int64, error)
	LatestRecord(ctx context.Context) (*storage.Record, error)
}

// Stats contains aggregated statistics about clipboard history
type Stats struct {
	TotalRecords int64
	ByType       map[storage.Kind]int64 // always holds every known kind
	Other        int64                  // records of kinds not in storage.KnownKinds
	LatestSync   *time.Time
}

// Collect gathers statistics from the store
func Collect(ctx context.Context, src Source) (*Stats, error) {
	counts, err := src.CountByKind(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}

	stats := &Stats{
		ByType: make(map[storage.Kind]int64, len(storage.KnownKinds)),
	}
	for _, kind := range storage.KnownKinds {
		stats.ByType[kind] = 0
	}

	for kind, count := range counts {
		stats.TotalRecords += count
		if _, known := stats.ByType[kind]; known {
			stats.ByType[kind] = count
		} else {
			stats.Other += count
		}
	}

	latest, err := src.LatestRecord(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get latest record: %w", err)
	default:
		t := latest.CreatedAt
		stats.LatestSync = &t
	}

	return stats, nil
}

// Format formats statistics for display. Times are shown in loc.
func (s *Stats) Format(loc *time.Location, now time.Time) string {
	if s.TotalRecords == 0 {
		return "No clipboard history yet."
	}
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	b.WriteString("clipdav - History Statistics\n")
	b.WriteString("============================\n\n")

	fmt.Fprintf(&b, "Total Records:    %s\n", humanize.Comma(s.TotalRecords))
	if s.LatestSync != nil {
		fmt.Fprintf(&b, "Latest Sync:      %s (%s)\n",
			s.LatestSync.In(loc).Format("2006-01-02 15:04:05"),
			humanize.RelTime(*s.LatestSync, now, "ago", "from now"))
	}
	b.WriteString("\n")

	b.WriteString("Records by Type:\n")
	b.WriteString("----------------\n")
	b.WriteString(formatDistribution(s.ByType, s.Other, s.TotalRecords))

	return b.String()
}

// formatDistribution creates a visual histogram of records per type
func formatDistribution(byType map[storage.Kind]int64, other, total int64) string {
	var b strings.Builder

	// Find max count for scaling
	maxCount := other
	for _, count := range byType {
		if count > maxCount {
			maxCount = count
		}
	}

	line := func(label string, count int64) {
		// Scale to 40 characters max
		barLength := 0
		if maxCount > 0 {
			barLength = int((count * 40) / maxCount)
		}
		percentage := float64(count) / float64(total) * 100
		fmt.Fprintf(&b, "%-6s (%4d | %5.1f%%) %s\n", label, count, percentage, strings.Repeat("█", barLength))
	}

	for _, kind := range storage.KnownKinds {
		line(string(kind), byType[kind])
	}
	if other > 0 {
		line("Other", other)
	}

	return b.String()
}
