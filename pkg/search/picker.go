package search

import (
	"errors"
	"fmt"
	"time"

	fuzzyfinder "github.com/ktr0731/go-fuzzyfinder"

	"github.com/spideyz0r/clipdav/pkg/storage"
)

// ErrAborted is returned when the user leaves the picker without choosing.
var ErrAborted = errors.New("selection aborted")

// Pick launches an interactive selector using ktr0731/go-fuzzyfinder.
func Pick(records []*storage.Record, preFilter string, loc *time.Location) (*storage.Record, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no history records found")
	}
	if loc == nil {
		loc = time.Local
	}

	// If preFilter is provided, filter records first
	filtered := records
	if preFilter != "" {
		filtered = FilterRecords(records, preFilter)
		if len(filtered) == 0 {
			return nil, fmt.Errorf("no records match filter: %s", preFilter)
		}
	}

	now := time.Now()
	idx, err := fuzzyfinder.Find(
		filtered,
		func(i int) string {
			return FormatRecord(filtered[i], loc)
		},
		fuzzyfinder.WithPreviewWindow(func(i, w, h int) string {
			if i == -1 {
				return ""
			}
			return Preview(filtered[i], loc, now)
		}),
	)
	if errors.Is(err, fuzzyfinder.ErrAbort) {
		return nil, ErrAborted
	}
	if err != nil {
		return nil, fmt.Errorf("picker failed: %w", err)
	}

	return filtered[idx], nil
}
