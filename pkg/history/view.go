package history

import (
	"time"

	"github.com/spideyz0r/clipdav/pkg/storage"
)

// TimeLayout renders created_at: ISO-8601 with microseconds and the zone offset.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// RecordView is the wire form of a record. Absent optionals encode as null
// and extra_data is passed through as stored.
type RecordView struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	FilePath  *string `json:"file_path"`
	FileHash  *string `json:"file_hash"`
	FileSize  *int64  `json:"file_size"`
	CreatedAt string  `json:"created_at"`
	ExtraData *string `json:"extra_data"`
}

// NewView converts rec for presentation in loc.
func NewView(rec *storage.Record, loc *time.Location) RecordView {
	if loc == nil {
		loc = time.UTC
	}
	return RecordView{
		ID:        rec.ID,
		Type:      string(rec.Kind),
		Content:   rec.Content,
		FilePath:  rec.FilePath,
		FileHash:  rec.FileHash,
		FileSize:  rec.FileSize,
		CreatedAt: rec.CreatedAt.In(loc).Format(TimeLayout),
		ExtraData: rec.ExtraData,
	}
}

// NewViews converts a slice of records. The result is never nil.
func NewViews(recs []*storage.Record, loc *time.Location) []RecordView {
	views := make([]RecordView, 0, len(recs))
	for _, r := range recs {
		views = append(views, NewView(r, loc))
	}
	return views
}
