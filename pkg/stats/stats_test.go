package stats

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spideyz0r/clipdav/pkg/storage"
)

func openDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insert(t *testing.T, db *storage.DB, kind storage.Kind, at time.Time) {
	t.Helper()
	require.NoError(t, db.InsertRecord(context.Background(), &storage.Record{
		Kind:      kind,
		Content:   "x",
		CreatedAt: at,
	}))
}

func TestCollect_EmptyDatabase(t *testing.T) {
	db := openDB(t)

	stats, err := Collect(context.Background(), db)
	require.NoError(t, err)

	assert.Equal(t, int64(0), stats.TotalRecords)
	assert.Nil(t, stats.LatestSync)
	assert.Equal(t, map[storage.Kind]int64{
		storage.KindText:  0,
		storage.KindImage: 0,
		storage.KindFile:  0,
		storage.KindGroup: 0,
	}, stats.ByType)
	assert.Equal(t, "No clipboard history yet.", stats.Format(time.UTC, time.Now()))
}

func TestCollect_MixedKinds(t *testing.T) {
	db := openDB(t)

	base := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	insert(t, db, storage.KindText, base)
	insert(t, db, storage.KindText, base.Add(time.Minute))
	insert(t, db, storage.KindImage, base.Add(2*time.Minute))
	insert(t, db, storage.Kind("Sticker"), base.Add(3*time.Minute))
	insert(t, db, storage.KindGroup, base.Add(-time.Hour))

	stats, err := Collect(context.Background(), db)
	require.NoError(t, err)

	assert.Equal(t, int64(5), stats.TotalRecords)
	assert.Equal(t, int64(2), stats.ByType[storage.KindText])
	assert.Equal(t, int64(1), stats.ByType[storage.KindImage])
	assert.Equal(t, int64(0), stats.ByType[storage.KindFile])
	assert.Equal(t, int64(1), stats.ByType[storage.KindGroup])
	assert.NotContains(t, stats.ByType, storage.Kind("Sticker"))
	assert.Equal(t, int64(1), stats.Other)

	require.NotNil(t, stats.LatestSync)
	assert.True(t, base.Add(3*time.Minute).Equal(*stats.LatestSync))
}

func TestFormat(t *testing.T) {
	latest := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	s := &Stats{
		TotalRecords: 4,
		ByType: map[storage.Kind]int64{
			storage.KindText:  2,
			storage.KindImage: 1,
			storage.KindFile:  0,
			storage.KindGroup: 0,
		},
		Other:      1,
		LatestSync: &latest,
	}

	loc := time.FixedZone("CST", 8*3600)
	out := s.Format(loc, latest.Add(2*time.Hour))

	assert.Contains(t, out, "Total Records:    4\n")
	assert.Contains(t, out, "Latest Sync:      2024-06-01 18:00:00 (2 hours ago)\n")
	assert.Contains(t, out, "Text   (   2 |  50.0%) "+strings.Repeat("█", 40)+"\n")
	assert.Contains(t, out, "Image  (   1 |  25.0%) "+strings.Repeat("█", 20)+"\n")
	assert.Contains(t, out, "Other  (   1 |  25.0%)")
}
