package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spideyz0r/clipdav/pkg/storage"
)

// Layout of the data directory shared with the sync client.
const (
	ManifestName   = "SyncClipboard.json"
	PayloadDirName = "file"
	HistoryDirName = "history"
)

// Status is the outcome of one capture.
type Status int

const (
	// Recorded means a record was persisted.
	Recorded Status = iota
	// Skipped means there was nothing to capture.
	Skipped
	// Failed means the event was lost; Err says why.
	Failed
)

func (s Status) String() string {
	switch s {
	case Recorded:
		return "recorded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result describes what a capture did.
type Result struct {
	Status   Status
	RecordID int64
	Snapshot string // relative snapshot path, empty when none was taken
	Err      error
}

// Recorder persists captured records.
type Recorder interface {
	InsertRecord(ctx context.Context, rec *storage.Record) error
}

// Options configures a Pipeline.
type Options struct {
	DataDir  string
	Location *time.Location   // zone for created_at, defaults to UTC
	Logger   *slog.Logger     // defaults to slog.Default()
	Now      func() time.Time // defaults to time.Now
}

// Pipeline turns completed manifest writes into history records.
type Pipeline struct {
	recorder   Recorder
	dataDir    string
	payloadDir string
	historyDir string
	loc        *time.Location
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a capture pipeline rooted at opts.DataDir.
func New(recorder Recorder, opts Options) *Pipeline {
	p := &Pipeline{
		recorder:   recorder,
		dataDir:    opts.DataDir,
		payloadDir: filepath.Join(opts.DataDir, PayloadDirName),
		historyDir: filepath.Join(opts.DataDir, HistoryDirName),
		loc:        opts.Location,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// HandleManifest captures the manifest at path. It never panics on bad
// input and never returns an error to the caller; faults are reported in
// the Result and logged.
func (p *Pipeline) HandleManifest(ctx context.Context, path string) Result {
	m, err := ReadManifest(path)
	if errors.Is(err, fs.ErrNotExist) {
		p.logger.Debug("manifest vanished before capture", "path", path)
		return Result{Status: Skipped}
	}
	if err != nil {
		p.logger.Warn("capture failed", "path", path, "error", err)
		return Result{Status: Failed, Err: err}
	}

	now := p.now()
	kind := storage.Kind(m.Type)
	rec := &storage.Record{
		Kind:      kind,
		Content:   m.Clipboard,
		CreatedAt: now.In(p.loc),
	}
	if kind.HasPayload() {
		rec.Content = m.File
	}

	var snap *snapshot
	if kind.HasPayload() && m.File != "" {
		snap = p.takeSnapshot(m.File, now)
		if snap != nil {
			rel, err := filepath.Rel(p.dataDir, snap.Path)
			if err != nil {
				p.logger.Warn("snapshot outside data directory", "path", snap.Path, "error", err)
				p.removeSnapshot(snap.Path)
				snap = nil
			} else {
				relPath := filepath.ToSlash(rel)
				size := snap.Size
				rec.FilePath = &relPath
				rec.FileSize = &size
				if m.Clipboard != "" {
					hash := m.Clipboard
					rec.FileHash = &hash
				}
			}
		}
	}

	if err := p.recorder.InsertRecord(ctx, rec); err != nil {
		p.logger.Error("failed to persist capture", "type", m.Type, "error", err)
		if snap != nil {
			p.removeSnapshot(snap.Path)
		}
		return Result{Status: Failed, Err: err}
	}

	res := Result{Status: Recorded, RecordID: rec.ID}
	if rec.FilePath != nil {
		res.Snapshot = *rec.FilePath
	}
	p.logger.Info("clipboard captured",
		"id", rec.ID,
		"type", m.Type,
		"content", preview(rec.Content),
		"snapshot", res.Snapshot,
	)
	return res
}

// takeSnapshot copies the staged payload into history storage. It returns
// nil when the payload is missing, unsafe, or could not be copied.
func (p *Pipeline) takeSnapshot(name string, at time.Time) *snapshot {
	if !filepath.IsLocal(name) || filepath.Base(name) != name {
		p.logger.Warn("ignoring payload with unsafe name", "file", name)
		return nil
	}

	src := filepath.Join(p.payloadDir, name)
	snap, err := copySnapshot(src, p.historyDir, at)
	if errors.Is(err, fs.ErrNotExist) {
		p.logger.Debug("payload not staged", "file", name)
		return nil
	}
	if err != nil {
		p.logger.Warn("failed to snapshot payload", "file", name, "error", err)
		return nil
	}
	return snap
}

func (p *Pipeline) removeSnapshot(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("failed to remove orphaned snapshot", "path", path, "error", err)
	}
}

// preview shortens content for log lines.
func preview(s string) string {
	const limit = 50
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}
