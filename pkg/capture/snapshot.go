package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	stampLayout = "20060102_150405"

	// maxSnapshotAttempts bounds the collision retry loop.
	maxSnapshotAttempts = 1000
)

// SnapshotName returns the history file name for a payload captured at t:
// the UTC time to the microsecond followed by the original file name.
func SnapshotName(t time.Time, filename string) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%06d_%s", t.Format(stampLayout), t.Nanosecond()/int(time.Microsecond), filename)
}

// snapshot is a payload copy placed in history storage.
type snapshot struct {
	Path string
	Size int64
}

// copySnapshot copies src into dir without ever replacing an existing file.
// When the stamped name is taken the stamp advances by one microsecond.
// The source is left untouched; its mode and modification time are kept.
func copySnapshot(src, dir string, at time.Time) (*snapshot, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat payload: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("payload is not a regular file: %s", src)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	name := filepath.Base(src)
	var (
		out *os.File
		dst string
	)
	for attempt := 0; attempt < maxSnapshotAttempts; attempt++ {
		dst = filepath.Join(dir, SnapshotName(at.Add(time.Duration(attempt)*time.Microsecond), name))
		out, err = os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create snapshot: %w", err)
		}
	}
	if out == nil {
		return nil, fmt.Errorf("failed to allocate snapshot name for %s", name)
	}

	size, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, fmt.Errorf("failed to copy payload: %w", err)
	}

	// Best effort, like cp -p.
	_ = os.Chmod(dst, info.Mode().Perm())
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())

	return &snapshot{Path: dst, Size: size}, nil
}
