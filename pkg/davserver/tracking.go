package davserver

import (
	"context"
	"errors"
	"os"
	"sync"

	"golang.org/x/net/webdav"
)

type trackerKey struct{}

// writeTracker records how a tracked write ended.
type writeTracker struct {
	mu     sync.Mutex
	opened bool
	closed bool
	err    error
}

var errNotWritten = errors.New("resource was not opened for writing")

func withTracker(ctx context.Context, t *writeTracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

func trackerFrom(ctx context.Context) *writeTracker {
	t, _ := ctx.Value(trackerKey{}).(*writeTracker)
	return t
}

func (t *writeTracker) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// result returns nil only if a file was opened for writing and closed
// with no write or close error.
func (t *writeTracker) result() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.err != nil:
		return t.err
	case !t.opened || !t.closed:
		return errNotWritten
	default:
		return nil
	}
}

// trackingFS passes everything through to the wrapped filesystem and only
// observes files opened for writing by a tracked request.
type trackingFS struct {
	webdav.FileSystem
}

func (fs *trackingFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	f, err := fs.FileSystem.OpenFile(ctx, name, flag, perm)
	if err != nil {
		return nil, err
	}
	t := trackerFrom(ctx)
	if t == nil || flag&(os.O_WRONLY|os.O_RDWR) == 0 {
		return f, nil
	}

	t.mu.Lock()
	t.opened = true
	t.mu.Unlock()
	return &trackedFile{File: f, tracker: t}, nil
}

type trackedFile struct {
	webdav.File
	tracker *writeTracker
}

func (f *trackedFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	if err != nil {
		f.tracker.fail(err)
	}
	return n, err
}

func (f *trackedFile) Close() error {
	err := f.File.Close()
	if err != nil {
		f.tracker.fail(err)
	}
	f.tracker.mu.Lock()
	f.tracker.closed = true
	f.tracker.mu.Unlock()
	return err
}
