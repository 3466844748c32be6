package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// LogWatcher tails a Unity log file as it is written, emitting complete
// lines through a callback. The file usually does not exist yet when the
// watcher starts, so the parent directory is watched for its creation.
type LogWatcher struct {
	path     string
	callback func(line string)

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	offset  int64
	partial string
}

// NewLogWatcher creates a watcher for the given log file.
func NewLogWatcher(path string, callback func(line string)) (*LogWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}
	return &LogWatcher{
		path:     path,
		callback: callback,
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start begins tailing in a background goroutine.
func (w *LogWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop drains any remaining log data and shuts the watcher down.
func (w *LogWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
	w.watcher.Close()
	w.drain()
	w.flushPartial()
}

func (w *LogWatcher) loop(ctx context.Context) {
	defer close(w.done)

	// The file may already exist with content from a previous run.
	w.drain()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.drain()
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.offset = 0
				w.mu.Unlock()
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// drain reads everything appended since the last read and emits full lines.
func (w *LogWatcher) drain() {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.path)
	if err != nil {
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < w.offset {
		// Truncated; start over.
		w.offset = 0
		w.partial = ""
	}
	if info.Size() == w.offset {
		return
	}

	if _, err := f.Seek(w.offset, 0); err != nil {
		return
	}
	buf := make([]byte, info.Size()-w.offset)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return
	}
	w.offset += int64(n)

	text := w.partial + string(buf[:n])
	lines := strings.Split(text, "\n")
	w.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		w.callback(strings.TrimRight(line, "\r"))
	}
}

// flushPartial emits a trailing line that never got its newline.
func (w *LogWatcher) flushPartial() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.partial != "" {
		w.callback(w.partial)
		w.partial = ""
	}
}
