package fixloop

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"drover/internal/logging"
)

// RunFunc is called with a settled prompt file's contents.
type RunFunc func(ctx context.Context, promptPath, content string)

// Watcher waits for prompt_*.txt files dropped into a directory and fires
// the run callback once writes to a file have settled.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	debounceDur time.Duration
	debounceMap map[string]time.Time
	fn          RunFunc
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher over dir. Debounce zero means 500ms.
func NewWatcher(dir string, debounce time.Duration, fn RunFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		dir:         dir,
		debounceDur: debounce,
		debounceMap: make(map[string]time.Time),
		fn:          fn,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; events are handled in a goroutine
// until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}
	logging.Fixloop("Watching %s for prompt files", w.dir)

	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.FixloopError("Error closing watcher: %v", err)
	}
	logging.Fixloop("Watcher stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	sweep := time.NewTicker(100 * time.Millisecond)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.FixloopError("Watcher error: %v", err)
		case <-sweep.C:
			w.fireSettled(ctx)
		}
	}
}

// handleEvent records create/write events for prompt files; repeated writes
// push the settle time forward.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	base := filepath.Base(event.Name)
	if !strings.HasPrefix(base, "prompt_") || !strings.HasSuffix(base, ".txt") {
		return
	}

	logging.FixloopDebug("Prompt event: %s %s", event.Op, base)
	w.mu.Lock()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// fireSettled runs the callback for files whose last event is older than
// the debounce window.
func (w *Watcher) fireSettled(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, last := range w.debounceMap {
		if now.Sub(last) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				logging.FixloopError("Could not read settled prompt %s: %v", path, err)
			}
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			logging.FixloopWarn("Ignoring empty prompt file %s", path)
			continue
		}
		logging.Fixloop("Prompt settled: %s (%d bytes)", filepath.Base(path), len(content))
		w.fn(ctx, path, content)
	}
}
