package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is used when New is given a non-positive interval.
const DefaultDebounce = 200 * time.Millisecond

// Watcher signals on Changes after snapshot files in a directory are created,
// written, renamed or removed.
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *zap.Logger
	fsw      *fsnotify.Watcher
	changes  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Watcher for dir. The directory is created if it does not
// exist yet, since the snapshot store only creates it on first save.
func New(dir string, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory cannot be empty")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		changes:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}, nil
}

// Changes delivers one value per quiet period following a change. Signals
// are coalesced: a slow reader sees at most one pending value. The channel
// is closed by Stop.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Start subscribes to the directory and begins delivering changes.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.run()

	w.logger.Debug("watching snapshot directory", zap.String("dir", w.dir))
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	defer close(w.changes)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("snapshot directory event", zap.String("event", ev.String()))
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			select {
			case w.changes <- struct{}{}:
			default:
			}

		case <-w.stopCh:
			return
		}
	}
}

// relevant drops hidden files and events that do not change content.
func relevant(ev fsnotify.Event) bool {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// Stop halts the watcher and closes Changes. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.fsw == nil {
			close(w.changes)
			return
		}
		w.wg.Wait()
		err = w.fsw.Close()
	})
	return err
}
