package deadlines

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/deadlinebot/internal/logfields"
	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Table whenever its source file changes on disk.
type Watcher struct {
	path     string
	loc      *time.Location
	table    *Table
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	stopped  bool
	reloads  chan struct{}
	onReload func(rows int, err error)
}

// NewWatcher creates a watcher for path that refreshes table.
func NewWatcher(path string, loc *time.Location, table *Table, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("resolve deadlines path: %w", err)
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		path:     absPath,
		loc:      loc,
		table:    table,
		watcher:  fw,
		debounce: debounce,
		stopChan: make(chan struct{}),
		reloads:  make(chan struct{}, 1),
	}, nil
}

// OnReload registers a callback invoked after every reload attempt.
func (w *Watcher) OnReload(fn func(rows int, err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start watches the directory containing the file; editors often replace
// files by rename, which a direct file watch would miss.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch deadlines directory %s: %w", dir, err)
	}

	slog.Info("Watching deadlines file", logfields.Path(w.path))
	go w.watchLoop(ctx)
	go w.reloadLoop(ctx)
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopChan)
	return w.watcher.Close()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.trigger()
			} else if event.Has(fsnotify.Remove) {
				slog.Warn("Deadlines file removed, keeping last snapshot", logfields.Path(event.Name))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Deadlines watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) trigger() {
	select {
	case w.reloads <- struct{}{}:
	default:
	}
}

func (w *Watcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.reloads:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		}
	}
}

// reload keeps the previous snapshot when the new file fails to parse.
func (w *Watcher) reload() {
	items, err := LoadFile(w.path, w.loc)
	if err != nil {
		slog.Error("Failed to reload deadlines, keeping last snapshot", logfields.Path(w.path), logfields.Error(err))
	} else {
		w.table.Replace(items)
		slog.Info("Deadlines reloaded", logfields.Path(w.path), "rows", len(items))
	}

	w.mu.Lock()
	cb := w.onReload
	w.mu.Unlock()
	if cb != nil {
		cb(len(items), err)
	}
}
