package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
)

// DefaultDebounce is the quiet period after the last file event before a run is requested.
const DefaultDebounce = 2 * time.Second

// WatchTarget is a directory to watch. When Names is empty every file in Dir counts;
// otherwise only the listed basenames do.
type WatchTarget struct {
	Dir   string
	Names []string
}

// Watcher turns bursts of filesystem events in the source tree into single
// change notifications.
type Watcher struct {
	targets      map[string]map[string]bool
	watcher      *fsnotify.Watcher
	onChange     func(reason string)
	mu           sync.Mutex
	stopOnce     sync.Once
	stopChan     chan struct{}
	changeChan   chan string
	debounceTime time.Duration
}

// NewWatcher creates a watcher for targets. onChange runs on its own goroutine after
// debounce has passed without further events; debounce <= 0 selects DefaultDebounce.
func NewWatcher(targets []WatchTarget, debounce time.Duration, onChange func(reason string)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w := &Watcher{
		targets:      make(map[string]map[string]bool),
		watcher:      watcher,
		onChange:     onChange,
		stopChan:     make(chan struct{}),
		changeChan:   make(chan string, 1),
		debounceTime: debounce,
	}
	for _, t := range targets {
		dir, err := filepath.Abs(t.Dir)
		if err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to resolve watch path: %w", err)
		}
		names, seen := w.targets[dir]
		if !seen {
			names = map[string]bool{}
			w.targets[dir] = names
		}
		if len(t.Names) == 0 {
			names[""] = true
		}
		for _, n := range t.Names {
			names[n] = true
		}
	}
	return w, nil
}

// Start registers the watched directories and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.targets {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		slog.Info("Watching for changes", logfields.Path(dir))
	}

	go w.watchLoop(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		err = w.watcher.Close()
	})
	return err
}

// relevant reports whether an event on name should request a run.
func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	names, ok := w.targets[filepath.Dir(name)]
	if !ok {
		return false
	}
	return names[""] || names[base]
}

func (w *Watcher) watchLoop(ctx context.Context) {
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
			if event.Op == fsnotify.Chmod || !w.relevant(event.Name) {
				continue
			}
			slog.Debug("Source change detected", logfields.Path(event.Name), slog.String("op", event.Op.String()))
			select {
			case w.changeChan <- event.Name:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}
	for {
		select {
		case <-ctx.Done():
			stop()
			return
		case <-w.stopChan:
			stop()
			return
		case name := <-w.changeChan:
			stop()
			timer = time.AfterFunc(w.debounceTime, func() {
				w.onChange("watch: " + filepath.Base(name))
			})
		}
	}
}
