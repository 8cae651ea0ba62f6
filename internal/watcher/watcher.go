package watcher

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a working tree recursively and fires a single
// debounced callback when anything under it changes. Events are
// coalesced per tree rather than per file because the consumer
// (background snapshot capture) re-reads the whole tree anyway.
type Watcher struct {
	root     string
	debounce time.Duration
	callback func()

	watcher *fsnotify.Watcher
	done    chan struct{}
	started bool
	closed  bool
	mu      sync.Mutex

	timerMu sync.Mutex
	timer   *time.Timer
}

// New creates a Watcher rooted at the given directory. Directories
// named ".git" are not watched; index churn from git commands would
// otherwise re-trigger the very captures the watcher schedules.
func New(root string, debounce time.Duration, callback func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		root:     root,
		debounce: debounce,
		callback: callback,
		watcher:  fsw,
		done:     make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// addTree registers root and every subdirectory, skipping .git.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" && path != root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// Start starts watching for events.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.watch()
	return nil
}

// Close stops watching and cleans up resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.started {
		close(w.done)
	}

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

// watch is the main event loop
func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			log.Printf("watcher %s: %v", w.root, err)

		case <-w.done:
			return
		}
	}
}

// handleEvent folds an fsnotify event into the tree-level debounce.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if insideGitDir(w.root, event.Name) {
		return
	}

	// New subdirectories must be watched as they appear.
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				log.Printf("watcher %s: failed to watch new dir %s: %v", w.root, event.Name, err)
			}
		}
	}

	w.reset()
}

// reset restarts the debounce window.
func (w *Watcher) reset() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.callback)
}

// insideGitDir reports whether path lies under root's .git directory.
func insideGitDir(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == ".git" {
			return true
		}
	}
	return false
}
