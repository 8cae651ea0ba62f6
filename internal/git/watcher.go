package git

import (
	"fmt"
	"sync"
	"time"

	"relaycode/internal/watcher"
)

// ChangeNotifier tracks working-tree changes across multiple watched
// directories and reports them through a single callback. It is the
// trigger for background snapshot capture.
type ChangeNotifier struct {
	watchers map[string]*watcher.Watcher
	debounce time.Duration
	onChange func(dir string)
	mu       sync.RWMutex
}

// NewChangeNotifier creates a notifier that invokes onChange with the
// watched directory after changes settle for the debounce window.
func NewChangeNotifier(debounce time.Duration, onChange func(dir string)) *ChangeNotifier {
	return &ChangeNotifier{
		watchers: make(map[string]*watcher.Watcher),
		debounce: debounce,
		onChange: onChange,
	}
}

// Watch starts watching the given working directory. Watching a
// directory twice is a no-op.
func (n *ChangeNotifier) Watch(dir string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.watchers[dir]; exists {
		return nil
	}

	w, err := watcher.New(dir, n.debounce, func() {
		n.onChange(dir)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if err := w.Start(); err != nil {
		w.Close()
		return fmt.Errorf("failed to start watcher for %s: %w", dir, err)
	}

	n.watchers[dir] = w
	return nil
}

// Unwatch stops watching the given directory.
func (n *ChangeNotifier) Unwatch(dir string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if w, exists := n.watchers[dir]; exists {
		w.Close()
		delete(n.watchers, dir)
	}
}

// Close stops all watchers.
func (n *ChangeNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for dir, w := range n.watchers {
		w.Close()
		delete(n.watchers, dir)
	}
}
