// Package watch reports when directories behind expanded path folders
// change on disk, so their cached children can be refreshed.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arcscope/arcscope/internal/tree"
	"github.com/felixgeelhaar/bolt/v3"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches bursts such as a detector writing a series.
const DefaultDebounce = 200 * time.Millisecond

// Watcher collects fsnotify events for tracked directories and delivers
// each changed directory once per quiet period. It never touches the tree
// itself; the consumer calls Tree.Refresh from its own goroutine.
type Watcher struct {
	fw       *fsnotify.Watcher
	log      *bolt.Logger
	debounce time.Duration

	mu   sync.Mutex
	dirs map[string]bool

	changes chan string
	done    chan struct{}
	once    sync.Once
}

// New creates a watcher. A zero debounce uses DefaultDebounce.
func New(log *bolt.Logger, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fw:       fw,
		log:      log,
		debounce: debounce,
		dirs:     map[string]bool{},
		changes:  make(chan string, 64),
		done:     make(chan struct{}),
	}, nil
}

// Changes delivers changed directories. It is closed when Run returns.
func (w *Watcher) Changes() <-chan string { return w.changes }

// Add starts watching dir. Adding a directory twice is a no-op.
func (w *Watcher) Add(dir string) error {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.fw.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

// Remove stops watching dir.
func (w *Watcher) Remove(dir string) {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirs[dir] {
		return
	}
	_ = w.fw.Remove(dir)
	delete(w.dirs, dir)
}

// Dirs returns the watched directories, sorted.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) tracked(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs[dir]
}

// loaded returns the directories behind every expanded, valid path folder
// loaded in t.
func loaded(t *tree.Tree) map[string]bool {
	dirs := map[string]bool{}
	_ = t.Walk(func(k tree.Key, _ int) error {
		f, ok := k.(*tree.Folder)
		if ok && f.Expanded() && !f.Invalid() && k.Address().Backend == tree.BackendPath {
			dirs[k.Address().Path] = true
		}
		return nil
	})
	return dirs
}

// Track watches every expanded, valid path folder loaded in t and returns
// how many were added. Directories that cannot be watched are logged and
// skipped.
func (w *Watcher) Track(t *tree.Tree) int {
	n := 0
	for dir := range loaded(t) {
		if w.tracked(dir) {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.log.Warn().Str("dir", dir).Err(err).Msg("cannot watch folder")
			continue
		}
		n++
	}
	return n
}

// Untrack stops watching directories that no longer back an expanded,
// valid path folder of t and returns how many were dropped.
func (w *Watcher) Untrack(t *tree.Tree) int {
	keep := loaded(t)
	n := 0
	for _, dir := range w.Dirs() {
		if !keep[dir] {
			w.Remove(dir)
			n++
		}
	}
	return n
}

// Run processes events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)
	pending := map[string]bool{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			name := filepath.Clean(ev.Name)
			hit := false
			if dir := filepath.Dir(name); w.tracked(dir) {
				pending[dir] = true
				hit = true
			}
			if ev.Has(fsnotify.Remove|fsnotify.Rename) && w.tracked(name) {
				pending[name] = true
				w.Remove(name)
				hit = true
			}
			if hit {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			dirs := make([]string, 0, len(pending))
			for d := range pending {
				dirs = append(dirs, d)
			}
			sort.Strings(dirs)
			clear(pending)
			for _, d := range dirs {
				select {
				case w.changes <- d:
				case <-ctx.Done():
					return ctx.Err()
				case <-w.done:
					return nil
				}
			}
		}
	}
}

// Close stops Run and releases the OS watches. It is safe to call more
// than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}

// ErrClosed is returned by Next once the watcher has stopped.
var ErrClosed = errors.New("watcher closed")

// Next blocks for the next changed directory.
func (w *Watcher) Next(ctx context.Context) (string, error) {
	select {
	case d, ok := <-w.changes:
		if !ok {
			return "", ErrClosed
		}
		return d, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
