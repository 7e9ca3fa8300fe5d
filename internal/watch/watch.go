// Package watch reports file activity under session directories.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the bursts of events editors emit for one save.
const DefaultDebounce = 250 * time.Millisecond

var ignoreDirs = []string{".git", "node_modules", ".venv", "vendor", ".DS_Store"}

// Watcher maps consumers to directory trees and calls onActivity for each
// consumer whose tree saw a write or create.
type Watcher struct {
	fs         *fsnotify.Watcher
	onActivity func(consumer string)
	debounce   time.Duration

	mu        sync.Mutex
	consumers map[string]string          // consumer -> root
	roots     map[string]map[string]bool // root -> consumers
	dirs      map[string][]string        // root -> directories it covers
	refs      map[string]int             // directory -> number of roots covering it

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a watcher. Call Start to begin delivering activity.
func New(onActivity func(consumer string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &Watcher{
		fs:         fw,
		onActivity: onActivity,
		debounce:   DefaultDebounce,
		consumers:  make(map[string]string),
		roots:      make(map[string]map[string]bool),
		dirs:       make(map[string][]string),
		refs:       make(map[string]int),
		stopCh:     make(chan struct{}),
	}, nil
}

// Watch associates consumer with the tree at root, replacing any previous
// association.
func (w *Watcher) Watch(consumer, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", root)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.consumers[consumer]; ok {
		if prev == root {
			return nil
		}
		w.detach(consumer, prev)
	}

	if _, ok := w.roots[root]; !ok {
		dirs, err := w.addTree(root)
		if err != nil {
			return err
		}
		w.roots[root] = make(map[string]bool)
		w.dirs[root] = dirs
	}
	w.roots[root][consumer] = true
	w.consumers[consumer] = root
	return nil
}

// Unwatch drops consumer. The tree is released once no consumer uses it.
func (w *Watcher) Unwatch(consumer string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if root, ok := w.consumers[consumer]; ok {
		w.detach(consumer, root)
	}
}

func (w *Watcher) detach(consumer, root string) {
	delete(w.consumers, consumer)
	set := w.roots[root]
	delete(set, consumer)
	if len(set) > 0 {
		return
	}
	for _, d := range w.dirs[root] {
		w.release(d)
	}
	delete(w.roots, root)
	delete(w.dirs, root)
}

// addTree watches root and every non-ignored subdirectory.
func (w *Watcher) addTree(root string) ([]string, error) {
	if err := w.acquire(root); err != nil {
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	dirs := []string{root}
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() || path == root {
			return nil
		}
		if ignored(path) {
			return filepath.SkipDir
		}
		if w.acquire(path) == nil {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, nil
}

// acquire adds a reference to dir, watching it on the first one. Nested roots
// share the directories they both cover.
func (w *Watcher) acquire(dir string) error {
	if w.refs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return err
		}
	}
	w.refs[dir]++
	return nil
}

// release drops a reference to dir and stops watching it after the last one.
func (w *Watcher) release(dir string) {
	w.refs[dir]--
	if w.refs[dir] > 0 {
		return
	}
	delete(w.refs, dir)
	_ = w.fs.Remove(dir)
}

func ignored(path string) bool {
	sep := string(filepath.Separator)
	for _, ig := range ignoreDirs {
		if filepath.Base(path) == ig || strings.Contains(path, sep+ig+sep) {
			return true
		}
	}
	return false
}

// Start begins processing filesystem events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]bool)

	for {
		select {
		case <-w.stopCh:
			timer.Stop()
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || ignored(ev.Name) {
				continue
			}
			w.collect(ev, pending)
			if len(pending) > 0 {
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			for c := range pending {
				w.onActivity(c)
			}
			clear(pending)

		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}

// collect adds the consumers owning ev's path to pending. Newly created
// directories join the owning trees.
func (w *Watcher) collect(ev fsnotify.Event, pending map[string]bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for root, set := range w.roots {
		if ev.Name != root && !strings.HasPrefix(ev.Name, root+string(filepath.Separator)) {
			continue
		}
		for c := range set {
			pending[c] = true
		}
		if ev.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if !slices.Contains(w.dirs[root], ev.Name) && w.acquire(ev.Name) == nil {
					w.dirs[root] = append(w.dirs[root], ev.Name)
				}
			}
		}
	}
}
