// Package watch re-triggers a job when project sources change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the quiet period before a batch of changes fires.
const debounceDefault = 200 * time.Millisecond

// DefaultExclude lists directory names never watched.
var DefaultExclude = []string{".git", ".svn", ".qaforge", "prqa"}

// Config controls a Watcher.
type Config struct {
	Root       string
	Debounce   time.Duration
	Extensions []string // empty means every file
	Exclude    []string // directory base names, added to DefaultExclude
	Ignore     []string // file base names, e.g. the workspace lock
}

// ChangeFunc receives the changed paths of one debounced batch.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher watches a directory tree with fsnotify.
type Watcher struct {
	cfg   Config
	ready chan struct{}
}

// New creates a watcher for cfg.Root.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("watch root is required")
	}
	fi, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", cfg.Root)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = debounceDefault
	}
	exclude := slices.Clone(DefaultExclude)
	for _, name := range cfg.Exclude {
		if !slices.Contains(exclude, name) {
			exclude = append(exclude, name)
		}
	}
	cfg.Exclude = exclude
	cfg.Extensions = slices.Clone(cfg.Extensions)
	for i, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			cfg.Extensions[i] = "." + ext
		}
	}
	return &Watcher{cfg: cfg, ready: make(chan struct{})}, nil
}

// Ready is closed once the initial tree is being watched.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run watches until ctx is cancelled. onChange runs on the watch goroutine,
// so batches never overlap; changes made while it runs form the next batch.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err := w.addTree(fw, w.cfg.Root); err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}
	close(w.ready)

	slog.Info("watching for source changes", "dir", w.cfg.Root, "debounce", w.cfg.Debounce)

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if w.excluded(filepath.Base(event.Name)) {
						continue
					}
					if err := w.addTree(fw, event.Name); err != nil {
						slog.Warn("watch new dir", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if event.Op == fsnotify.Chmod || !w.relevant(event.Name) {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(w.cfg.Debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			clear(pending)
			slices.Sort(batch)
			slog.Debug("source change", "files", len(batch))
			onChange(ctx, batch)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excluded(d.Name()) {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

func (w *Watcher) excluded(name string) bool {
	return slices.Contains(w.cfg.Exclude, name)
}

func (w *Watcher) relevant(path string) bool {
	rel, err := filepath.Rel(w.cfg.Root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if w.excluded(part) {
			return false
		}
	}
	if slices.Contains(w.cfg.Ignore, filepath.Base(path)) {
		return false
	}
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	return slices.Contains(w.cfg.Extensions, filepath.Ext(path))
}
