package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	crystalerrors "github.com/crystalmcp/crystalmcp/internal/errors"
	"github.com/crystalmcp/crystalmcp/internal/gitignore"
	"github.com/crystalmcp/crystalmcp/internal/state"
)

// ignoreFileNames are files whose content decides which paths the scanner
// considers relevant. Changes to them get a dedicated operation instead of
// the normal modify handling.
var ignoreFileNames = map[string]bool{
	".crystalignore": true,
	".gitignore":     true,
}

// configFileNames are the project configuration files.
var configFileNames = map[string]bool{
	".crystalmcp.yaml": true,
	".crystalmcp.yml":  true,
}

// Watcher monitors a directory tree using OS-level change notifications
// (inotify, FSEvents, ReadDirectoryChangesW via fsnotify). Raw events are
// debounced and delivered as batches of FileEvents with paths relative to
// the watched root.
type Watcher struct {
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer

	root   string
	events chan []FileEvent
	errors chan error

	mu      sync.RWMutex
	matcher *gitignore.Matcher

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	droppedBatches atomic.Int64
}

// New creates a watcher with the given options. It fails when the
// operating system's notification facility is unavailable, for example
// when the inotify instance limit is exhausted.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, crystalerrors.New(crystalerrors.ErrCodeWatchUnavailable,
			"failed to initialize file system notifications", err)
	}

	return &Watcher{
		opts:      opts,
		fsw:       fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the tree rooted at root. It returns once the
// initial watch registrations are in place; batches then flow on Events
// until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return crystalerrors.New(crystalerrors.ErrCodeInvalidPath,
			"failed to resolve watch root", err)
	}
	w.root = absRoot

	w.reloadIgnoreRules()

	if err := w.addRecursive(absRoot); err != nil {
		return crystalerrors.New(crystalerrors.ErrCodeWatchUnavailable,
			"failed to register watch root", err)
	}

	go w.forwardBatches()
	go w.run(ctx)

	slog.Info("watcher_started",
		slog.String("root", absRoot),
		slog.Duration("debounce_window", w.opts.DebounceWindow))

	return nil
}

// Stop stops the watcher and releases OS watch registrations.
// Safe to call multiple times.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.fsw.Close()
		w.debouncer.Stop()
	})
}

// Events returns the channel of debounced event batches. The channel
// closes after Stop once in-flight batches have drained.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of watch errors. Errors are informational;
// the watcher keeps running after reporting one.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches reports how many event batches were discarded because
// the consumer fell behind.
func (w *Watcher) DroppedBatches() int64 {
	return w.droppedBatches.Load()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return

		case <-w.stopCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
				slog.Warn("watcher_error_dropped", slog.Any("error", err))
			}
		}
	}
}

// forwardBatches moves debounced batches to the public events channel.
// Sends never block; a stalled consumer loses batches rather than
// wedging the debouncer.
func (w *Watcher) forwardBatches() {
	for batch := range w.debouncer.Output() {
		select {
		case w.events <- batch:
		default:
			total := w.droppedBatches.Add(1)
			slog.Warn("watcher_batch_dropped",
				slog.Int("batch_size", len(batch)),
				slog.Int64("total_dropped", total))
		}
	}
	close(w.events)
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	// Permission and attribute changes do not affect file content.
	if ev.Op&^fsnotify.Chmod == 0 {
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return
	}
	rel = filepath.ToSlash(rel)

	base := filepath.Base(ev.Name)
	now := time.Now()

	if ignoreFileNames[base] {
		w.reloadIgnoreRules()
		w.debouncer.Add(FileEvent{Path: rel, Operation: OpIgnoreChange, Timestamp: now})
		return
	}

	if configFileNames[base] && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
		w.debouncer.Add(FileEvent{Path: rel, Operation: OpConfigChange, Timestamp: now})
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	if w.shouldIgnore(rel, isDir) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			// New directories need their own watch registrations before
			// events inside them can be seen.
			if err := w.addRecursive(ev.Name); err != nil {
				slog.Warn("watcher_add_dir_failed",
					slog.String("path", rel),
					slog.Any("error", err))
			}
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify reports the old path on rename; the new path arrives
		// as a separate create event.
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(FileEvent{Path: rel, Operation: op, IsDir: isDir, Timestamp: now})
}

// addRecursive registers dir and all non-ignored subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree. Skip rather than abort the walk.
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(w.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if rel != "." && w.shouldIgnore(rel, true) {
			return filepath.SkipDir
		}

		if addErr := w.fsw.Add(path); addErr != nil {
			slog.Warn("watcher_add_failed",
				slog.String("path", path),
				slog.Any("error", addErr))
		}
		return nil
	})
}

// shouldIgnore reports whether events for rel should be suppressed.
// The VCS directory and the state directory are always ignored.
func (w *Watcher) shouldIgnore(rel string, isDir bool) bool {
	for _, part := range strings.Split(rel, "/") {
		if part == ".git" || part == state.DirName {
			return true
		}
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.matcher == nil {
		return false
	}
	return w.matcher.Match(rel, isDir)
}

// reloadIgnoreRules rebuilds the ignore matcher from the configured
// patterns plus the root .crystalignore and .gitignore files.
func (w *Watcher) reloadIgnoreRules() {
	m := gitignore.New()
	for _, p := range w.opts.IgnorePatterns {
		m.AddPattern(p)
	}

	for _, name := range []string{".crystalignore", ".gitignore"} {
		path := filepath.Join(w.root, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := m.AddFromFile(path, ""); err != nil {
			slog.Warn("watcher_ignore_file_unreadable",
				slog.String("path", path),
				slog.Any("error", err))
		}
	}

	w.mu.Lock()
	w.matcher = m
	w.mu.Unlock()
}
