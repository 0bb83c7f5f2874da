package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// manifestName is the file written last by a build.
const manifestName = "manifest.json"

// IndexWatcher reports rebuilds of one index directory.
type IndexWatcher struct {
	dir       string
	parent    string
	base      string
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewIndexWatcher creates a watcher for dir. It falls back to polling the
// manifest when fsnotify cannot be initialized or opts.ForcePolling is set.
func NewIndexWatcher(dir string, opts Options) (*IndexWatcher, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}

	w := &IndexWatcher{
		dir:       abs,
		parent:    filepath.Dir(abs),
		base:      filepath.Base(abs),
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify unavailable, polling index manifest",
				slog.String("dir", abs),
				slog.String("error", err.Error()))
		} else {
			w.fsWatcher = fsw
		}
	}
	return w, nil
}

// Polling reports whether the watcher runs in polling mode.
func (w *IndexWatcher) Polling() bool { return w.fsWatcher == nil }

// Events returns debounced batches of changes to the index directory.
func (w *IndexWatcher) Events() <-chan []FileEvent { return w.debouncer.Output() }

// Errors returns non-fatal watcher errors.
func (w *IndexWatcher) Errors() <-chan error { return w.errors }

// Start watches until ctx is cancelled or Stop is called.
func (w *IndexWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.parent, 0o755); err != nil {
		return fmt.Errorf("create index parent directory: %w", err)
	}
	if w.fsWatcher == nil {
		return w.poll(ctx)
	}

	if err := w.fsWatcher.Add(w.parent); err != nil {
		return fmt.Errorf("watch %s: %w", w.parent, err)
	}
	slog.Info("index_watch_started",
		slog.String("dir", w.dir),
		slog.String("mode", "fsnotify"))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handle keeps only events naming the index directory itself.
func (w *IndexWatcher) handle(event fsnotify.Event) {
	if filepath.Base(event.Name) != w.base {
		return
	}
	w.debouncer.Add(FileEvent{
		Path:      event.Name,
		Operation: convertOp(event.Op),
		Timestamp: time.Now(),
	})
}

func convertOp(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpDelete
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpModify
	}
}

type manifestState struct {
	modTime time.Time
	size    int64
	exists  bool
}

func (w *IndexWatcher) statManifest() manifestState {
	info, err := os.Stat(filepath.Join(w.dir, manifestName))
	if err != nil {
		return manifestState{}
	}
	return manifestState{modTime: info.ModTime(), size: info.Size(), exists: true}
}

// poll compares the manifest's size and mtime every interval.
func (w *IndexWatcher) poll(ctx context.Context) error {
	slog.Info("index_watch_started",
		slog.String("dir", w.dir),
		slog.String("mode", "polling"),
		slog.Duration("interval", w.opts.PollInterval))

	last := w.statManifest()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			cur := w.statManifest()
			if cur == last {
				continue
			}
			op := OpModify
			switch {
			case !cur.exists:
				op = OpDelete
			case !last.exists:
				op = OpCreate
			}
			last = cur
			w.debouncer.Add(FileEvent{Path: w.dir, Operation: op, Timestamp: time.Now()})
		}
	}
}

func (w *IndexWatcher) emitError(err error) {
	select {
	case w.errors <- err:
	default:
		slog.Warn("index watcher error dropped", slog.String("error", err.Error()))
	}
}

// Stop releases resources. Safe to call multiple times.
func (w *IndexWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.debouncer.Stop()
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
	})
	return err
}
