package index

import (
	"context"
	"errors"
	"log/slog"
	"time"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/watcher"
)

// Reload loads the index published at dir and swaps it into r. On any
// failure r keeps serving the index it had.
func Reload(ctx context.Context, dir string, opts store.BuildOptions, r *search.Retriever) (*store.Index, error) {
	start := time.Now()
	idx, err := store.Load(ctx, dir, opts)
	if err != nil {
		return nil, err
	}
	if err := r.Swap(idx); err != nil {
		return nil, err
	}
	slog.Info("index_reloaded",
		slog.String("dir", dir),
		slog.Int("chunks", idx.Len()),
		slog.Time("created_at", idx.Manifest.CreatedAt),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return idx, nil
}

// WatchAndReload reloads dir into r after every debounced change reported
// by w, until ctx ends or w stops. Failed reloads are logged and skipped.
func WatchAndReload(ctx context.Context, w *watcher.IndexWatcher, dir string, opts store.BuildOptions, r *search.Retriever) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			slog.Warn("index_watch_error", slog.String("error", err.Error()))
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			if !store.Exists(dir) {
				slog.Debug("index_watch_skip", slog.Int("events", len(batch)), slog.String("reason", "no manifest"))
				continue
			}
			if _, err := Reload(ctx, dir, opts, r); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				slog.Warn("index_reload_failed",
					append([]any{slog.String("dir", dir)}, rerrors.LogAttrs(err)...)...)
			}
		}
	}
}
