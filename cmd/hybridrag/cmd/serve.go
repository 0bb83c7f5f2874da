package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/async"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/index"
	"github.com/Aman-CERP/hybridrag/internal/mcp"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/watcher"
)

// serveOptions holds CLI flags for serve.
type serveOptions struct {
	indexDir  string
	transport string
	watch     bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index as MCP tools over stdio",
		Long: `Start an MCP server exposing dense_search, sparse_search,
hybrid_search and index_status.

stdout carries only protocol messages; logs go to the log file
(see 'hybridrag logs'). With --watch the server reloads the index each
time 'hybridrag build' publishes a new one, without dropping queries.
The index loads in the background; index_status reports progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.indexDir, "index", "", "Index directory (default from config index.dir)")
	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport (default from config server.transport)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reload the index when it is rebuilt (default from config server.watch)")

	return cmd
}

func runServe(cmd *cobra.Command, g *globalOptions, opts serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := g.config()
	if err != nil {
		return err
	}
	dir, err := g.indexDir(opts.indexDir)
	if err != nil {
		return err
	}
	transport := opts.transport
	if transport == "" {
		transport = cfg.Server.Transport
	}
	watch := cfg.Server.Watch
	if cmd.Flags().Changed("watch") {
		watch = opts.watch
	}

	embedder, err := embed.NewEmbedder(cfg.EmbedConfig())
	if err != nil {
		return err
	}
	retriever, err := search.NewRetriever(nil, embedder,
		search.WithDefaults(cfg.SearchDefaults()),
		search.WithTimeout(cfg.Search.Timeout))
	if err != nil {
		_ = embedder.Close()
		return err
	}
	defer func() { _ = retriever.Close() }()

	buildOpts := cfg.BuildOptions()
	if !watch {
		// Without a watcher nothing could ever install an index later.
		if _, err := store.ReadManifest(dir); err != nil {
			slog.Error("index_load_failed", append([]any{slog.String("dir", dir)}, rerrors.LogAttrs(err)...)...)
			return err
		}
	}

	loader := async.NewBackgroundLoader(dir, func(ctx context.Context, p *async.LoadProgress) error {
		return loadInitial(ctx, dir, buildOpts, retriever, p)
	})
	loader.Start(ctx)
	defer loader.Stop()

	if watch {
		w, err := watcher.NewIndexWatcher(dir, watcher.DefaultOptions())
		if err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
		go func() {
			if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("index_watch_stopped", slog.String("error", err.Error()))
			}
		}()
		go index.WatchAndReload(ctx, w, dir, buildOpts, retriever)
	}

	server, err := mcp.NewServer(retriever, dir, mcp.WithLoadProgress(loader.Progress()))
	if err != nil {
		return err
	}
	return server.Serve(ctx, transport)
}

// loadInitial installs the published index while the server is already
// answering. A missing index leaves the loader waiting for the watcher.
func loadInitial(ctx context.Context, dir string, opts store.BuildOptions, r *search.Retriever, p *async.LoadProgress) error {
	if !store.Exists(dir) {
		slog.Warn("index_not_found_waiting", slog.String("dir", dir))
		p.SetWaiting()
		return nil
	}

	start := time.Now()
	idx, err := store.Load(ctx, dir, opts)
	if err == nil {
		p.SetStage(async.StageSwapping)
		err = r.Swap(idx)
	}
	if err != nil {
		slog.Error("index_load_failed", append([]any{slog.String("dir", dir)}, rerrors.LogAttrs(err)...)...)
		return err
	}

	p.SetReady(idx.Len())
	slog.Info("index_loaded",
		slog.String("dir", dir),
		slog.Int("chunks", idx.Len()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return nil
}
