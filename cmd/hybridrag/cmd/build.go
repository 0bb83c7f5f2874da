package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/index"
	"github.com/Aman-CERP/hybridrag/internal/profiling"
	"github.com/Aman-CERP/hybridrag/internal/ui"
)

// buildOptions holds CLI flags for build.
type buildOptions struct {
	input     string
	output    string
	maxChunks int
	batchSize int
	workers   int
	plain     bool
}

func newBuildCmd(g *globalOptions) *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a retrieval index from chunk records",
		Long: `Build the dense and BM25 indices from a JSON array or JSONL file of
chunk records ({"chunk_id", "url", "text", ...}).

Records without a chunk_id get one derived from their url and position.
The new index replaces the old one only once it is fully written.

Examples:
  hybridrag build --input chunks.jsonl
  hybridrag build --input chunks.json --output ./index --max-chunks 1000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd, g, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Chunk records file (JSON array or JSONL)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Index directory (default from config index.dir)")
	cmd.Flags().IntVar(&opts.maxChunks, "max-chunks", 0, "Index only the first N records (0 = all)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Texts per embedding request (default from config)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent embedding requests (default from config)")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain line-based progress output")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runBuild(cmd *cobra.Command, g *globalOptions, opts buildOptions) error {
	ctx := cmd.Context()

	cfg, err := g.config()
	if err != nil {
		return err
	}
	outDir, err := g.indexDir(opts.output)
	if err != nil {
		return err
	}
	if opts.batchSize == 0 {
		opts.batchSize = cfg.Embeddings.BatchSize
	}
	if opts.workers == 0 {
		opts.workers = cfg.Embeddings.Workers
	}

	embedder, err := embed.NewEmbedder(cfg.EmbedConfig())
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(g.colorDisabled())))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	builder, err := index.NewBuilder(index.BuilderDependencies{
		Embedder: embedder,
		Renderer: renderer,
	})
	if err != nil {
		return err
	}

	slog.Info("build_started",
		slog.String("input", opts.input),
		slog.String("output", outDir),
		slog.String("embedder", embedder.ModelName()),
		slog.Int("batch_size", opts.batchSize),
		slog.Int("workers", opts.workers))

	result, err := builder.Run(ctx, index.BuildConfig{
		Input:     opts.input,
		OutputDir: outDir,
		MaxChunks: opts.maxChunks,
		BatchSize: opts.batchSize,
		Workers:   opts.workers,
		Options:   cfg.BuildOptions(),
	})
	if err != nil {
		return err
	}

	slog.Info("build_memory", profiling.MemoryAttrs()...)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Index written to %s\n", result.Dir)
	return nil
}
