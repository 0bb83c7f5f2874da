package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/embed"
	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/output"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// Search modes.
const (
	modeDense  = "dense"
	modeSparse = "sparse"
	modeHybrid = "hybrid"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	indexDir string
	topKEach int
	rrfK     int
	topN     int
	json     bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <dense|sparse|hybrid> <query>",
		Short: "Query the index",
		Long: `Query the index in one of three modes:

  dense   cosine similarity between query and chunk embeddings
  sparse  BM25 over lowercased word tokens
  hybrid  both, fused with Reciprocal Rank Fusion

Dense and sparse print the top --top-n hits of their own ranking. Hybrid
retrieves --top-k-each from each side, fuses with --rrf-k and keeps
--top-n. Zero values take the configured defaults.

Examples:
  hybridrag search hybrid "postgres connection pool"
  hybridrag search sparse "ERR_CONN_RESET" --top-n 5
  hybridrag search dense "how do I tune retries" --json`,
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: []string{modeDense, modeSparse, modeHybrid},
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args[1:], " ")
			return runSearch(cmd, g, args[0], query, opts)
		},
	}

	cmd.Flags().StringVar(&opts.indexDir, "index", "", "Index directory (default from config index.dir)")
	cmd.Flags().IntVar(&opts.topKEach, "top-k-each", 0, "Candidates per sub-search in hybrid mode")
	cmd.Flags().IntVar(&opts.rrfK, "rrf-k", 0, "RRF smoothing constant k")
	cmd.Flags().IntVarP(&opts.topN, "top-n", "n", 0, "Number of results to print")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(cmd *cobra.Command, g *globalOptions, mode, query string, opts searchOptions) error {
	ctx := cmd.Context()

	switch mode {
	case modeDense, modeSparse, modeHybrid:
	default:
		return rerrors.ValidationError(fmt.Sprintf("unknown search mode %q", mode), nil).
			WithSuggestion("Use one of: dense, sparse, hybrid")
	}
	if strings.TrimSpace(query) == "" {
		return rerrors.New(rerrors.ErrCodeQueryEmpty, "query is empty", nil)
	}

	retriever, _, err := openRetriever(ctx, g, opts.indexDir)
	if err != nil {
		return err
	}
	defer func() { _ = retriever.Close() }()

	topN := opts.topN
	if topN == 0 {
		topN = retriever.Defaults().TopN
	}

	start := time.Now()
	var results []search.FusedResult
	switch mode {
	case modeDense, modeSparse:
		var ranked []store.RankedResult
		if mode == modeDense {
			ranked, err = retriever.DenseSearch(ctx, query, topN)
		} else {
			ranked, err = retriever.SparseSearch(ctx, query, topN)
		}
		if err == nil {
			results, err = retriever.Hydrate(ranked)
		}
	case modeHybrid:
		results, err = retriever.HybridSearch(ctx, query, opts.topKEach, opts.rrfK, topN)
	}
	if err != nil {
		slog.Error("search_failed", append([]any{slog.String("mode", mode)}, rerrors.LogAttrs(err)...)...)
		return err
	}

	slog.Info("search_complete",
		slog.String("mode", mode),
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))

	out := output.New(cmd.OutOrStdout(), g.colorDisabled())
	report := output.SearchReport{Query: query, Mode: mode, Results: results}
	if opts.json {
		if report.Results == nil {
			report.Results = []search.FusedResult{}
		}
		return out.JSON(report)
	}
	out.Results(report)
	return nil
}

// openRetriever loads the index and the configured query embedder into a
// retriever. It returns the index directory it resolved.
func openRetriever(ctx context.Context, g *globalOptions, indexFlag string) (*search.Retriever, string, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, "", err
	}
	dir, err := g.indexDir(indexFlag)
	if err != nil {
		return nil, "", err
	}

	idx, err := store.Load(ctx, dir, cfg.BuildOptions())
	if err != nil {
		return nil, dir, err
	}

	embedder, err := embed.NewEmbedder(cfg.EmbedConfig())
	if err != nil {
		return nil, dir, err
	}
	if model := idx.Manifest.EmbedderModel; model != "" && model != embedder.ModelName() {
		slog.Warn("embedder_model_differs",
			slog.String("index_model", model),
			slog.String("query_model", embedder.ModelName()))
	}

	retriever, err := search.NewRetriever(idx, embedder,
		search.WithDefaults(cfg.SearchDefaults()),
		search.WithTimeout(cfg.Search.Timeout))
	if err != nil {
		_ = embedder.Close()
		return nil, dir, err
	}
	return retriever, dir, nil
}
