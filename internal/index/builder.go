// Package index builds and publishes retrieval indices: it reads chunk
// records, embeds them, builds the dense and sparse indices in one ordering
// and saves the bundle under a build lock. It also reloads published
// indices into a running retriever.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/Aman-CERP/hybridrag/internal/embed"
	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/ui"
)

// DefaultWorkers is the number of embedding batches in flight.
const DefaultWorkers = 4

// BuildConfig configures one build.
type BuildConfig struct {
	// Input is a JSON array or JSONL file of chunk records.
	Input string

	// OutputDir is the index directory to publish.
	OutputDir string

	// MaxChunks keeps only the first N records when positive.
	MaxChunks int

	BatchSize int
	Workers   int

	Options store.BuildOptions
}

// BuildResult summarizes a finished build.
type BuildResult struct {
	Dir      string
	Manifest store.Manifest
	Duration time.Duration
	Stages   ui.StageTimings
}

// BuilderDependencies contains the injected dependencies for Builder.
type BuilderDependencies struct {
	// Embedder produces chunk vectors (required).
	Embedder embed.Embedder

	// Renderer displays progress. Nil discards progress.
	Renderer ui.Renderer
}

// Builder runs offline index builds.
type Builder struct {
	embedder embed.Embedder
	renderer ui.Renderer
}

// NewBuilder creates a Builder with injected dependencies.
func NewBuilder(deps BuilderDependencies) (*Builder, error) {
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = ui.Discard()
	}
	return &Builder{embedder: deps.Embedder, renderer: renderer}, nil
}

// Run reads cfg.Input, builds the index and publishes it to cfg.OutputDir.
// The previous index stays in place until the new one is complete.
func (b *Builder) Run(ctx context.Context, cfg BuildConfig) (*BuildResult, error) {
	start := time.Now()
	var timing ui.StageTimings

	lock, err := AcquireBuildLock(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageLoading,
		Message: fmt.Sprintf("Reading %s...", cfg.Input),
	})
	loadStart := time.Now()
	chunks, err := ReadChunksFile(cfg.Input, cfg.MaxChunks)
	if err != nil {
		return nil, err
	}
	timing.Load = time.Since(loadStart)
	slog.Info("build_input_loaded",
		slog.String("input", cfg.Input),
		slog.Int("chunks", len(chunks)),
		slog.Int("max_chunks", cfg.MaxChunks))

	idx, stages, err := b.build(ctx, chunks, cfg)
	if err != nil {
		return nil, err
	}
	timing.Embed, timing.Index = stages.Embed, stages.Index

	b.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageSaving,
		Message: fmt.Sprintf("Writing %s...", cfg.OutputDir),
	})
	saveStart := time.Now()
	if err := idx.Save(ctx, cfg.OutputDir); err != nil {
		return nil, err
	}
	timing.Save = time.Since(saveStart)

	duration := time.Since(start)
	b.renderer.Complete(ui.CompletionStats{
		Chunks:   idx.Len(),
		Duration: duration,
		Stages:   timing,
		Embedder: ui.EmbedderInfo{
			Model:      b.embedder.ModelName(),
			Dimensions: idx.Manifest.Dimensions,
		},
	})

	slog.Info("build_complete",
		slog.String("dir", cfg.OutputDir),
		slog.Int("chunks", idx.Len()),
		slog.Int("dimensions", idx.Manifest.Dimensions),
		slog.Int("vocabulary", idx.Manifest.Vocabulary),
		slog.Int64("duration_load_ms", timing.Load.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.Embed.Milliseconds()),
		slog.Int64("duration_index_ms", timing.Index.Milliseconds()),
		slog.Int64("duration_save_ms", timing.Save.Milliseconds()),
		slog.String("embedder_model", b.embedder.ModelName()))

	return &BuildResult{
		Dir:      cfg.OutputDir,
		Manifest: idx.Manifest,
		Duration: duration,
		Stages:   timing,
	}, nil
}

// Build embeds chunks and builds an in-memory index without publishing it.
func (b *Builder) Build(ctx context.Context, chunks []store.Chunk, cfg BuildConfig) (*store.Index, error) {
	idx, _, err := b.build(ctx, chunks, cfg)
	return idx, err
}

func (b *Builder) build(ctx context.Context, chunks []store.Chunk, cfg BuildConfig) (*store.Index, ui.StageTimings, error) {
	var timing ui.StageTimings
	if len(chunks) == 0 {
		return nil, timing, rerrors.BuildError("non_empty_corpus", "cannot build an index from zero chunks").
			WithIntDetail("corpus_size", 0)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedStart := time.Now()
	vectors, err := b.embedAll(ctx, texts, cfg.BatchSize, cfg.Workers)
	if err != nil {
		return nil, timing, err
	}
	timing.Embed = time.Since(embedStart)

	b.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Message: "Building dense and BM25 indices..."})
	indexStart := time.Now()
	opts := cfg.Options
	if opts.BM25 == (store.BM25Config{}) {
		opts.BM25 = store.DefaultBM25Config()
	}
	opts.EmbedderModel = b.embedder.ModelName()
	idx, err := store.BuildIndex(chunks, vectors, opts)
	if err != nil {
		return nil, timing, err
	}
	timing.Index = time.Since(indexStart)
	return idx, timing, nil
}

// embedAll embeds texts in batches on a worker pool. vectors[i] always
// belongs to texts[i] regardless of completion order. The first failure
// cancels the remaining batches.
func (b *Builder) embedAll(ctx context.Context, texts []string, batchSize, workers int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if batchSize > embed.MaxBatchSize {
		batchSize = embed.MaxBatchSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		done     atomic.Int64
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	total := len(texts)
	b.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Total: total})

	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		batchStart := start
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := b.embedder.EmbedBatch(ctx, texts[batchStart:end])
			if err != nil {
				fail(rerrors.Wrap(rerrors.ErrCodeEmbeddingFailed, err).
					WithIntDetail("batch_start", batchStart).
					WithIntDetail("batch_end", end))
				return
			}
			if len(vecs) != end-batchStart {
				fail(rerrors.New(rerrors.ErrCodeEmbeddingFailed,
					fmt.Sprintf("embedder returned %d vectors for %d texts", len(vecs), end-batchStart), nil))
				return
			}
			copy(vectors[batchStart:end], vecs)
			n := done.Add(int64(len(vecs)))
			b.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   ui.StageEmbedding,
				Current: int(n),
				Total:   total,
			})
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("failed to submit embedding batch: %w", submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}
