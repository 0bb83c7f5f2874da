package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/hybridrag/internal/embed"
	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Retriever answers dense, sparse and hybrid queries against the installed
// index. The index is replaced only through Swap; every query works on the
// snapshot it loaded first, so reads never take a lock.
type Retriever struct {
	index    atomic.Pointer[snapshot]
	embedder embed.Embedder
	defaults Defaults
	timeout  time.Duration
	swaps    atomic.Uint64
}

type snapshot struct {
	idx      *store.Index
	loadedAt time.Time
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTimeout bounds every public query. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Retriever) {
		r.timeout = d
	}
}

// WithDefaults sets the parameters used for unset (zero) query arguments.
func WithDefaults(d Defaults) Option {
	return func(r *Retriever) {
		r.defaults = d
	}
}

// NewRetriever creates a retriever. idx may be nil; queries then fail with
// an index-not-loaded error until Swap installs one.
func NewRetriever(idx *store.Index, embedder embed.Embedder, opts ...Option) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	r := &Retriever{
		embedder: embedder,
		defaults: DefaultDefaults(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if idx != nil {
		if err := r.Swap(idx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Swap atomically installs a fully built index. In-flight queries finish on
// the index they started with.
func (r *Retriever) Swap(idx *store.Index) error {
	if idx == nil {
		return fmt.Errorf("%w: index is required", ErrNilDependency)
	}
	if dim := r.embedder.Dimensions(); dim > 0 && idx.Dense.Dimensions() != dim {
		return rerrors.New(rerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has dimension %d but embedder %s produces %d",
				idx.Dense.Dimensions(), r.embedder.ModelName(), dim), nil).
			WithIntDetail("expected_dim", idx.Dense.Dimensions()).
			WithIntDetail("found_dim", dim).
			WithSuggestion("Use the embedder the index was built with, or rebuild the index")
	}

	prev := r.index.Swap(&snapshot{idx: idx, loadedAt: time.Now()})
	n := r.swaps.Add(1)
	slog.Info("index_swapped",
		slog.Int("chunks", idx.Len()),
		slog.Int("dimensions", idx.Dense.Dimensions()),
		slog.Bool("replaced", prev != nil),
		slog.Uint64("swap", n))
	return nil
}

// Status reports what is currently installed.
func (r *Retriever) Status() Status {
	st := Status{EmbedderModel: r.embedder.ModelName(), Swaps: r.swaps.Load()}
	snap := r.index.Load()
	if snap == nil {
		return st
	}
	st.Loaded = true
	st.Chunks = snap.idx.Len()
	st.Dimensions = snap.idx.Dense.Dimensions()
	st.Manifest = snap.idx.Manifest
	st.LoadedAt = snap.loadedAt
	st.DenseBackend = store.DenseBackendExact
	if _, ok := snap.idx.Dense.(*store.HNSWDenseIndex); ok {
		st.DenseBackend = store.DenseBackendHNSW
	}
	return st
}

// Defaults returns the parameters applied to zero-valued arguments.
func (r *Retriever) Defaults() Defaults { return r.defaults }

// Embedder returns the query embedder.
func (r *Retriever) Embedder() embed.Embedder { return r.embedder }

// Close releases the embedder.
func (r *Retriever) Close() error {
	return r.embedder.Close()
}

func (r *Retriever) current() (*store.Index, error) {
	snap := r.index.Load()
	if snap == nil {
		return nil, rerrors.NotLoadedError("retriever")
	}
	return snap.idx, nil
}

func (r *Retriever) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// DenseSearch embeds the query and runs an exact cosine search.
// An embedder failure is returned as a query-encoding error; no fallback
// vector is substituted.
func (r *Retriever) DenseSearch(ctx context.Context, query string, topK int) ([]store.RankedResult, error) {
	idx, err := r.current()
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.dense(ctx, idx, query, orDefault(topK, r.defaults.TopKEach))
}

// SparseSearch tokenizes the query and runs BM25. A query with no tokens
// returns an empty slice.
func (r *Retriever) SparseSearch(ctx context.Context, query string, topK int) ([]store.RankedResult, error) {
	idx, err := r.current()
	if err != nil {
		return nil, err
	}
	return r.sparse(ctx, idx, query, orDefault(topK, r.defaults.TopKEach))
}

func (r *Retriever) dense(ctx context.Context, idx *store.Index, query string, topK int) ([]store.RankedResult, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, rerrors.QueryEncodingError(err).WithDetail("model", r.embedder.ModelName())
	}
	if len(vec) == 0 {
		return nil, rerrors.QueryEncodingError(errors.New("embedder returned an empty vector")).
			WithDetail("model", r.embedder.ModelName())
	}
	return idx.Dense.Search(vec, topK)
}

func (r *Retriever) sparse(ctx context.Context, idx *store.Index, query string, topK int) ([]store.RankedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return idx.Sparse.Search(store.Tokenize(query), topK)
}

// HybridSearch runs dense and sparse search concurrently on one index
// snapshot, fuses them with RRF and attaches text and url from the chunk
// store. If either sub-search fails the whole call fails. Zero arguments
// take the retriever defaults; rrfK must otherwise be positive.
func (r *Retriever) HybridSearch(ctx context.Context, query string, topKEach, rrfK, topN int) ([]FusedResult, error) {
	fusion, err := NewRRFFusion(orDefault(rrfK, r.defaults.RRFK))
	if err != nil {
		return nil, err
	}
	idx, err := r.current()
	if err != nil {
		return nil, err
	}
	topKEach = orDefault(topKEach, r.defaults.TopKEach)
	topN = orDefault(topN, r.defaults.TopN)

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	var denseResults, sparseResults []store.RankedResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		denseResults, err = r.dense(gctx, idx, query, topKEach)
		return err
	})
	g.Go(func() error {
		var err error
		sparseResults, err = r.sparse(gctx, idx, query, topKEach)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fusion.Fuse([][]store.RankedResult{denseResults, sparseResults}, topN)
	results := hydrate(idx.Chunks, fused)

	slog.Debug("hybrid_search_complete",
		slog.Int("dense", len(denseResults)),
		slog.Int("sparse", len(sparseResults)),
		slog.Int("fused", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}

// Lookup returns the chunk with id from the installed index.
func (r *Retriever) Lookup(id string) (store.Chunk, bool, error) {
	idx, err := r.current()
	if err != nil {
		return store.Chunk{}, false, err
	}
	c, ok := idx.Chunks.Get(id)
	return c, ok, nil
}

// Hydrate attaches text and url from the installed chunk store to dense or
// sparse results, for callers that display them.
func (r *Retriever) Hydrate(results []store.RankedResult) ([]FusedResult, error) {
	idx, err := r.current()
	if err != nil {
		return nil, err
	}
	return hydrate(idx.Chunks, results), nil
}

// hydrate attaches chunk text and url. A missing chunk yields empty fields
// and a consistency warning instead of failing the query.
func hydrate(chunks *store.ChunkStore, fused []store.RankedResult) []FusedResult {
	out := make([]FusedResult, len(fused))
	for i, f := range fused {
		out[i] = FusedResult{ChunkID: f.ChunkID, Score: f.Score, Rank: f.Rank}
		c, ok := chunks.Get(f.ChunkID)
		if !ok {
			slog.Warn("hydration_chunk_missing",
				slog.String("chunk_id", f.ChunkID),
				slog.Int("rank", f.Rank),
				slog.Int("corpus_size", chunks.Len()))
			continue
		}
		out[i].Text = c.Text
		out[i].URL = c.URL
	}
	return out
}
