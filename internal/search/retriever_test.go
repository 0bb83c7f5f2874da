package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/embed"
	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

const testDims = 64

func corpus() []store.Chunk {
	return []store.Chunk{
		{ChunkID: "c1", URL: "https://docs.example/pool", Title: "Pools", Text: "Configure the postgres connection pool size and idle timeout", EndWord: 9},
		{ChunkID: "c2", URL: "https://docs.example/rrf", Title: "Fusion", Text: "Reciprocal rank fusion merges dense and sparse rankings", EndWord: 8},
		{ChunkID: "c3", URL: "https://docs.example/bm25", Title: "BM25", Text: "BM25 scores documents by term frequency and inverse document frequency", EndWord: 10},
		{ChunkID: "c4", URL: "https://docs.example/cache", Title: "Cache", Text: "An LRU cache keeps recent query embeddings in memory", EndWord: 9},
	}
}

func buildIndex(t *testing.T, emb embed.Embedder, chunks []store.Chunk) *store.Index {
	t.Helper()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := emb.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	idx, err := store.BuildIndex(chunks, vectors, store.DefaultBuildOptions())
	require.NoError(t, err)
	return idx
}

func newTestRetriever(t *testing.T, opts ...Option) (*Retriever, *store.Index) {
	t.Helper()
	emb := embed.NewStaticEmbedder(testDims)
	idx := buildIndex(t, emb, corpus())
	r, err := NewRetriever(idx, emb, opts...)
	require.NoError(t, err)
	return r, idx
}

// stubEmbedder returns a fixed error, or blocks until the context ends.
type stubEmbedder struct {
	*embed.StaticEmbedder
	err   error
	block bool
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.StaticEmbedder.Embed(ctx, text)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestNewRetriever_RequiresEmbedder(t *testing.T) {
	_, err := NewRetriever(nil, nil)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestRetriever_NotLoaded(t *testing.T) {
	// Given: a retriever with no index installed
	r, err := NewRetriever(nil, embed.NewStaticEmbedder(testDims))
	require.NoError(t, err)
	ctx := context.Background()

	// When / Then: every query reports not loaded
	_, err = r.DenseSearch(ctx, "pool", 5)
	assert.ErrorIs(t, err, rerrors.ErrIndexNotLoaded)
	_, err = r.SparseSearch(ctx, "pool", 5)
	assert.ErrorIs(t, err, rerrors.ErrIndexNotLoaded)
	_, err = r.HybridSearch(ctx, "pool", 5, 60, 5)
	assert.ErrorIs(t, err, rerrors.ErrIndexNotLoaded)
	assert.True(t, rerrors.IsRetryable(err))
	assert.False(t, r.Status().Loaded)
}

func TestRetriever_DenseSearch(t *testing.T) {
	r, _ := newTestRetriever(t)

	// When: the query is a chunk's own text
	results, err := r.DenseSearch(context.Background(), corpus()[1].Text, 3)

	// Then: that chunk ranks first with cosine 1
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c2", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	for i, res := range results {
		assert.Equal(t, i+1, res.Rank)
	}
}

func TestRetriever_DenseSearchTopK(t *testing.T) {
	r, _ := newTestRetriever(t)
	ctx := context.Background()

	neg, err := r.DenseSearch(ctx, "pool", -1)
	require.NoError(t, err)
	assert.Empty(t, neg)

	// Zero takes the default (50), capped by corpus size.
	all, err := r.DenseSearch(ctx, "pool", 0)
	require.NoError(t, err)
	assert.Len(t, all, len(corpus()))
}

func TestRetriever_SparseSearch(t *testing.T) {
	r, _ := newTestRetriever(t)
	ctx := context.Background()

	// Every chunk is ranked; the non-matching ones trail at 0 in position order
	results, err := r.SparseSearch(ctx, "Postgres POOL", 10)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Positive(t, results[0].Score)
	for i, res := range results[1:] {
		assert.Zero(t, res.Score)
		assert.Equal(t, fmt.Sprintf("c%d", i+2), res.ChunkID)
	}

	none, err := r.SparseSearch(ctx, "?!  ...", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRetriever_HybridSearch(t *testing.T) {
	// Given
	r, idx := newTestRetriever(t)
	ctx := context.Background()
	query := "dense and sparse rank fusion"

	// When
	results, err := r.HybridSearch(ctx, query, 10, 60, 3)

	// Then: hydrated, ranked 1..n, non-increasing scores
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "c2", results[0].ChunkID)
	for i, res := range results {
		assert.Equal(t, i+1, res.Rank)
		c, ok := idx.Chunks.Get(res.ChunkID)
		require.True(t, ok)
		assert.Equal(t, c.Text, res.Text)
		assert.Equal(t, c.URL, res.URL)
		if i > 0 {
			assert.LessOrEqual(t, res.Score, results[i-1].Score)
		}
	}

	// And: it equals fusing the two sub-searches by hand
	dense, err := r.DenseSearch(ctx, query, 10)
	require.NoError(t, err)
	sparse, err := r.SparseSearch(ctx, query, 10)
	require.NoError(t, err)
	want, err := Fuse(dense, sparse, 60, 3)
	require.NoError(t, err)
	for i := range want {
		assert.Equal(t, want[i].ChunkID, results[i].ChunkID)
		assert.Equal(t, want[i].Score, results[i].Score)
	}
}

func TestRetriever_HybridSearchDeterministic(t *testing.T) {
	r, _ := newTestRetriever(t)
	ctx := context.Background()

	first, err := r.HybridSearch(ctx, "query embeddings cache", 0, 0, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.HybridSearch(ctx, "query embeddings cache", 0, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRetriever_HybridSearchArguments(t *testing.T) {
	r, _ := newTestRetriever(t)
	ctx := context.Background()

	_, err := r.HybridSearch(ctx, "pool", 10, -5, 3)
	assert.Equal(t, rerrors.ErrCodeInvalidInput, rerrors.GetCode(err))

	none, err := r.HybridSearch(ctx, "pool", 10, 60, -1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRetriever_QueryEncodingFailure(t *testing.T) {
	// Given: an embedder that always fails
	cause := errors.New("model unavailable")
	good := embed.NewStaticEmbedder(testDims)
	idx := buildIndex(t, good, corpus())
	r, err := NewRetriever(idx, &stubEmbedder{StaticEmbedder: good, err: cause})
	require.NoError(t, err)
	ctx := context.Background()

	// When / Then: dense and hybrid fail with the cause attached
	_, err = r.DenseSearch(ctx, "pool", 5)
	assert.ErrorIs(t, err, rerrors.ErrQueryEncoding)
	assert.ErrorIs(t, err, cause)

	_, err = r.HybridSearch(ctx, "pool", 5, 60, 5)
	assert.ErrorIs(t, err, rerrors.ErrQueryEncoding)

	// And: sparse search does not touch the embedder
	sparse, err := r.SparseSearch(ctx, "pool", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, sparse)
}

func TestRetriever_Timeout(t *testing.T) {
	good := embed.NewStaticEmbedder(testDims)
	idx := buildIndex(t, good, corpus())
	r, err := NewRetriever(idx, &stubEmbedder{StaticEmbedder: good, block: true}, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = r.HybridSearch(context.Background(), "pool", 5, 60, 5)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetriever_HydrationMissIsWarned(t *testing.T) {
	// Given: an index whose chunk store lost c3
	logs := captureLogs(t)
	emb := embed.NewStaticEmbedder(testDims)
	idx := buildIndex(t, emb, corpus())
	kept := make([]store.Chunk, 0, 3)
	for _, c := range corpus() {
		if c.ChunkID != "c3" {
			kept = append(kept, c)
		}
	}
	partial, err := store.NewChunkStore(kept)
	require.NoError(t, err)
	idx.Chunks = partial
	r, err := NewRetriever(idx, emb)
	require.NoError(t, err)

	// When
	results, err := r.HybridSearch(context.Background(), "term frequency", 10, 60, 10)

	// Then: c3 is still returned, without text, and a warning is logged
	require.NoError(t, err)
	var found bool
	for _, res := range results {
		if res.ChunkID == "c3" {
			found = true
			assert.Empty(t, res.Text)
			assert.Empty(t, res.URL)
		}
	}
	assert.True(t, found)
	assert.Contains(t, logs.String(), "hydration_chunk_missing")
}

func TestRetriever_Swap(t *testing.T) {
	// Given: a retriever on the base corpus
	r, _ := newTestRetriever(t)
	emb := embed.NewStaticEmbedder(testDims)
	ctx := context.Background()
	before, err := r.SparseSearch(ctx, "kubernetes", 5)
	require.NoError(t, err)
	require.Len(t, before, 4)
	assert.Zero(t, before[0].Score)

	// When: an index with a new chunk is swapped in
	chunks := append(corpus(), store.Chunk{ChunkID: "c5", Text: "Deploying kubernetes operators", EndWord: 3})
	require.NoError(t, r.Swap(buildIndex(t, emb, chunks)))

	// Then
	after, err := r.SparseSearch(ctx, "kubernetes", 5)
	require.NoError(t, err)
	require.Len(t, after, 5)
	assert.Equal(t, "c5", after[0].ChunkID)
	assert.Positive(t, after[0].Score)

	st := r.Status()
	assert.True(t, st.Loaded)
	assert.Equal(t, 5, st.Chunks)
	assert.Equal(t, testDims, st.Dimensions)
	assert.Equal(t, store.DenseBackendExact, st.DenseBackend)
	assert.EqualValues(t, 2, st.Swaps)
}

func TestRetriever_SwapRejectsDimensionMismatch(t *testing.T) {
	r, _ := newTestRetriever(t)
	other := buildIndex(t, embed.NewStaticEmbedder(testDims*2), corpus())

	err := r.Swap(other)

	assert.ErrorIs(t, err, rerrors.ErrDimensionMismatch)
	assert.Equal(t, testDims, r.Status().Dimensions)
	assert.ErrorIs(t, r.Swap(nil), ErrNilDependency)
}

func TestRetriever_ConcurrentQueriesDuringSwap(t *testing.T) {
	r, _ := newTestRetriever(t)
	emb := embed.NewStaticEmbedder(testDims)
	next := buildIndex(t, emb, corpus())
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				res, err := r.HybridSearch(ctx, "connection pool", 10, 60, 4)
				if err != nil {
					errs <- err
					return
				}
				if len(res) != 4 {
					errs <- errors.New("unexpected result count")
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Swap(next))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRetriever_HNSWBackend(t *testing.T) {
	emb := embed.NewStaticEmbedder(testDims)
	chunks := corpus()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := emb.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	opts := store.DefaultBuildOptions()
	opts.DenseBackend = store.DenseBackendHNSW
	idx, err := store.BuildIndex(chunks, vectors, opts)
	require.NoError(t, err)

	r, err := NewRetriever(idx, emb)
	require.NoError(t, err)

	results, err := r.DenseSearch(context.Background(), chunks[3].Text, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c4", results[0].ChunkID)
	assert.Equal(t, store.DenseBackendHNSW, r.Status().DenseBackend)
}

func TestRetriever_Hydrate(t *testing.T) {
	r, _ := newTestRetriever(t)

	sparse, err := r.SparseSearch(context.Background(), "bm25 term frequency", 2)
	require.NoError(t, err)
	require.NotEmpty(t, sparse)

	hits, err := r.Hydrate(sparse)
	require.NoError(t, err)
	require.Len(t, hits, len(sparse))
	assert.Equal(t, "c3", hits[0].ChunkID)
	assert.Equal(t, "https://docs.example/bm25", hits[0].URL)
	assert.Equal(t, sparse[0].Score, hits[0].Score)

	empty, err := NewRetriever(nil, embed.NewStaticEmbedder(testDims))
	require.NoError(t, err)
	_, err = empty.Hydrate(sparse)
	assert.Error(t, err)
}

func TestRetriever_Lookup(t *testing.T) {
	r, _ := newTestRetriever(t)

	c, ok, err := r.Lookup("c2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://docs.example/rrf", c.URL)

	_, ok, err = r.Lookup("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}
