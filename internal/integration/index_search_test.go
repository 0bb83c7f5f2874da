package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/index"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// Integration tests exercise the full flow: chunk records on disk ->
// build -> publish -> load -> search.

const testDims = 64

var topics = []string{
	"postgres connection pool sizing and idle timeouts",
	"reciprocal rank fusion merges dense and sparse rankings",
	"bm25 saturates term frequency with k1 and normalizes length with b",
	"lru caches keep recent query embeddings in memory",
	"atomic pointer swaps replace the index during hot reload",
	"hnsw graphs trade exactness for logarithmic search time",
}

// corpus returns n chunk records whose ids start with prefix.
func corpus(prefix string, n int) []store.Chunk {
	out := make([]store.Chunk, n)
	for i := range out {
		topic := topics[i%len(topics)]
		out[i] = store.Chunk{
			ChunkID: fmt.Sprintf("%s-%03d", prefix, i),
			URL:     fmt.Sprintf("https://docs.example/%s/%d", prefix, i),
			Text:    fmt.Sprintf("%s (section %d)", topic, i),
			EndWord: len(strings.Fields(topic)) + 2,
		}
	}
	return out
}

func writeJSONL(t *testing.T, chunks []store.Chunk) string {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		require.NoError(t, enc.Encode(c))
	}
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// publish builds chunks with opts and writes them to a fresh directory.
func publish(t *testing.T, emb embed.Embedder, chunks []store.Chunk, opts store.BuildOptions) string {
	t.Helper()
	b, err := index.NewBuilder(index.BuilderDependencies{Embedder: emb})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "index")
	_, err = b.Run(context.Background(), index.BuildConfig{
		Input:     writeJSONL(t, chunks),
		OutputDir: dir,
		BatchSize: 4,
		Workers:   3,
		Options:   opts,
	})
	require.NoError(t, err)
	return dir
}

func TestIntegration_PersistedIndexAnswersLikeInMemory(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: the same corpus built in memory and published to disk
	ctx := context.Background()
	emb := embed.NewStaticEmbedder(testDims)
	chunks := corpus("doc", 24)

	b, err := index.NewBuilder(index.BuilderDependencies{Embedder: emb})
	require.NoError(t, err)
	mem, err := b.Build(ctx, chunks, index.BuildConfig{BatchSize: 5})
	require.NoError(t, err)

	dir := publish(t, emb, chunks, store.DefaultBuildOptions())
	loaded, err := store.Load(ctx, dir, store.DefaultBuildOptions())
	require.NoError(t, err)

	memR, err := search.NewRetriever(mem, emb)
	require.NoError(t, err)
	diskR, err := search.NewRetriever(loaded, emb)
	require.NoError(t, err)

	// When/Then: every mode returns identical rankings and scores
	for _, q := range []string{"connection pool", "rank fusion", "hot reload swap", "zzz unknown"} {
		want, err := memR.SparseSearch(ctx, q, 10)
		require.NoError(t, err)
		got, err := diskR.SparseSearch(ctx, q, 10)
		require.NoError(t, err)
		assert.Equal(t, want, got, "sparse %q", q)

		want, err = memR.DenseSearch(ctx, q, 10)
		require.NoError(t, err)
		got, err = diskR.DenseSearch(ctx, q, 10)
		require.NoError(t, err)
		assert.Equal(t, want, got, "dense %q", q)

		wantFused, err := memR.HybridSearch(ctx, q, 10, 60, 5)
		require.NoError(t, err)
		gotFused, err := diskR.HybridSearch(ctx, q, 10, 60, 5)
		require.NoError(t, err)
		assert.Equal(t, wantFused, gotFused, "hybrid %q", q)
	}
}

func TestIntegration_HybridResultsAreHydrated(t *testing.T) {
	ctx := context.Background()
	emb := embed.NewStaticEmbedder(testDims)
	chunks := corpus("doc", 12)
	dir := publish(t, emb, chunks, store.DefaultBuildOptions())

	idx, err := store.Load(ctx, dir, store.DefaultBuildOptions())
	require.NoError(t, err)
	r, err := search.NewRetriever(idx, emb)
	require.NoError(t, err)

	results, err := r.HybridSearch(ctx, "bm25 term frequency", 0, 0, 0)
	require.NoError(t, err)

	require.Len(t, results, search.DefaultDefaults().TopN)
	byID := make(map[string]store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ChunkID] = c
	}
	for i, res := range results {
		assert.Equal(t, i+1, res.Rank)
		assert.Equal(t, byID[res.ChunkID].Text, res.Text)
		assert.Equal(t, byID[res.ChunkID].URL, res.URL)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, res.Score)
		}
	}
	assert.Contains(t, results[0].Text, "bm25")
}

func TestIntegration_HNSWMatchesExactOnSmallCorpus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: one published index loaded with both dense backends
	ctx := context.Background()
	emb := embed.NewStaticEmbedder(testDims)
	dir := publish(t, emb, corpus("doc", 30), store.DefaultBuildOptions())

	exact, err := store.Load(ctx, dir, store.DefaultBuildOptions())
	require.NoError(t, err)
	hnswOpts := store.DefaultBuildOptions()
	hnswOpts.DenseBackend = store.DenseBackendHNSW
	approx, err := store.Load(ctx, dir, hnswOpts)
	require.NoError(t, err)

	exactR, err := search.NewRetriever(exact, emb)
	require.NoError(t, err)
	approxR, err := search.NewRetriever(approx, emb)
	require.NoError(t, err)
	assert.Equal(t, store.DenseBackendHNSW, approxR.Status().DenseBackend)

	// When/Then: with ef_search above the corpus size the top hits agree
	for _, q := range topics {
		want, err := exactR.DenseSearch(ctx, q, 3)
		require.NoError(t, err)
		got, err := approxR.DenseSearch(ctx, q, 3)
		require.NoError(t, err)
		assert.Equal(t, want, got, q)
	}
}

func TestIntegration_ConfigDrivesBuildAndLoad(t *testing.T) {
	// Given: a project config selecting Okapi IDF and custom k1
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, ".hybridrag.yaml"), []byte(`
bm25:
  k1: 1.2
  b: 0.5
  idf: okapi
embeddings:
  dimensions: 32
`), 0o644))
	cfg, err := config.Load(project)
	require.NoError(t, err)

	emb, err := embed.NewEmbedder(cfg.EmbedConfig())
	require.NoError(t, err)
	defer func() { _ = emb.Close() }()

	// When: building with the configured options
	dir := publish(t, emb, corpus("doc", 8), cfg.BuildOptions())

	// Then: the manifest records the parameters
	m, err := store.ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, 32, m.Dimensions)
	assert.Equal(t, 1.2, m.BM25.K1)
	assert.Equal(t, 0.5, m.BM25.B)
	assert.Equal(t, store.IDFOkapi, m.BM25.IDF)

	// And loading with default options keeps the persisted BM25 parameters
	idx, err := store.Load(context.Background(), dir, store.DefaultBuildOptions())
	require.NoError(t, err)
	assert.Equal(t, m.BM25, idx.Manifest.BM25)
}

func TestIntegration_ConcurrentSearchesDuringSwaps(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: two indices with disjoint chunk ids
	ctx := context.Background()
	emb := embed.NewStaticEmbedder(testDims)
	b, err := index.NewBuilder(index.BuilderDependencies{Embedder: emb})
	require.NoError(t, err)
	idxA, err := b.Build(ctx, corpus("a", 10), index.BuildConfig{})
	require.NoError(t, err)
	idxB, err := b.Build(ctx, corpus("b", 14), index.BuildConfig{})
	require.NoError(t, err)

	r, err := search.NewRetriever(idxA, emb)
	require.NoError(t, err)

	// When: searching from many goroutines while swapping back and forth
	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				results, err := r.HybridSearch(ctx, "connection pool fusion", 5, 60, 5)
				if err != nil {
					errs <- err
					return
				}
				// Then: each answer comes entirely from one snapshot
				if len(results) == 0 {
					continue
				}
				prefix := results[0].ChunkID[:2]
				for _, res := range results {
					if !strings.HasPrefix(res.ChunkID, prefix) || res.Text == "" {
						errs <- fmt.Errorf("mixed or unhydrated result %+v", res)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		next := idxB
		if i%2 == 1 {
			next = idxA
		}
		require.NoError(t, r.Swap(next))
	}
	close(stop)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.EqualValues(t, 51, r.Status().Swaps)
}
