package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag/internal/embed"
	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/ui"
	"github.com/Aman-CERP/hybridrag/internal/watcher"
)

func sampleChunks(n int) []store.Chunk {
	topics := []string{
		"postgres connection pooling and idle timeouts",
		"reciprocal rank fusion of dense and sparse rankings",
		"bm25 term frequency saturation and length normalization",
		"lru caches for query embeddings",
		"atomic index swaps during hot reload",
	}
	out := make([]store.Chunk, n)
	for i := range out {
		out[i] = store.Chunk{
			ChunkID:   "chunk-" + string(rune('a'+i%26)) + strings.Repeat("x", i/26),
			URL:       "https://docs.example/" + topics[i%len(topics)][:6],
			Text:      topics[i%len(topics)],
			EndWord:   6,
			StartWord: 0,
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

func TestReadChunks_JSONArray(t *testing.T) {
	// Given: an array where one record lacks chunk_id
	input := `[
	  {"chunk_id": "a", "url": "u1", "text": "first", "start_word": 0, "end_word": 1},
	  {"url": "u1", "text": "second", "start_word": 1, "end_word": 2},
	  {"url": "u2", "text": "third"}
	]`

	// When
	chunks, err := ReadChunks(strings.NewReader(input), 0)

	// Then: ids are derived per url position
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "a", chunks[0].ChunkID)
	assert.Equal(t, DeriveChunkID("u1", 1), chunks[1].ChunkID)
	assert.Equal(t, DeriveChunkID("u2", 0), chunks[2].ChunkID)
	assert.Len(t, chunks[1].ChunkID, 40)
}

func TestReadChunks_JSONL(t *testing.T) {
	input := "{\"chunk_id\":\"a\",\"text\":\"one\"}\n\n{\"chunk_id\":\"b\",\"text\":\"two\"}\n{\"chunk_id\":\"c\",\"text\":\"three\"}\n"

	all, err := ReadChunks(strings.NewReader(input), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	capped, err := ReadChunks(strings.NewReader(input), 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, "b", capped[1].ChunkID)
}

func TestReadChunks_Malformed(t *testing.T) {
	_, err := ReadChunks(strings.NewReader("{\"chunk_id\":\"a\"}\n{not json}\n"), 0)
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeInvalidInput, rerrors.GetCode(err))

	_, err = ReadChunks(strings.NewReader(`[{"chunk_id": 5}]`), 0)
	assert.Error(t, err)

	empty, err := ReadChunks(strings.NewReader("   \n"), 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReadChunksFile_Missing(t *testing.T) {
	_, err := ReadChunksFile(filepath.Join(t.TempDir(), "nope.json"), 0)
	assert.Equal(t, rerrors.ErrCodeFileNotFound, rerrors.GetCode(err))
}

func TestDeriveChunkID(t *testing.T) {
	// sha1("https://a.example0")
	id := DeriveChunkID("https://a.example", 0)
	assert.Len(t, id, 40)
	assert.NotEqual(t, id, DeriveChunkID("https://a.example", 1))
	assert.Equal(t, id, DeriveChunkID("https://a.example", 0))
}

func TestBuildLock(t *testing.T) {
	// Given: a held lock on an index directory
	dir := filepath.Join(t.TempDir(), "index")
	first, err := AcquireBuildLock(dir)
	require.NoError(t, err)

	// When: a second build tries to lock the same directory
	_, err = AcquireBuildLock(dir)

	// Then: it is rejected as retryable
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeIndexLocked, rerrors.GetCode(err))
	assert.True(t, rerrors.IsRetryable(err))

	// And: releasing allows a new lock
	require.NoError(t, first.Release())
	second, err := AcquireBuildLock(dir)
	require.NoError(t, err)
	assert.Equal(t, dir+".lock", second.Path())
	require.NoError(t, second.Release())
}

func TestBuilder_Run(t *testing.T) {
	// Given: a JSONL corpus and a static embedder
	chunks := sampleChunks(37)
	input := writeJSONL(t, chunks)
	out := filepath.Join(t.TempDir(), "index")
	var progress bytes.Buffer
	b, err := NewBuilder(BuilderDependencies{
		Embedder: embed.NewStaticEmbedder(32),
		Renderer: ui.NewPlainRenderer(ui.NewConfig(&progress)),
	})
	require.NoError(t, err)

	// When: building with small batches on several workers
	res, err := b.Run(context.Background(), BuildConfig{
		Input:     input,
		OutputDir: out,
		BatchSize: 4,
		Workers:   3,
		Options:   store.DefaultBuildOptions(),
	})

	// Then: the index is published and loadable in the original order
	require.NoError(t, err)
	assert.Equal(t, 37, res.Manifest.ChunkCount)
	assert.Equal(t, 32, res.Manifest.Dimensions)
	assert.Equal(t, "static-32", res.Manifest.EmbedderModel)
	assert.Contains(t, progress.String(), "[EMBED]")
	assert.Contains(t, progress.String(), "Complete: 37 chunks")

	idx, err := store.Load(context.Background(), out, store.DefaultBuildOptions())
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, c.ChunkID, idx.Chunks.At(i).ChunkID)
	}

	// And: row i holds the embedding of chunk i
	emb := embed.NewStaticEmbedder(32)
	for _, i := range []int{0, 13, 36} {
		vec, err := emb.Embed(context.Background(), chunks[i].Text)
		require.NoError(t, err)
		hits, err := idx.Dense.Search(vec, 1)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	}

	// And: the lock was released
	lock, err := AcquireBuildLock(out)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestBuilder_MaxChunks(t *testing.T) {
	input := writeJSONL(t, sampleChunks(10))
	out := filepath.Join(t.TempDir(), "index")
	b, err := NewBuilder(BuilderDependencies{Embedder: embed.NewStaticEmbedder(16)})
	require.NoError(t, err)

	res, err := b.Run(context.Background(), BuildConfig{Input: input, OutputDir: out, MaxChunks: 4})

	require.NoError(t, err)
	assert.Equal(t, 4, res.Manifest.ChunkCount)
}

func TestBuilder_EmptyCorpus(t *testing.T) {
	input := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(input, []byte("[]"), 0o644))
	b, err := NewBuilder(BuilderDependencies{Embedder: embed.NewStaticEmbedder(16)})
	require.NoError(t, err)

	_, err = b.Run(context.Background(), BuildConfig{Input: input, OutputDir: filepath.Join(t.TempDir(), "index")})

	assert.ErrorIs(t, err, rerrors.ErrBuildFailed)
}

// failingEmbedder fails every batch after the first.
type failingEmbedder struct {
	*embed.StaticEmbedder
	calls atomic.Int32
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) > 1 {
		return nil, errors.New("model crashed")
	}
	return f.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestBuilder_EmbeddingFailureKeepsPreviousIndex(t *testing.T) {
	// Given: a published index
	out := filepath.Join(t.TempDir(), "index")
	good, err := NewBuilder(BuilderDependencies{Embedder: embed.NewStaticEmbedder(16)})
	require.NoError(t, err)
	_, err = good.Run(context.Background(), BuildConfig{Input: writeJSONL(t, sampleChunks(5)), OutputDir: out})
	require.NoError(t, err)

	// When: a rebuild fails midway
	bad, err := NewBuilder(BuilderDependencies{Embedder: &failingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(16)}})
	require.NoError(t, err)
	_, err = bad.Run(context.Background(), BuildConfig{
		Input:     writeJSONL(t, sampleChunks(20)),
		OutputDir: out,
		BatchSize: 2,
		Workers:   1,
	})

	// Then: the error names the embedding failure and the old index is intact
	require.Error(t, err)
	assert.Equal(t, rerrors.ErrCodeEmbeddingFailed, rerrors.GetCode(err))
	m, err := store.ReadManifest(out)
	require.NoError(t, err)
	assert.Equal(t, 5, m.ChunkCount)
}

func TestBuilder_RequiresEmbedder(t *testing.T) {
	_, err := NewBuilder(BuilderDependencies{})
	assert.Error(t, err)
}

func TestReload_SwapsIntoRetriever(t *testing.T) {
	// Given: a retriever serving a 5-chunk index
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "index")
	emb := embed.NewStaticEmbedder(16)
	b, err := NewBuilder(BuilderDependencies{Embedder: emb})
	require.NoError(t, err)
	_, err = b.Run(ctx, BuildConfig{Input: writeJSONL(t, sampleChunks(5)), OutputDir: out})
	require.NoError(t, err)

	r, err := search.NewRetriever(nil, emb)
	require.NoError(t, err)
	_, err = Reload(ctx, out, store.DefaultBuildOptions(), r)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Status().Chunks)

	// When: a larger index is published and reloaded
	_, err = b.Run(ctx, BuildConfig{Input: writeJSONL(t, sampleChunks(8)), OutputDir: out})
	require.NoError(t, err)
	_, err = Reload(ctx, out, store.DefaultBuildOptions(), r)

	// Then
	require.NoError(t, err)
	assert.Equal(t, 8, r.Status().Chunks)
	assert.EqualValues(t, 2, r.Status().Swaps)
}

func TestReload_FailureKeepsServing(t *testing.T) {
	ctx := context.Background()
	emb := embed.NewStaticEmbedder(16)
	b, err := NewBuilder(BuilderDependencies{Embedder: emb})
	require.NoError(t, err)
	idx, err := b.Build(ctx, sampleChunks(3), BuildConfig{})
	require.NoError(t, err)
	r, err := search.NewRetriever(idx, emb)
	require.NoError(t, err)

	_, err = Reload(ctx, filepath.Join(t.TempDir(), "missing"), store.DefaultBuildOptions(), r)

	require.Error(t, err)
	assert.Equal(t, 3, r.Status().Chunks)
}

func TestWatchAndReload(t *testing.T) {
	// Given: a retriever with no index and a watcher on the index directory
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := filepath.Join(t.TempDir(), "index")
	emb := embed.NewStaticEmbedder(16)
	r, err := search.NewRetriever(nil, emb)
	require.NoError(t, err)

	w, err := watcher.NewIndexWatcher(out, watcher.Options{
		DebounceWindow: 30 * time.Millisecond,
		PollInterval:   20 * time.Millisecond,
	})
	require.NoError(t, err)
	defer w.Stop()
	go func() { _ = w.Start(ctx) }()
	go WatchAndReload(ctx, w, out, store.DefaultBuildOptions(), r)
	time.Sleep(100 * time.Millisecond)

	// When: a build publishes the index
	b, err := NewBuilder(BuilderDependencies{Embedder: emb})
	require.NoError(t, err)
	_, err = b.Run(ctx, BuildConfig{Input: writeJSONL(t, sampleChunks(6)), OutputDir: out})
	require.NoError(t, err)

	// Then: the retriever picks it up
	require.Eventually(t, func() bool {
		return r.Status().Chunks == 6
	}, 5*time.Second, 20*time.Millisecond)
}
