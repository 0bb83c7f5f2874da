package store

import (
	"fmt"
	"time"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Dense backend names accepted in configuration.
const (
	DenseBackendExact = "exact"
	DenseBackendHNSW  = "hnsw"
)

// FormatVersion is bumped whenever the on-disk layout changes.
const FormatVersion = 1

// Manifest describes a built index directory.
type Manifest struct {
	FormatVersion int        `json:"format_version"`
	CreatedAt     time.Time  `json:"created_at"`
	ChunkCount    int        `json:"chunk_count"`
	Dimensions    int        `json:"dimensions"`
	EmbedderModel string     `json:"embedder_model"`
	BM25          BM25Config `json:"bm25"`
	Vocabulary    int        `json:"vocabulary"`
	AvgDocLen     float64    `json:"avg_doc_len"`
}

// BuildOptions configures BuildIndex and Load.
type BuildOptions struct {
	BM25          BM25Config
	DenseBackend  string
	HNSW          HNSWConfig
	EmbedderModel string
}

// DefaultBuildOptions returns exact dense search with standard BM25.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{
		BM25:         DefaultBM25Config(),
		DenseBackend: DenseBackendExact,
		HNSW:         DefaultHNSWConfig(),
	}
}

// Index bundles the chunk store and both indices built from one ordering.
// It is immutable; a rebuild produces a new Index.
type Index struct {
	Chunks   *ChunkStore
	Dense    DenseSearcher
	Sparse   *SparseIndex
	Manifest Manifest

	exact *DenseIndex
}

// BuildIndex validates chunks, then builds the dense index from vectors
// (vectors[i] embeds chunks[i]) and the sparse index from the tokenized chunk
// texts, all in the same order.
func BuildIndex(chunks []Chunk, vectors [][]float32, opts BuildOptions) (*Index, error) {
	cs, err := NewChunkStore(chunks)
	if err != nil {
		return nil, err
	}
	ids := cs.IDs()

	exact, err := BuildDenseIndex(vectors, ids)
	if err != nil {
		return nil, err
	}

	sparse, err := BuildSparseIndex(TokenizeAll(cs.Texts()), ids, opts.BM25)
	if err != nil {
		return nil, err
	}

	return assemble(cs, exact, sparse, Manifest{
		FormatVersion: FormatVersion,
		CreatedAt:     time.Now().UTC(),
		EmbedderModel: opts.EmbedderModel,
	}, opts)
}

// assemble checks the shared-ordering invariant and picks the dense backend.
func assemble(cs *ChunkStore, exact *DenseIndex, sparse *SparseIndex, m Manifest, opts BuildOptions) (*Index, error) {
	if err := checkAlignment(cs.IDs(), exact.ids, sparse.ids); err != nil {
		return nil, err
	}

	m.ChunkCount = cs.Len()
	m.Dimensions = exact.Dimensions()
	m.BM25 = sparse.Config()
	m.Vocabulary = sparse.VocabularySize()
	m.AvgDocLen = sparse.AvgDocLen()

	idx := &Index{Chunks: cs, Dense: exact, Sparse: sparse, Manifest: m, exact: exact}

	switch opts.DenseBackend {
	case "", DenseBackendExact:
	case DenseBackendHNSW:
		h, err := NewHNSWDenseIndex(exact, opts.HNSW)
		if err != nil {
			return nil, err
		}
		idx.Dense = h
	default:
		return nil, rerrors.ConfigError(fmt.Sprintf("unknown dense backend %q", opts.DenseBackend), nil)
	}
	return idx, nil
}

func checkAlignment(chunkIDs, denseIDs, sparseIDs []string) error {
	if len(chunkIDs) != len(denseIDs) || len(chunkIDs) != len(sparseIDs) {
		return rerrors.BuildError("shared_ordering", "chunk store and indices differ in size").
			WithIntDetail("corpus_size", len(chunkIDs)).
			WithIntDetail("dense_rows", len(denseIDs)).
			WithIntDetail("sparse_docs", len(sparseIDs))
	}
	for i, id := range chunkIDs {
		if denseIDs[i] != id || sparseIDs[i] != id {
			return rerrors.BuildError("shared_ordering",
				fmt.Sprintf("ordinal %d maps to %q, %q and %q", i, id, denseIDs[i], sparseIDs[i])).
				WithIntDetail("row", i).
				WithIntDetail("corpus_size", len(chunkIDs))
		}
	}
	return nil
}

// Len returns the number of chunks.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return idx.Chunks.Len()
}
