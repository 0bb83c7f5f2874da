// Package store holds the read-only retrieval indices: the chunk store, the
// exact dense index, the BM25 sparse index, and their on-disk layout.
//
// All three are built together from one chunk ordering and never mutated
// afterwards. Ordinal i in the chunk store, row i of the vector matrix and
// document i of the BM25 state always describe the same chunk.
package store

import (
	"fmt"
	"strings"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Chunk is one indexed span of source text.
type Chunk struct {
	ChunkID   string `json:"chunk_id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	StartWord int    `json:"start_word"`
	EndWord   int    `json:"end_word"`
}

// Validate checks the fixed-shape invariants of a chunk record.
func (c Chunk) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	return nil
}

func (c Chunk) validate() *rerrors.RAGError {
	if strings.TrimSpace(c.ChunkID) == "" {
		return rerrors.BuildError("chunk_id_present", "chunk has empty chunk_id").
			WithDetail("url", c.URL)
	}
	if c.StartWord < 0 || c.EndWord < c.StartWord {
		return rerrors.BuildError("word_span",
			fmt.Sprintf("chunk %s has invalid word span [%d, %d)", c.ChunkID, c.StartWord, c.EndWord)).
			WithDetail("chunk_id", c.ChunkID)
	}
	return nil
}

// RankedResult is one hit from a single index. Rank is 1-based and dense.
type RankedResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// IDFVariant selects the inverse document frequency formula used by BM25.
type IDFVariant string

const (
	// IDFSmoothed is ln(1 + (N - df + 0.5)/(df + 0.5)); always positive.
	IDFSmoothed IDFVariant = "smoothed"
	// IDFOkapi is ln((N - df + 0.5)/(df + 0.5)) with negative values
	// floored to epsilon times the corpus average IDF.
	IDFOkapi IDFVariant = "okapi"
)

// BM25Config configures BM25 scoring.
type BM25Config struct {
	K1  float64    `json:"k1"`
	B   float64    `json:"b"`
	IDF IDFVariant `json:"idf"`

	// Epsilon is the floor factor for IDFOkapi.
	Epsilon float64 `json:"epsilon"`
}

// DefaultBM25Config returns the standard parameters k1=1.5, b=0.75.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:      1.5,
		B:       0.75,
		IDF:     IDFSmoothed,
		Epsilon: 0.25,
	}
}

// Validate checks parameter ranges.
func (c BM25Config) Validate() error {
	if c.K1 < 0 {
		return rerrors.ValidationError(fmt.Sprintf("bm25 k1 must be >= 0, got %v", c.K1), nil)
	}
	if c.B < 0 || c.B > 1 {
		return rerrors.ValidationError(fmt.Sprintf("bm25 b must be in [0, 1], got %v", c.B), nil)
	}
	switch c.IDF {
	case IDFSmoothed, IDFOkapi:
	default:
		return rerrors.ValidationError(fmt.Sprintf("unknown bm25 idf variant %q", c.IDF), nil)
	}
	return nil
}

// DenseSearcher is implemented by the exact and HNSW dense indices.
type DenseSearcher interface {
	// Search returns up to topK results ordered by descending cosine
	// similarity, ties by ascending position.
	Search(query []float32, topK int) ([]RankedResult, error)
	Len() int
	Dimensions() int
}
