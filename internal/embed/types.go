// Package embed produces query and chunk embeddings. The retrieval core only
// depends on the Embedder interface; the implementations here cover a local
// hash embedder and remote Ollama and OpenAI-compatible services.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per EmbedBatch call during builds.
	DefaultBatchSize = 32

	// MaxBatchSize prevents oversized requests.
	MaxBatchSize = 256

	// DefaultTimeout bounds a single remote embedding request.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts, returning vectors in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension, or 0 if not known until
	// the first successful call.
	Dimensions() int

	// ModelName returns the model identifier recorded in index manifests.
	ModelName() string

	// Available checks if the embedder can serve requests.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector returns a unit-length copy of v. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
