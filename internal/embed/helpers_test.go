package embed

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
)

// vectorMagnitude computes the magnitude of a vector
func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity computes cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

var errFlaky = errors.New("connection refused")

// countingEmbedder delegates to a static embedder, counts calls and fails
// the first failFirst calls.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls atomic.Int32
	batchCalls atomic.Int32
	batchSizes []int
	failFirst  int32
}

func newCountingEmbedder(failFirst int32) *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder(32), failFirst: failFirst}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if n := c.embedCalls.Add(1); n <= c.failFirst {
		return nil, errFlaky
	}
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if n := c.batchCalls.Add(1); n <= c.failFirst {
		return nil, errFlaky
	}
	c.batchSizes = append(c.batchSizes, len(texts))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}
