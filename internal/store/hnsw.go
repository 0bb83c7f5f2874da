package store

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/coder/hnsw"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// HNSWConfig configures the approximate dense backend.
type HNSWConfig struct {
	M        int
	EfSearch int
	// Seed drives level generation so a rebuild yields the same graph.
	Seed int64
}

// DefaultHNSWConfig mirrors the coder/hnsw recommendations.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfSearch: 64, Seed: 1}
}

// HNSWDenseIndex answers dense queries through an HNSW graph over the rows
// of an exact DenseIndex. Candidates are re-scored exactly, so scores and
// tie-breaks match the exact index whenever the graph finds the same rows.
type HNSWDenseIndex struct {
	mu    sync.RWMutex
	exact *DenseIndex
	graph *hnsw.Graph[uint64]
	cfg   HNSWConfig

	// zeroRows are not in the graph; they score 0 against every query.
	zeroRows []int
}

var _ DenseSearcher = (*HNSWDenseIndex)(nil)

// NewHNSWDenseIndex inserts every non-zero row of exact in row order.
func NewHNSWDenseIndex(exact *DenseIndex, cfg HNSWConfig) (*HNSWDenseIndex, error) {
	if exact == nil || exact.Len() == 0 {
		return nil, rerrors.NotLoadedError("dense")
	}
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	graph.Rng = rand.New(rand.NewSource(cfg.Seed))

	var zeroRows []int
	for i := 0; i < exact.Len(); i++ {
		row := exact.matrix[i*exact.dim : (i+1)*exact.dim]
		if isZero(row) {
			zeroRows = append(zeroRows, i)
			continue
		}
		graph.Add(hnsw.MakeNode(uint64(i), row))
	}
	if len(zeroRows) > 0 {
		slog.Warn("hnsw_zero_vectors_skipped",
			slog.Int("count", len(zeroRows)),
			slog.Int("corpus_size", exact.Len()))
	}

	return &HNSWDenseIndex{exact: exact, graph: graph, cfg: cfg, zeroRows: zeroRows}, nil
}

// Len returns the number of rows in the underlying exact index.
func (h *HNSWDenseIndex) Len() int { return h.exact.Len() }

// Dimensions returns the vector dimensionality.
func (h *HNSWDenseIndex) Dimensions() int { return h.exact.Dimensions() }

// Search returns up to topK approximate neighbours ranked like DenseIndex.
func (h *HNSWDenseIndex) Search(query []float32, topK int) ([]RankedResult, error) {
	if len(query) != h.exact.dim {
		return nil, rerrors.New(rerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has dimension %d, index has %d", len(query), h.exact.dim), nil).
			WithIntDetail("expected_dim", h.exact.dim).
			WithIntDetail("found_dim", len(query))
	}
	if topK <= 0 {
		return []RankedResult{}, nil
	}

	// Asking for the whole corpus: the exact scan is both cheaper and complete.
	if topK >= h.exact.Len() {
		return h.exact.Search(query, topK)
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)
	if isZero(q) {
		// Every row scores 0; the exact index already orders that by position.
		return h.exact.Search(query, topK)
	}

	// The greedy graph walk misses true neighbours when asked for exactly k,
	// so take at least ef_search candidates and let exact rescoring pick k.
	graphRows := h.exact.Len() - len(h.zeroRows)
	fetch := min(max(topK, h.cfg.EfSearch), graphRows)

	h.mu.RLock()
	nodes := h.graph.Search(q, fetch)
	h.mu.RUnlock()

	hits := make([]scoredRow, 0, len(nodes)+len(h.zeroRows))
	for _, n := range nodes {
		row := int(n.Key)
		hits = append(hits, scoredRow{row: row, score: dot(q, h.exact.matrix[row*h.exact.dim:(row+1)*h.exact.dim])})
	}
	for _, row := range h.zeroRows {
		hits = append(hits, scoredRow{row: row})
	}
	return rankRows(hits, h.exact.ids, topK), nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
