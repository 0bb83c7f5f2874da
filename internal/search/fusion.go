package search

import (
	"fmt"
	"slices"
	"strings"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// RRFFusion merges rankings with Reciprocal Rank Fusion:
//
//	score(d) = Σ_i 1 / (k + rank_i(d))
//
// summed over the lists that contain d. Only ranks are consumed, so the
// input score scales never matter.
type RRFFusion struct {
	K int
}

// NewRRFFusion creates a fusion with smoothing constant k, which must be positive.
func NewRRFFusion(k int) (*RRFFusion, error) {
	if k <= 0 {
		return nil, rerrors.ValidationError(fmt.Sprintf("rrf_k must be positive, got %d", k), nil).
			WithIntDetail("rrf_k", k)
	}
	return &RRFFusion{K: k}, nil
}

// Fuse combines lists, sorts by fused score descending with ties broken by
// ascending chunk id, keeps the first topN and re-ranks them 1..n.
// A chunk listed twice in the same list counts once, at its best rank.
func (f *RRFFusion) Fuse(lists [][]store.RankedResult, topN int) []store.RankedResult {
	if topN <= 0 {
		return []store.RankedResult{}
	}

	capacity := 0
	for _, l := range lists {
		capacity += len(l)
	}
	scores := make(map[string]float64, capacity)

	for _, list := range lists {
		best := make(map[string]int, len(list))
		for pos, r := range list {
			rank := r.Rank
			if rank <= 0 {
				rank = pos + 1
			}
			if prev, seen := best[r.ChunkID]; !seen || rank < prev {
				best[r.ChunkID] = rank
			}
		}
		for id, rank := range best {
			scores[id] += 1 / float64(f.K+rank)
		}
	}

	fused := make([]store.RankedResult, 0, len(scores))
	for id, s := range scores {
		fused = append(fused, store.RankedResult{ChunkID: id, Score: s})
	}
	slices.SortFunc(fused, compareFused)

	if topN < len(fused) {
		fused = fused[:topN]
	}
	for i := range fused {
		fused[i].Rank = i + 1
	}
	return fused
}

// compareFused orders by higher score, then lexicographically smaller id.
func compareFused(a, b store.RankedResult) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	return strings.Compare(a.ChunkID, b.ChunkID)
}

// Fuse is the two-list form used by hybrid search.
func Fuse(a, b []store.RankedResult, rrfK, topN int) ([]store.RankedResult, error) {
	f, err := NewRRFFusion(rrfK)
	if err != nil {
		return nil, err
	}
	return f.Fuse([][]store.RankedResult{a, b}, topN), nil
}
