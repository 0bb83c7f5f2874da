package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// ranked builds a list with ranks 1..n in the given order.
func ranked(ids ...string) []store.RankedResult {
	out := make([]store.RankedResult, len(ids))
	for i, id := range ids {
		out[i] = store.RankedResult{ChunkID: id, Score: float64(len(ids) - i), Rank: i + 1}
	}
	return out
}

func fusedIDs(results []store.RankedResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func TestFuse_ScoreFormula(t *testing.T) {
	// Given: x at dense rank 3 and sparse rank 5, y only at sparse rank 1
	dense := ranked("p", "q", "x")
	sparse := ranked("y", "r", "s", "t", "x")

	// When
	results, err := Fuse(dense, sparse, 60, 10)
	require.NoError(t, err)

	// Then: contributions add per list
	byID := make(map[string]float64)
	for _, r := range results {
		byID[r.ChunkID] = r.Score
	}
	assert.InDelta(t, 1.0/63+1.0/65, byID["x"], 1e-15)
	assert.InDelta(t, 0.0312576, byID["x"], 1e-6)
	assert.InDelta(t, 1.0/61, byID["y"], 1e-15)
	assert.InDelta(t, 0.0163934, byID["y"], 1e-6)
}

func TestFuse_OrdersByCombinedRank(t *testing.T) {
	// Given: dense [A, B, C] and sparse [C, A, B]
	// A = 1/61 + 1/62, C = 1/63 + 1/61, B = 1/62 + 1/63
	results, err := Fuse(ranked("A", "B", "C"), ranked("C", "A", "B"), 60, 10)
	require.NoError(t, err)

	// Then
	assert.Equal(t, []string{"A", "C", "B"}, fusedIDs(results))
	assert.InDelta(t, 1.0/61+1.0/62, results[0].Score, 1e-15)
	assert.InDelta(t, 1.0/61+1.0/63, results[1].Score, 1e-15)
	assert.InDelta(t, 1.0/62+1.0/63, results[2].Score, 1e-15)
	for i, r := range results {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestFuse_ExactTieBreaksByChunkID(t *testing.T) {
	// Given: b and a swap ranks between lists, so their scores are identical
	results, err := Fuse(ranked("b", "a"), ranked("a", "b"), 60, 10)
	require.NoError(t, err)

	// Then: the smaller id wins
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, []string{"a", "b"}, fusedIDs(results))
}

func TestFuse_IgnoresScoreScale(t *testing.T) {
	// Given: the same ranks with wildly different raw scores
	small := ranked("A", "B", "C")
	large := ranked("A", "B", "C")
	for i := range large {
		large[i].Score *= 1e9
	}

	a, err := Fuse(small, ranked("C", "B"), 60, 10)
	require.NoError(t, err)
	b, err := Fuse(large, ranked("C", "B"), 60, 10)
	require.NoError(t, err)

	// Then
	assert.Equal(t, a, b)
}

func TestFuse_TopN(t *testing.T) {
	dense := ranked("A", "B", "C")
	sparse := ranked("D", "E")

	tests := []struct {
		name string
		topN int
		want int
	}{
		{"zero", 0, 0},
		{"negative", -3, 0},
		{"truncates", 2, 2},
		{"exact", 5, 5},
		{"larger than union", 50, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := Fuse(dense, sparse, 60, tt.topN)
			require.NoError(t, err)
			assert.NotNil(t, results)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestFuse_InvalidK(t *testing.T) {
	for _, k := range []int{0, -1} {
		_, err := Fuse(ranked("A"), ranked("A"), k, 10)
		require.Error(t, err)
		assert.Equal(t, rerrors.ErrCodeInvalidInput, rerrors.GetCode(err))
	}
}

func TestFuse_EmptyInputs(t *testing.T) {
	results, err := Fuse(nil, []store.RankedResult{}, 60, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = Fuse(nil, ranked("only"), 60, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, fusedIDs(results))
	assert.InDelta(t, 1.0/61, results[0].Score, 1e-15)
}

func TestRRFFusion_DuplicateInListCountsOnceAtBestRank(t *testing.T) {
	// Given: A listed twice in one list
	f, err := NewRRFFusion(60)
	require.NoError(t, err)
	list := []store.RankedResult{
		{ChunkID: "B", Rank: 1},
		{ChunkID: "A", Rank: 2},
		{ChunkID: "A", Rank: 3},
	}

	// When
	results := f.Fuse([][]store.RankedResult{list}, 10)

	// Then
	require.Len(t, results, 2)
	assert.Equal(t, []string{"B", "A"}, fusedIDs(results))
	assert.InDelta(t, 1.0/62, results[1].Score, 1e-15)
}

func TestRRFFusion_MissingRanksUsePosition(t *testing.T) {
	f, err := NewRRFFusion(10)
	require.NoError(t, err)
	list := []store.RankedResult{{ChunkID: "x"}, {ChunkID: "y"}}

	results := f.Fuse([][]store.RankedResult{list}, 10)

	require.Len(t, results, 2)
	assert.InDelta(t, 1.0/11, results[0].Score, 1e-15)
	assert.InDelta(t, 1.0/12, results[1].Score, 1e-15)
}

func TestRRFFusion_ManyLists(t *testing.T) {
	f, err := NewRRFFusion(DefaultRRFConstant)
	require.NoError(t, err)

	results := f.Fuse([][]store.RankedResult{ranked("A", "B"), ranked("B", "A"), ranked("B")}, 10)

	assert.Equal(t, []string{"B", "A"}, fusedIDs(results))
	assert.InDelta(t, 2.0/61+1.0/62, results[0].Score, 1e-15)
}
