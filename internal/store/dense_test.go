package store

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

func TestBuildDenseIndex_NormalizesRows(t *testing.T) {
	// Given: unnormalized vectors
	idx, err := BuildDenseIndex([][]float32{{3, 4}, {0, 2}}, []string{"a", "b"})
	require.NoError(t, err)

	// Then: stored rows have unit norm
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, idx.Row(0), 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1}, idx.Row(1), 1e-6)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 2, idx.Dimensions())
}

func TestBuildDenseIndex_DoesNotAliasInput(t *testing.T) {
	v := [][]float32{{1, 0}}
	idx, err := BuildDenseIndex(v, []string{"a"})
	require.NoError(t, err)

	v[0][0] = -1

	assert.InDeltaSlice(t, []float32{1, 0}, idx.Row(0), 1e-6)
}

func TestBuildDenseIndex_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name      string
		vectors   [][]float32
		ids       []string
		invariant string
	}{
		{"length mismatch", [][]float32{{1, 0}}, []string{"a", "b"}, "equal_length"},
		{"empty corpus", nil, nil, "non_empty_corpus"},
		{"zero dimension", [][]float32{{}}, []string{"a"}, "positive_dimension"},
		{"ragged", [][]float32{{1, 0}, {1, 0, 0}}, []string{"a", "b"}, "uniform_dimension"},
		{"nan", [][]float32{{float32(math.NaN()), 0}}, []string{"a"}, "finite_values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDenseIndex(tt.vectors, tt.ids)

			require.Error(t, err)
			assert.ErrorIs(t, err, rerrors.ErrBuildFailed)
			var re *rerrors.RAGError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.invariant, re.Details["invariant"])
		})
	}
}

func TestBuildDenseIndex_DimensionErrorCarriesContext(t *testing.T) {
	_, err := BuildDenseIndex([][]float32{{1, 0, 0}, {1, 0, 0}, {1, 0}}, []string{"a", "b", "c"})

	var re *rerrors.RAGError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "3", re.Details["expected_dim"])
	assert.Equal(t, "2", re.Details["found_dim"])
	assert.Equal(t, "2", re.Details["row"])
	assert.Equal(t, "3", re.Details["corpus_size"])
}

func TestDenseIndex_Search_OrdersByCosine(t *testing.T) {
	// Given: three directions
	idx, err := BuildDenseIndex([][]float32{
		{1, 0},
		{1, 1},
		{0, 1},
	}, []string{"x", "diag", "y"})
	require.NoError(t, err)

	// When: querying close to x (unnormalized query)
	results, err := idx.Search([]float32{10, 1}, 3)
	require.NoError(t, err)

	// Then: ordered by cosine, ranks dense from 1
	require.Len(t, results, 3)
	assert.Equal(t, []string{"x", "diag", "y"}, resultIDs(results))
	assert.Equal(t, []int{1, 2, 3}, resultRanks(results))
	assert.InDelta(t, 10/math.Sqrt(101), results[0].Score, 1e-6)
}

func TestDenseIndex_Search_TiesBreakByPosition(t *testing.T) {
	// Given: identical vectors under different ids, inserted z before a
	idx, err := BuildDenseIndex([][]float32{{0, 1}, {1, 0}, {1, 0}, {1, 0}}, []string{"w", "z", "a", "m"})
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)

	assert.Equal(t, []string{"z", "a", "m"}, resultIDs(results))
}

func TestDenseIndex_Search_TopKBounds(t *testing.T) {
	idx := randomDenseIndex(t, 25, 8, 1)
	q := randomVector(rand.New(rand.NewSource(99)), 8)

	for _, k := range []int{1, 5, 25} {
		results, err := idx.Search(q, k)
		require.NoError(t, err)
		assert.Len(t, results, k, "top_k=%d", k)
		assertNonIncreasing(t, results)
	}

	results, err := idx.Search(q, 100)
	require.NoError(t, err)
	assert.Len(t, results, 25)

	results, err = idx.Search(q, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDenseIndex_Search_DimensionMismatch(t *testing.T) {
	idx := randomDenseIndex(t, 3, 4, 1)

	_, err := idx.Search([]float32{1, 2}, 1)

	assert.ErrorIs(t, err, rerrors.ErrDimensionMismatch)
}

func TestDenseIndex_Search_NotLoaded(t *testing.T) {
	var idx *DenseIndex

	_, err := idx.Search([]float32{1}, 1)

	assert.ErrorIs(t, err, rerrors.ErrIndexNotLoaded)
	assert.True(t, rerrors.IsRetryable(err))
}

func TestDenseIndex_Search_ZeroRowsScoreZero(t *testing.T) {
	idx, err := BuildDenseIndex([][]float32{{0, 0}, {1, 0}}, []string{"empty", "x"})
	require.NoError(t, err)

	results, err := idx.Search([]float32{1, 0}, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "empty"}, resultIDs(results))
	assert.Equal(t, 0.0, results[1].Score)
}

func TestDenseIndex_Search_ConcurrentReadsAgree(t *testing.T) {
	idx := randomDenseIndex(t, 200, 16, 7)
	q := randomVector(rand.New(rand.NewSource(3)), 16)
	want, err := idx.Search(q, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := idx.Search(q, 10)
			if err != nil {
				errs <- err
				return
			}
			if fmt.Sprint(got) != fmt.Sprint(want) {
				errs <- fmt.Errorf("concurrent search diverged")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func randomDenseIndex(t *testing.T, n, dim int, seed int64) *DenseIndex {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	vectors := make([][]float32, n)
	ids := make([]string, n)
	for i := range vectors {
		vectors[i] = randomVector(r, dim)
		ids[i] = fmt.Sprintf("c%03d", i)
	}
	idx, err := BuildDenseIndex(vectors, ids)
	require.NoError(t, err)
	return idx
}

func resultIDs(results []RankedResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ChunkID
	}
	return ids
}

func resultRanks(results []RankedResult) []int {
	ranks := make([]int, len(results))
	for i, r := range results {
		ranks[i] = r.Rank
	}
	return ranks
}

func assertNonIncreasing(t *testing.T, results []RankedResult) {
	t.Helper()
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "position %d", i)
		assert.Equal(t, i+1, results[i].Rank)
	}
}
