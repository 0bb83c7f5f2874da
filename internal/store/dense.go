package store

import (
	"fmt"
	"math"
	"slices"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// DenseIndex is an exact inner-product index over unit-normalized vectors,
// so scores are cosine similarities. Vectors live in one row-major matrix;
// row i belongs to ids[i].
type DenseIndex struct {
	ids    []string
	matrix []float32
	dim    int
}

var _ DenseSearcher = (*DenseIndex)(nil)

// BuildDenseIndex normalizes copies of vectors and freezes them in build
// order. Zero vectors are kept as-is and score 0 against every query.
func BuildDenseIndex(vectors [][]float32, ids []string) (*DenseIndex, error) {
	if err := checkDenseInput(vectors, ids); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	idx := &DenseIndex{
		ids:    slices.Clone(ids),
		matrix: make([]float32, len(vectors)*dim),
		dim:    dim,
	}
	for i, v := range vectors {
		row := idx.matrix[i*dim : (i+1)*dim]
		copy(row, v)
		normalizeInPlace(row)
	}
	return idx, nil
}

// newDenseIndexFromMatrix adopts an already-normalized matrix read from disk.
func newDenseIndexFromMatrix(matrix []float32, dim int, ids []string) *DenseIndex {
	return &DenseIndex{ids: ids, matrix: matrix, dim: dim}
}

func checkDenseInput(vectors [][]float32, ids []string) error {
	if len(vectors) != len(ids) {
		return rerrors.BuildError("equal_length",
			fmt.Sprintf("got %d vectors for %d chunk ids", len(vectors), len(ids))).
			WithIntDetail("vectors", len(vectors)).
			WithIntDetail("corpus_size", len(ids))
	}
	if len(vectors) == 0 {
		return rerrors.BuildError("non_empty_corpus", "cannot build a dense index from zero vectors").
			WithIntDetail("corpus_size", 0)
	}

	dim := len(vectors[0])
	if dim == 0 {
		return rerrors.BuildError("positive_dimension", "vectors have dimension 0").
			WithIntDetail("corpus_size", len(ids))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return rerrors.BuildError("uniform_dimension",
				fmt.Sprintf("vector %d (%s) has dimension %d, expected %d", i, ids[i], len(v), dim)).
				WithIntDetail("expected_dim", dim).
				WithIntDetail("found_dim", len(v)).
				WithIntDetail("row", i).
				WithIntDetail("corpus_size", len(ids))
		}
		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return rerrors.BuildError("finite_values",
					fmt.Sprintf("vector %d (%s) contains NaN or Inf", i, ids[i])).
					WithIntDetail("row", i).
					WithIntDetail("corpus_size", len(ids))
			}
		}
	}
	return nil
}

// Len returns the number of stored vectors.
func (d *DenseIndex) Len() int {
	if d == nil {
		return 0
	}
	return len(d.ids)
}

// Dimensions returns the vector dimensionality.
func (d *DenseIndex) Dimensions() int {
	if d == nil {
		return 0
	}
	return d.dim
}

// IDs returns the chunk ids in row order.
func (d *DenseIndex) IDs() []string { return slices.Clone(d.ids) }

// Row returns a copy of the normalized vector at row i.
func (d *DenseIndex) Row(i int) []float32 {
	return slices.Clone(d.matrix[i*d.dim : (i+1)*d.dim])
}

// Search scores every row against the normalized query. topK larger than
// the corpus returns every row; topK <= 0 returns nothing.
func (d *DenseIndex) Search(query []float32, topK int) ([]RankedResult, error) {
	if d == nil || len(d.ids) == 0 {
		return nil, rerrors.NotLoadedError("dense")
	}
	if len(query) != d.dim {
		return nil, rerrors.New(rerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("query has dimension %d, index has %d", len(query), d.dim), nil).
			WithIntDetail("expected_dim", d.dim).
			WithIntDetail("found_dim", len(query))
	}
	if topK <= 0 {
		return []RankedResult{}, nil
	}

	q := slices.Clone(query)
	normalizeInPlace(q)

	hits := make([]scoredRow, len(d.ids))
	for i := range d.ids {
		hits[i] = scoredRow{row: i, score: dot(q, d.matrix[i*d.dim:(i+1)*d.dim])}
	}
	return rankRows(hits, d.ids, topK), nil
}

// scoredRow is a candidate before ranking.
type scoredRow struct {
	row   int
	score float64
}

// rankRows sorts by descending score, ties by ascending row, keeps topK and
// assigns ranks 1..n.
func rankRows(hits []scoredRow, ids []string, topK int) []RankedResult {
	slices.SortFunc(hits, func(a, b scoredRow) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return a.row - b.row
	})
	if topK < len(hits) {
		hits = hits[:topK]
	}

	out := make([]RankedResult, len(hits))
	for i, h := range hits {
		out[i] = RankedResult{ChunkID: ids[h.row], Score: h.score, Rank: i + 1}
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalizeInPlace scales v to unit L2 norm. Zero vectors are left alone.
func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
