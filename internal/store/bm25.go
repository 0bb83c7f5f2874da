package store

import (
	"math"
	"slices"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// posting records one occurrence list entry: document ordinal and term frequency.
type posting struct {
	doc int32
	tf  int32
}

// SparseIndex is an in-memory BM25 index. The statistics are exactly what is
// persisted; postings, IDF and length norms are derived from them.
type SparseIndex struct {
	cfg BM25Config

	ids      []string
	docTerms []map[string]int
	docLen   []int
	df       map[string]int
	avgdl    float64

	postings map[string][]posting
	idf      map[string]float64
	norm     []float64 // k1 * (1 - b + b*|D|/avgdl) per document
}

// BuildSparseIndex computes BM25 statistics over tokenized documents.
// docs[i] belongs to ids[i]. Empty documents are allowed.
func BuildSparseIndex(docs [][]string, ids []string, cfg BM25Config) (*SparseIndex, error) {
	if len(docs) != len(ids) {
		return nil, rerrors.BuildError("equal_length", "tokenized documents and chunk ids differ in length").
			WithIntDetail("documents", len(docs)).
			WithIntDetail("corpus_size", len(ids))
	}
	if len(docs) == 0 {
		return nil, rerrors.BuildError("non_empty_corpus", "cannot build a sparse index from zero documents").
			WithIntDetail("corpus_size", 0)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	docTerms := make([]map[string]int, len(docs))
	docLen := make([]int, len(docs))
	df := make(map[string]int)
	total := 0
	for i, tokens := range docs {
		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		for term := range counts {
			df[term]++
		}
		docTerms[i] = counts
		docLen[i] = len(tokens)
		total += len(tokens)
	}

	s := &SparseIndex{
		cfg:      cfg,
		ids:      slices.Clone(ids),
		docTerms: docTerms,
		docLen:   docLen,
		df:       df,
		avgdl:    float64(total) / float64(len(docs)),
	}
	s.derive()
	return s, nil
}

// derive rebuilds postings, IDF and per-document length norms.
func (s *SparseIndex) derive() {
	s.postings = make(map[string][]posting, len(s.df))
	for i, counts := range s.docTerms {
		for term, tf := range counts {
			s.postings[term] = append(s.postings[term], posting{doc: int32(i), tf: int32(tf)})
		}
	}
	// Posting lists come out sorted by document since documents are walked in order.

	s.norm = make([]float64, len(s.docLen))
	for i, l := range s.docLen {
		lenRatio := 0.0
		if s.avgdl > 0 {
			lenRatio = float64(l) / s.avgdl
		}
		s.norm[i] = s.cfg.K1 * (1 - s.cfg.B + s.cfg.B*lenRatio)
	}

	s.idf = computeIDF(s.df, len(s.docLen), s.cfg)
}

func computeIDF(df map[string]int, n int, cfg BM25Config) map[string]float64 {
	idf := make(map[string]float64, len(df))
	N := float64(n)

	if cfg.IDF == IDFOkapi {
		// Sum in sorted term order so the floor is identical across runs.
		terms := make([]string, 0, len(df))
		for term := range df {
			terms = append(terms, term)
		}
		slices.Sort(terms)

		var sum float64
		var negative []string
		for _, term := range terms {
			f := df[term]
			v := math.Log(N-float64(f)+0.5) - math.Log(float64(f)+0.5)
			idf[term] = v
			sum += v
			if v < 0 {
				negative = append(negative, term)
			}
		}
		if len(df) > 0 {
			floor := cfg.Epsilon * sum / float64(len(df))
			for _, term := range negative {
				idf[term] = floor
			}
		}
		return idf
	}

	for term, f := range df {
		idf[term] = math.Log(1 + (N-float64(f)+0.5)/(float64(f)+0.5))
	}
	return idf
}

// Len returns the number of documents.
func (s *SparseIndex) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Config returns the BM25 parameters the index was built with.
func (s *SparseIndex) Config() BM25Config { return s.cfg }

// AvgDocLen returns the average document length in tokens.
func (s *SparseIndex) AvgDocLen() float64 { return s.avgdl }

// VocabularySize returns the number of distinct terms.
func (s *SparseIndex) VocabularySize() int { return len(s.df) }

// IDs returns chunk ids in document order.
func (s *SparseIndex) IDs() []string { return slices.Clone(s.ids) }

// IDF returns the inverse document frequency of term, 0 if unseen.
func (s *SparseIndex) IDF(term string) float64 { return s.idf[term] }

// Search scores every document and returns the topK best; documents that
// share no term with the query score 0 and fill the tail in position order.
// A token repeated in the query contributes once per occurrence. An empty
// token list yields an empty result.
func (s *SparseIndex) Search(queryTokens []string, topK int) ([]RankedResult, error) {
	if s == nil || len(s.ids) == 0 {
		return nil, rerrors.NotLoadedError("sparse")
	}
	if len(queryTokens) == 0 || topK <= 0 {
		return []RankedResult{}, nil
	}

	hits := make([]scoredRow, len(s.ids))
	for i := range hits {
		hits[i].row = i
	}
	k1 := s.cfg.K1
	for _, tok := range queryTokens {
		plist, ok := s.postings[tok]
		if !ok {
			continue
		}
		idf := s.idf[tok]
		for _, p := range plist {
			f := float64(p.tf)
			hits[p.doc].score += idf * (f * (k1 + 1)) / (f + s.norm[p.doc])
		}
	}
	return rankRows(hits, s.ids, topK), nil
}

// sparseState is the persisted form of a SparseIndex.
type sparseState struct {
	Config   BM25Config
	IDs      []string
	DocTerms []map[string]int
	DocLen   []int
	DF       map[string]int
	AvgDL    float64
	N        int
}

func (s *SparseIndex) state() sparseState {
	return sparseState{
		Config:   s.cfg,
		IDs:      s.ids,
		DocTerms: s.docTerms,
		DocLen:   s.docLen,
		DF:       s.df,
		AvgDL:    s.avgdl,
		N:        len(s.ids),
	}
}

func sparseFromState(st sparseState) (*SparseIndex, error) {
	if st.N != len(st.IDs) || len(st.DocTerms) != st.N || len(st.DocLen) != st.N {
		return nil, rerrors.CorruptIndexError("sparse state has inconsistent document counts", nil).
			WithIntDetail("n", st.N).
			WithIntDetail("ids", len(st.IDs)).
			WithIntDetail("doc_terms", len(st.DocTerms)).
			WithIntDetail("doc_len", len(st.DocLen))
	}
	if err := st.Config.Validate(); err != nil {
		return nil, rerrors.CorruptIndexError("sparse state has invalid bm25 config", err)
	}

	s := &SparseIndex{
		cfg:      st.Config,
		ids:      st.IDs,
		docTerms: st.DocTerms,
		docLen:   st.DocLen,
		df:       st.DF,
		avgdl:    st.AvgDL,
	}
	for i := range s.docTerms {
		if s.docTerms[i] == nil {
			s.docTerms[i] = map[string]int{}
		}
	}
	if s.df == nil {
		s.df = map[string]int{}
	}
	s.derive()
	return s, nil
}
