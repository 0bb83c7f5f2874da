package mcp

import "github.com/Aman-CERP/hybridrag/internal/async"

// DenseSearchInput defines the input schema for the dense_search tool.
type DenseSearchInput struct {
	Query string `json:"query" jsonschema:"the natural language query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of results, default 50"`
}

// SparseSearchInput defines the input schema for the sparse_search tool.
type SparseSearchInput struct {
	Query string `json:"query" jsonschema:"the keyword query"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of results, default 50"`
}

// HybridSearchInput defines the input schema for the hybrid_search tool.
type HybridSearchInput struct {
	Query    string `json:"query" jsonschema:"the search query"`
	TopKEach int    `json:"top_k_each,omitempty" jsonschema:"candidates taken from each of the dense and sparse rankings, default 50"`
	RRFK     int    `json:"rrf_k,omitempty" jsonschema:"reciprocal rank fusion constant, default 60"`
	TopN     int    `json:"top_n,omitempty" jsonschema:"number of fused results, default 10"`
}

// SearchOutput defines the output schema of the three search tools.
type SearchOutput struct {
	Query   string         `json:"query" jsonschema:"the query as received"`
	Mode    string         `json:"mode" jsonschema:"dense, sparse or hybrid"`
	Results []ResultOutput `json:"results" jsonschema:"ranked results, best first"`
}

// ResultOutput is one ranked chunk.
type ResultOutput struct {
	Rank    int     `json:"rank" jsonschema:"1-based rank"`
	ChunkID string  `json:"chunk_id" jsonschema:"stable chunk identifier"`
	Score   float64 `json:"score" jsonschema:"cosine similarity, BM25 score or fused RRF score depending on mode"`
	URL     string  `json:"url,omitempty" jsonschema:"source document url"`
	Text    string  `json:"text,omitempty" jsonschema:"chunk text"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Loaded   bool         `json:"loaded"`
	IndexDir string       `json:"index_dir,omitempty"`
	Index    IndexStats   `json:"index"`
	BM25     BM25Stats    `json:"bm25"`
	Embedder EmbedderInfo `json:"embedder"`
	Defaults DefaultsInfo `json:"defaults"`
	Queries  QueryStats   `json:"queries"`

	// Load reports the background load until an index is installed.
	Load *async.LoadSnapshot `json:"load,omitempty"`
}

// QueryStats summarizes the searches this server has answered.
type QueryStats struct {
	Since           string           `json:"since"`
	Total           int64            `json:"total"`
	Failed          int64            `json:"failed"`
	ByMode          map[string]int64 `json:"by_mode"`
	Latency         map[string]int64 `json:"latency"`
	ZeroResults     int64            `json:"zero_results"`
	RecentZeroHits  []string         `json:"recent_zero_result_queries,omitempty"`
	TopTerms        []TermStat       `json:"top_terms,omitempty"`
	RepeatedQueries int64            `json:"repeated_queries"`
}

// TermStat is a query term and how often it was searched.
type TermStat struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// IndexStats describes the installed index.
type IndexStats struct {
	Chunks        int    `json:"chunks"`
	Dimensions    int    `json:"dimensions"`
	DenseBackend  string `json:"dense_backend,omitempty"`
	FormatVersion int    `json:"format_version,omitempty"`
	BuiltAt       string `json:"built_at,omitempty"`
	LoadedAt      string `json:"loaded_at,omitempty"`
	Swaps         uint64 `json:"swaps"`
}

// BM25Stats describes the sparse index parameters.
type BM25Stats struct {
	K1         float64 `json:"k1"`
	B          float64 `json:"b"`
	IDF        string  `json:"idf"`
	Vocabulary int     `json:"vocabulary"`
	AvgDocLen  float64 `json:"avg_doc_len"`
}

// EmbedderInfo reports the query embedder, so clients can tell a keyword
// fallback from semantic search.
type EmbedderInfo struct {
	Model      string `json:"model"`
	BuiltWith  string `json:"built_with,omitempty"`
	Dimensions int    `json:"dimensions"`
	Available  bool   `json:"available"`
}

// DefaultsInfo reports the parameters used when a tool argument is omitted.
type DefaultsInfo struct {
	TopKEach int `json:"top_k_each"`
	RRFK     int `json:"rrf_k"`
	TopN     int `json:"top_n"`
}
