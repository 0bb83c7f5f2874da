// Package search fuses dense and sparse rankings with Reciprocal Rank Fusion
// and exposes the query contract used by the CLI and the MCP server.
package search

import (
	"time"

	"github.com/Aman-CERP/hybridrag/internal/store"
)

// FusedResult is one hybrid hit after fusion and hydration.
type FusedResult struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
	Text    string  `json:"text"`
	URL     string  `json:"url"`
}

// Defaults are the parameters used when a caller leaves one unset.
type Defaults struct {
	TopKEach int
	RRFK     int
	TopN     int
}

// DefaultDefaults returns top_k_each=50, rrf_k=60, top_n=10.
func DefaultDefaults() Defaults {
	return Defaults{TopKEach: 50, RRFK: DefaultRRFConstant, TopN: 10}
}

// Status describes the index currently installed in a Retriever.
type Status struct {
	Loaded        bool           `json:"loaded"`
	Chunks        int            `json:"chunks"`
	Dimensions    int            `json:"dimensions"`
	DenseBackend  string         `json:"dense_backend"`
	EmbedderModel string         `json:"embedder_model"`
	Manifest      store.Manifest `json:"manifest"`
	LoadedAt      time.Time      `json:"loaded_at"`
	Swaps         uint64         `json:"swaps"`
}
