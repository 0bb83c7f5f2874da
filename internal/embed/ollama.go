package embed

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model served by Ollama.
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host      string
	Model     string
	BatchSize int
	Timeout   time.Duration
}

// DefaultOllamaConfig returns the default Ollama configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:      DefaultOllamaHost,
		Model:     DefaultOllamaModel,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
	}
}

// OllamaEmbedder embeds text through an Ollama server. The dimension is
// learned from the first successful response.
type OllamaEmbedder struct {
	cfg      OllamaConfig
	embedder *embeddings.EmbedderImpl
	http     *http.Client
	dims     atomic.Int64
	closed   atomic.Bool
}

// NewOllamaEmbedder creates an Ollama-backed embedder. No request is sent
// until the first Embed call.
func NewOllamaEmbedder(cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.Host),
		ollama.WithModel(cfg.Model),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}
	return &OllamaEmbedder{cfg: cfg, embedder: emb, http: httpClient}, nil
}

// Embed embeds a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("embedder is closed")
	}
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed failed: %w", err)
	}
	if err := e.learnDims(len(vec)); err != nil {
		return nil, err
	}
	return normalizeVector(vec), nil
}

// EmbedBatch embeds texts in input order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama batch embed failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if err := e.learnDims(len(v)); err != nil {
			return nil, err
		}
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

// learnDims records the first observed dimension and rejects later changes.
func (e *OllamaEmbedder) learnDims(n int) error {
	if n == 0 {
		return fmt.Errorf("ollama returned an empty embedding")
	}
	if e.dims.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if d := e.dims.Load(); d != int64(n) {
		return fmt.Errorf("ollama embedding dimension changed from %d to %d", d, n)
	}
	return nil
}

func (e *OllamaEmbedder) Dimensions() int { return int(e.dims.Load()) }

func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Available pings the Ollama version endpoint.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.closed.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.Host+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *OllamaEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}
