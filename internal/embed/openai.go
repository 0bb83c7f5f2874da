package embed

import (
	"context"
	"fmt"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is the default OpenAI embedding model.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures the OpenAI-compatible embedder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions requests shortened embeddings when the model supports it.
	// Zero keeps the model default.
	Dimensions int
}

// OpenAIEmbedder embeds text through the OpenAI embeddings API or any
// server that speaks it.
type OpenAIEmbedder struct {
	client *openai.Client
	cfg    OpenAIConfig
	dims   atomic.Int64
	closed atomic.Bool
}

// NewOpenAIEmbedder creates an OpenAI embedder. An API key is required
// unless BaseURL points at a self-hosted endpoint.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai embedder requires an API key (set OPENAI_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	e := &OpenAIEmbedder{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
	if cfg.Dimensions > 0 {
		e.dims.Store(int64(cfg.Dimensions))
	}
	return e, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in one request and places each returned vector by
// its response index.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("embedder is closed")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.cfg.Model),
		Input: texts,
	}
	if e.cfg.Dimensions > 0 {
		req.Dimensions = e.cfg.Dimensions
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embed failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai returned unexpected embedding index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("openai returned an empty embedding at index %d", d.Index)
		}
		e.dims.CompareAndSwap(0, int64(len(d.Embedding)))
		if int(e.dims.Load()) != len(d.Embedding) {
			return nil, fmt.Errorf("openai embedding dimension %d, expected %d", len(d.Embedding), e.dims.Load())
		}
		out[d.Index] = normalizeVector(d.Embedding)
	}
	return out, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return int(e.dims.Load()) }

func (e *OpenAIEmbedder) ModelName() string { return e.cfg.Model }

// Available lists models as a cheap authenticated round trip.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	if e.closed.Load() {
		return false
	}
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEmbedder) Close() error {
	e.closed.Store(true)
	return nil
}
