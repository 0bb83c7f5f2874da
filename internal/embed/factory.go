package embed

import (
	"fmt"
	"log/slog"
	"strings"

	rerrors "github.com/Aman-CERP/hybridrag/internal/errors"
)

// Provider names an embedding backend.
type Provider string

const (
	ProviderStatic Provider = "static"
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// ParseProvider converts a config string to a Provider. Empty means static.
func ParseProvider(s string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProviderStatic:
		return ProviderStatic, nil
	case ProviderOllama:
		return ProviderOllama, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("unknown embeddings provider %q (want static, ollama or openai)", s)
	}
}

// Config selects and configures an embedder.
type Config struct {
	Provider      string
	Model         string
	OllamaHost    string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	Dimensions    int
	BatchSize     int
	CacheSize     int
}

// NewEmbedder builds the embedder described by cfg. Remote providers are
// wrapped with retry and a circuit breaker; every provider gets the query
// cache unless CacheSize is negative.
func NewEmbedder(cfg Config) (Embedder, error) {
	provider, err := ParseProvider(cfg.Provider)
	if err != nil {
		return nil, rerrors.ConfigError(err.Error(), err)
	}

	var base Embedder
	switch provider {
	case ProviderStatic:
		base = NewStaticEmbedder(cfg.Dimensions)
	case ProviderOllama:
		e, err := NewOllamaEmbedder(OllamaConfig{
			Host:      cfg.OllamaHost,
			Model:     cfg.Model,
			BatchSize: cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		base = NewResilientEmbedder(e, rerrors.DefaultRetryConfig(), nil)
	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
		if err != nil {
			return nil, rerrors.ConfigError(err.Error(), err).
				WithSuggestion("Set OPENAI_API_KEY or embeddings.openai_base_url")
		}
		base = NewResilientEmbedder(e, rerrors.DefaultRetryConfig(), nil)
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(provider)),
		slog.String("model", base.ModelName()),
		slog.Int("dimensions", base.Dimensions()))

	if cfg.CacheSize < 0 {
		return base, nil
	}
	return NewCachedEmbedder(base, cfg.CacheSize)
}
