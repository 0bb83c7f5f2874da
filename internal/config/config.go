// Package config loads hybridrag configuration from defaults, the user
// config file, a project config file, a .env file and HYBRIDRAG_* variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
)

// ProjectConfigNames are the project config file names, in lookup order.
var ProjectConfigNames = []string{".hybridrag.yaml", ".hybridrag.yml"}

// Config represents the complete hybridrag configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	BM25       BM25Config       `yaml:"bm25"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Server     ServerConfig     `yaml:"server"`
}

// IndexConfig locates the index directory and selects the dense backend.
type IndexConfig struct {
	Dir          string `yaml:"dir"`
	DenseBackend string `yaml:"dense_backend"`
	HNSWM        int    `yaml:"hnsw_m"`
	HNSWEfSearch int    `yaml:"hnsw_ef_search"`
}

// SearchConfig holds query defaults.
type SearchConfig struct {
	TopKEach int           `yaml:"top_k_each"`
	RRFK     int           `yaml:"rrf_k"`
	TopN     int           `yaml:"top_n"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BM25Config holds sparse scoring parameters.
type BM25Config struct {
	K1  float64 `yaml:"k1"`
	B   float64 `yaml:"b"`
	IDF string  `yaml:"idf"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	OllamaHost    string `yaml:"ollama_host"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	Dimensions    int    `yaml:"dimensions"`
	BatchSize     int    `yaml:"batch_size"`
	Workers       int    `yaml:"workers"`
	CacheSize     int    `yaml:"cache_size"`

	// OpenAIAPIKey is read from OPENAI_API_KEY only, never from files.
	OpenAIAPIKey string `yaml:"-"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport"`
	Watch     bool   `yaml:"watch"`
	LogLevel  string `yaml:"log_level"`
}

// NewConfig returns a Config with all defaults applied.
func NewConfig() *Config {
	bm25 := store.DefaultBM25Config()
	hnsw := store.DefaultHNSWConfig()
	defaults := search.DefaultDefaults()

	return &Config{
		Version: 1,
		Index: IndexConfig{
			Dir:          ".hybridrag/index",
			DenseBackend: store.DenseBackendExact,
			HNSWM:        hnsw.M,
			HNSWEfSearch: hnsw.EfSearch,
		},
		Search: SearchConfig{
			TopKEach: defaults.TopKEach,
			RRFK:     defaults.RRFK,
			TopN:     defaults.TopN,
			Timeout:  5 * time.Second,
		},
		BM25: BM25Config{
			K1:  bm25.K1,
			B:   bm25.B,
			IDF: string(bm25.IDF),
		},
		Embeddings: EmbeddingsConfig{
			Provider:  string(embed.ProviderStatic),
			BatchSize: embed.DefaultBatchSize,
			Workers:   4,
			CacheSize: 1000,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// GetUserConfigDir returns the user configuration directory, honouring
// XDG_CONFIG_HOME and falling back to ~/.config/hybridrag.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hybridrag")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "hybridrag")
	}
	return filepath.Join(home, ".config", "hybridrag")
}

// GetUserConfigPath returns the path of the user config file.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read user config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration for a project directory.
// Precedence, lowest first: defaults, user config, project config,
// .env file in dir, HYBRIDRAG_* environment variables.
func Load(dir string) (*Config, error) {
	return load(dir, "")
}

// LoadFile is Load with an explicit config file in place of the project
// config lookup.
func LoadFile(dir, path string) (*Config, error) {
	return load(dir, path)
}

func load(dir, explicit string) (*Config, error) {
	cfg := NewConfig()

	userCfg, err := LoadUserConfig()
	if err != nil {
		return nil, err
	}
	if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	projectPath := explicit
	if projectPath == "" {
		projectPath = findProjectConfig(dir)
	}
	if projectPath != "" {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findProjectConfig(dir string) string {
	for _, name := range ProjectConfigNames {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// loadYAML overlays a YAML file onto c. Keys absent from the file keep
// their current values, so an explicit false or zero still wins.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadDotEnv exports variables from a .env file without overriding
// variables already present in the environment.
func loadDotEnv(path string) error {
	if !fileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// mergeWith copies the non-zero values of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Index.Dir != "" {
		c.Index.Dir = other.Index.Dir
	}
	if other.Index.DenseBackend != "" {
		c.Index.DenseBackend = other.Index.DenseBackend
	}
	if other.Index.HNSWM != 0 {
		c.Index.HNSWM = other.Index.HNSWM
	}
	if other.Index.HNSWEfSearch != 0 {
		c.Index.HNSWEfSearch = other.Index.HNSWEfSearch
	}

	if other.Search.TopKEach != 0 {
		c.Search.TopKEach = other.Search.TopKEach
	}
	if other.Search.RRFK != 0 {
		c.Search.RRFK = other.Search.RRFK
	}
	if other.Search.TopN != 0 {
		c.Search.TopN = other.Search.TopN
	}
	if other.Search.Timeout != 0 {
		c.Search.Timeout = other.Search.Timeout
	}

	// k1 = 0 and b = 0 are legitimate BM25 settings but cannot be told
	// apart from "unset" here; set them in the project config instead.
	if other.BM25.K1 != 0 {
		c.BM25.K1 = other.BM25.K1
	}
	if other.BM25.B != 0 {
		c.BM25.B = other.BM25.B
	}
	if other.BM25.IDF != "" {
		c.BM25.IDF = other.BM25.IDF
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.OpenAIBaseURL != "" {
		c.Embeddings.OpenAIBaseURL = other.Embeddings.OpenAIBaseURL
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Workers != 0 {
		c.Embeddings.Workers = other.Embeddings.Workers
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Watch {
		c.Server.Watch = true
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies HYBRIDRAG_* environment variables.
func (c *Config) applyEnvOverrides() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, v, err)
		}
		*dst = n
		return nil
	}
	setFloat := func(key string, dst *float64) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		f, err := parseFloat64(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, v, err)
		}
		*dst = f
		return nil
	}

	setString("HYBRIDRAG_INDEX_DIR", &c.Index.Dir)
	setString("HYBRIDRAG_DENSE_BACKEND", &c.Index.DenseBackend)
	setString("HYBRIDRAG_BM25_IDF", &c.BM25.IDF)
	setString("HYBRIDRAG_EMBEDDER", &c.Embeddings.Provider)
	setString("HYBRIDRAG_EMBEDDING_MODEL", &c.Embeddings.Model)
	setString("HYBRIDRAG_OLLAMA_HOST", &c.Embeddings.OllamaHost)
	setString("HYBRIDRAG_OPENAI_BASE_URL", &c.Embeddings.OpenAIBaseURL)
	setString("HYBRIDRAG_TRANSPORT", &c.Server.Transport)
	setString("HYBRIDRAG_LOG_LEVEL", &c.Server.LogLevel)
	setString("OPENAI_API_KEY", &c.Embeddings.OpenAIAPIKey)

	ints := []struct {
		key string
		dst *int
	}{
		{"HYBRIDRAG_HNSW_M", &c.Index.HNSWM},
		{"HYBRIDRAG_HNSW_EF_SEARCH", &c.Index.HNSWEfSearch},
		{"HYBRIDRAG_TOP_K_EACH", &c.Search.TopKEach},
		{"HYBRIDRAG_RRF_K", &c.Search.RRFK},
		{"HYBRIDRAG_TOP_N", &c.Search.TopN},
		{"HYBRIDRAG_EMBEDDING_DIMENSIONS", &c.Embeddings.Dimensions},
		{"HYBRIDRAG_BATCH_SIZE", &c.Embeddings.BatchSize},
		{"HYBRIDRAG_WORKERS", &c.Embeddings.Workers},
		{"HYBRIDRAG_CACHE_SIZE", &c.Embeddings.CacheSize},
	}
	for _, e := range ints {
		if err := setInt(e.key, e.dst); err != nil {
			return err
		}
	}

	if err := setFloat("HYBRIDRAG_BM25_K1", &c.BM25.K1); err != nil {
		return err
	}
	if err := setFloat("HYBRIDRAG_BM25_B", &c.BM25.B); err != nil {
		return err
	}

	if v := os.Getenv("HYBRIDRAG_SEARCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid HYBRIDRAG_SEARCH_TIMEOUT=%q: %w", v, err)
		}
		c.Search.Timeout = d
	}
	if v := os.Getenv("HYBRIDRAG_WATCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HYBRIDRAG_WATCH=%q: %w", v, err)
		}
		c.Server.Watch = b
	}
	return nil
}

// parseFloat64 parses a float, accepting surrounding whitespace.
func parseFloat64(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	switch c.Index.DenseBackend {
	case store.DenseBackendExact, store.DenseBackendHNSW:
	default:
		return fmt.Errorf("index.dense_backend must be %q or %q, got %q",
			store.DenseBackendExact, store.DenseBackendHNSW, c.Index.DenseBackend)
	}
	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir must not be empty")
	}
	if c.Index.HNSWM < 0 || c.Index.HNSWEfSearch < 0 {
		return fmt.Errorf("index.hnsw_m and index.hnsw_ef_search must be >= 0")
	}

	if c.Search.TopKEach < 0 {
		return fmt.Errorf("search.top_k_each must be >= 0, got %d", c.Search.TopKEach)
	}
	if c.Search.RRFK <= 0 {
		return fmt.Errorf("search.rrf_k must be positive, got %d", c.Search.RRFK)
	}
	if c.Search.TopN < 0 {
		return fmt.Errorf("search.top_n must be >= 0, got %d", c.Search.TopN)
	}
	if c.Search.Timeout < 0 {
		return fmt.Errorf("search.timeout must be >= 0, got %s", c.Search.Timeout)
	}

	if err := c.BuildOptions().BM25.Validate(); err != nil {
		return err
	}

	if _, err := embed.ParseProvider(c.Embeddings.Provider); err != nil {
		return err
	}
	if c.Embeddings.Dimensions < 0 {
		return fmt.Errorf("embeddings.dimensions must be >= 0, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 1 || c.Embeddings.BatchSize > embed.MaxBatchSize {
		return fmt.Errorf("embeddings.batch_size must be between 1 and %d, got %d",
			embed.MaxBatchSize, c.Embeddings.BatchSize)
	}
	if c.Embeddings.Workers < 1 {
		return fmt.Errorf("embeddings.workers must be >= 1, got %d", c.Embeddings.Workers)
	}

	if c.Server.Transport != "stdio" {
		return fmt.Errorf("server.transport must be \"stdio\", got %q", c.Server.Transport)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be debug, info, warn or error, got %q", c.Server.LogLevel)
	}
	return nil
}

// IndexDir resolves the index directory against base when it is relative.
func (c *Config) IndexDir(base string) string {
	if filepath.IsAbs(c.Index.Dir) {
		return c.Index.Dir
	}
	return filepath.Join(base, c.Index.Dir)
}

// EmbedConfig returns the embedder settings.
func (c *Config) EmbedConfig() embed.Config {
	return embed.Config{
		Provider:      c.Embeddings.Provider,
		Model:         c.Embeddings.Model,
		OllamaHost:    c.Embeddings.OllamaHost,
		OpenAIBaseURL: c.Embeddings.OpenAIBaseURL,
		OpenAIAPIKey:  c.Embeddings.OpenAIAPIKey,
		Dimensions:    c.Embeddings.Dimensions,
		BatchSize:     c.Embeddings.BatchSize,
		CacheSize:     c.Embeddings.CacheSize,
	}
}

// BuildOptions returns the index build and load options.
func (c *Config) BuildOptions() store.BuildOptions {
	opts := store.DefaultBuildOptions()
	opts.DenseBackend = c.Index.DenseBackend
	opts.BM25.K1 = c.BM25.K1
	opts.BM25.B = c.BM25.B
	opts.BM25.IDF = store.IDFVariant(strings.ToLower(c.BM25.IDF))
	if c.Index.HNSWM > 0 {
		opts.HNSW.M = c.Index.HNSWM
	}
	if c.Index.HNSWEfSearch > 0 {
		opts.HNSW.EfSearch = c.Index.HNSWEfSearch
	}
	return opts
}

// SearchDefaults returns the retriever defaults.
func (c *Config) SearchDefaults() search.Defaults {
	return search.Defaults{
		TopKEach: c.Search.TopKEach,
		RRFK:     c.Search.RRFK,
		TopN:     c.Search.TopN,
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# hybridrag configuration\n# Precedence: defaults < user config < project config < .env < HYBRIDRAG_* env\n\n")
	data = append(header, data...)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
