package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"policyrag/internal/domain"
)

// Config holds all configuration for the policy assistant.
type Config struct {
	Index      IndexConfig      `yaml:"index"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Memory     MemoryConfig     `yaml:"memory"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// IndexConfig holds chunking and vector index configuration.
type IndexConfig struct {
	Path         string   `yaml:"path"`   // base path; .vec and .meta are appended
	Metric       string   `yaml:"metric"` // "cosine" or "l2"
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	TopK int `yaml:"top_k"`
	// RelevanceThreshold is a minimum similarity for cosine and a maximum
	// distance for l2.
	RelevanceThreshold float64       `yaml:"relevance_threshold"`
	QueryCacheTTL      time.Duration `yaml:"query_cache_ttl"` // 0 disables the cache
}

// MemoryConfig holds conversation memory configuration.
type MemoryConfig struct {
	Path        string `yaml:"path"` // empty keeps history in memory only
	MaxTurns    int    `yaml:"max_turns"`
	RecentTurns int    `yaml:"recent_turns"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // "openai", "ollama", "jina", "hash"
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	BaseURL           string        `yaml:"base_url"`
	Dimension         int           `yaml:"dimension"` // 0 derives it from the model
	BatchSize         int           `yaml:"batch_size"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// GenerationConfig holds language model configuration.
type GenerationConfig struct {
	Provider          string        `yaml:"provider"` // "openai", "ollama", "deepseek"
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	BaseURL           string        `yaml:"base_url"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	FallbackAnswer    string        `yaml:"fallback_answer"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	BodyLimit int    `yaml:"body_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // rotated JSON log; empty disables
	JSON  bool   `yaml:"json"` // JSON console output
}

// DefaultFallbackAnswer is returned when no policy passage is relevant.
const DefaultFallbackAnswer = "I don't have policy information on that. Please contact HR for help with this question."

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Path:         filepath.Join(".policyrag", "index"),
			Metric:       string(domain.MetricCosine),
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Includes:     []string{"**/*.txt", "**/*.md"},
			Excludes:     []string{"**/.git/**", "**/.policyrag/**", "**/node_modules/**"},
		},
		Retrieve: RetrieveConfig{
			TopK:               3,
			RelevanceThreshold: 0.7,
			QueryCacheTTL:      5 * time.Minute,
		},
		Memory: MemoryConfig{
			Path:        filepath.Join(".policyrag", "conversations.db"),
			MaxTurns:    20,
			RecentTurns: 5,
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			APIKeyEnv:   "OPENAI_API_KEY",
			BatchSize:   100,
			Concurrency: 4,
			Timeout:     60 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			APIKeyEnv:      "OPENAI_API_KEY",
			Temperature:    0.1,
			MaxTokens:      500,
			Timeout:        120 * time.Second,
			FallbackAnswer: DefaultFallbackAnswer,
		},
		Server: ServerConfig{
			Addr:      ":8000",
			BodyLimit: 10 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for policyrag.yaml).
// Relative paths in the result are resolved against dir.
func LoadFromDir(dir string) (*Config, error) {
	cfg := DefaultConfig()
	var err error

	path := filepath.Join(dir, "policyrag.yaml")
	if _, statErr := os.Stat(path); statErr == nil {
		cfg, err = Load(path)
	} else if path = filepath.Join(dir, ".policyrag", "config.yaml"); fileExists(path) {
		cfg, err = Load(path)
	}
	if err != nil {
		return nil, err
	}

	cfg.ResolvePaths(dir)
	return cfg, nil
}

// ResolvePaths makes the index, memory and log paths absolute relative to dir.
func (c *Config) ResolvePaths(dir string) {
	c.Index.Path = resolve(dir, c.Index.Path)
	c.Memory.Path = resolve(dir, c.Memory.Path)
	c.Logging.File = resolve(dir, c.Logging.File)
}

// Validate checks the values the retrieval core depends on.
func (c *Config) Validate() error {
	if _, err := domain.ParseMetric(c.Index.Metric); err != nil {
		return err
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("%w: index.chunk_size must be positive, got %d", domain.ErrConfig, c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("%w: index.chunk_overlap must be in [0, %d), got %d", domain.ErrConfig, c.Index.ChunkSize, c.Index.ChunkOverlap)
	}
	if c.Retrieve.TopK <= 0 {
		return fmt.Errorf("%w: retrieve.top_k must be positive, got %d", domain.ErrConfig, c.Retrieve.TopK)
	}
	if c.Memory.MaxTurns <= 0 {
		return fmt.Errorf("%w: memory.max_turns must be positive, got %d", domain.ErrConfig, c.Memory.MaxTurns)
	}
	if c.Memory.RecentTurns < 0 {
		return fmt.Errorf("%w: memory.recent_turns must not be negative", domain.ErrConfig)
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("%w: embedding.dimension must not be negative, got %d", domain.ErrConfig, c.Embedding.Dimension)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureDirs creates the parent directories of the index and memory files.
func (c *Config) EnsureDirs() error {
	for _, p := range []string{c.Index.Path, c.Memory.Path, c.Logging.File} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return err
		}
	}
	return nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
