package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the grounded Q&A engine.
type Config struct {
	Ingest     IngestConfig     `yaml:"ingest"`
	Retrieve   RetrieveConfig   `yaml:"retrieve"`
	Context    ContextConfig    `yaml:"context"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Grounding  GroundingConfig  `yaml:"grounding"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// IngestConfig holds chunking and file-selection configuration.
type IngestConfig struct {
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	ChunkSize    int      `yaml:"chunk_size"`    // target chunk size in tokens
	ChunkOverlap int      `yaml:"chunk_overlap"` // overlap in tokens, within one structural unit
	MinBlock     int      `yaml:"min_block"`     // blocks shorter than this merge into a neighbor
}

// RetrieveConfig holds fusion weights and retrieval parameters.
// The three weights must sum to 1.0; Validate enforces this at startup.
type RetrieveConfig struct {
	TopK             int     `yaml:"top_k"`
	OverfetchFactor  int     `yaml:"overfetch_factor"`
	MinReliability   float64 `yaml:"min_reliability"`
	BM25Weight       float64 `yaml:"bm25_weight"`
	DenseWeight      float64 `yaml:"dense_weight"`
	StructuralWeight float64 `yaml:"structural_weight"`
	K1               float64 `yaml:"k1"`
	B                float64 `yaml:"b"`
	TimeoutSeconds   int     `yaml:"timeout_seconds"`
}

// ContextConfig holds context-assembly configuration.
type ContextConfig struct {
	TokenBudget int `yaml:"token_budget"`
	Window      int `yaml:"window"` // adjacent-chunk expansion radius, 0 = off
}

// EmbeddingConfig holds embedding service configuration.
type EmbeddingConfig struct {
	Provider        string `yaml:"provider"` // "openai", "jina", "ollama"
	Model           string `yaml:"model"`
	APIKeyEnv       string `yaml:"api_key_env"`
	BaseURL         string `yaml:"base_url"`
	Dimension       int    `yaml:"dimension"`
	BatchSize       int    `yaml:"batch_size"`
	CacheSize       int    `yaml:"cache_size"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// GenerationConfig holds generation gateway configuration.
type GenerationConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	Stream         bool    `yaml:"stream"`
}

// GroundingConfig holds the validation thresholds and accept/reject policy.
// The two similarity bounds are independently tunable: at or above the
// upper bound a claim is grounded, below the lower bound ungrounded, and
// between the two partially grounded.
type GroundingConfig struct {
	MinConfidence   float64 `yaml:"min_confidence"`
	LowerSimilarity float64 `yaml:"lower_similarity"`
	UpperSimilarity float64 `yaml:"upper_similarity"`
	Extractive      bool    `yaml:"extractive"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			Includes:     []string{"**/*.txt", "**/*.md"},
			Excludes:     []string{"**/.rlg/**", "**/.git/**"},
			ChunkSize:    512,
			ChunkOverlap: 50,
			MinBlock:     100,
		},
		Retrieve: RetrieveConfig{
			TopK:             5,
			OverfetchFactor:  4,
			MinReliability:   0.5,
			BM25Weight:       0.3,
			DenseWeight:      0.5,
			StructuralWeight: 0.2,
			K1:               1.2,
			B:                0.75,
			TimeoutSeconds:   10,
		},
		Context: ContextConfig{
			TokenBudget: 4000,
			Window:      0,
		},
		Embedding: EmbeddingConfig{
			Provider:        "ollama",
			Model:           "nomic-embed-text",
			APIKeyEnv:       "OPENAI_API_KEY",
			Dimension:       768,
			BatchSize:       32,
			CacheSize:       512,
			CacheTTLSeconds: 300,
		},
		Generation: GenerationConfig{
			BaseURL:        "http://localhost:11434",
			Model:          "mistral",
			Temperature:    0.1,
			MaxTokens:      1024,
			TimeoutSeconds: 120,
			MaxRetries:     3,
			Stream:         true,
		},
		Grounding: GroundingConfig{
			MinConfidence:   0.7,
			LowerSimilarity: 0.4,
			UpperSimilarity: 0.7,
			Extractive:      false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

const weightTolerance = 1e-6

// Validate checks configuration invariants. It runs once at startup; any
// violation is rejected before serving.
func (c *Config) Validate() error {
	sum := c.Retrieve.BM25Weight + c.Retrieve.DenseWeight + c.Retrieve.StructuralWeight
	if math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("retrieval weights must sum to 1.0, got %.4f", sum)
	}
	if c.Retrieve.BM25Weight < 0 || c.Retrieve.DenseWeight < 0 || c.Retrieve.StructuralWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.Retrieve.OverfetchFactor < 2 {
		return fmt.Errorf("overfetch_factor must be at least 2, got %d", c.Retrieve.OverfetchFactor)
	}
	if c.Retrieve.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.Retrieve.TopK)
	}
	if c.Retrieve.MinReliability < 0 || c.Retrieve.MinReliability > 1 {
		return fmt.Errorf("min_reliability must be in [0,1], got %.4f", c.Retrieve.MinReliability)
	}
	if c.Grounding.MinConfidence < 0 || c.Grounding.MinConfidence > 1 {
		return fmt.Errorf("grounding min_confidence must be in [0,1], got %.4f", c.Grounding.MinConfidence)
	}
	if c.Grounding.LowerSimilarity < 0 || c.Grounding.UpperSimilarity > 1 ||
		c.Grounding.LowerSimilarity > c.Grounding.UpperSimilarity {
		return fmt.Errorf("similarity bounds must satisfy 0 <= lower <= upper <= 1")
	}
	if c.Ingest.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embedding.Dimension)
	}
	return nil
}

// Load loads configuration from a YAML file, applying defaults first.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for rlg.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "rlg.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".rlg", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	return cfg, cfg.Validate()
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexDBPath returns the path to the index database.
func IndexDBPath(dir string) string {
	return filepath.Join(dir, ".rlg", "index.db")
}

// EnsureDataDir ensures the .rlg directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".rlg"), 0755)
}
