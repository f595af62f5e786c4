// Package config holds justmemory's process-wide configuration: a
// yaml.v3-backed struct with a DefaultConfig factory, loaded once at startup
// and threaded through component constructors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all justmemory configuration.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Vector     VectorConfig     `yaml:"vector"`
	Writer     WriterConfig     `yaml:"writer"`
	ClaudeDesktopMode bool      `yaml:"claude_desktop_mode"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Consolidator ConsolidatorConfig `yaml:"consolidator"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EmbeddingConfig selects the embedding provider and derives vector dimension.
type EmbeddingConfig struct {
	// Provider is "small" (384-dim) or "large" (1024-dim).
	Provider string `yaml:"provider"`
	// Endpoint is the Ollama server address the embedder talks to.
	Endpoint string `yaml:"endpoint"`
	// Model is the Ollama embedding model name.
	Model string `yaml:"model"`
}

// Dimension returns the fixed embedding dimension D for the configured provider.
func (e EmbeddingConfig) Dimension() int {
	if e.Provider == "large" {
		return 1024
	}
	return 384
}

// VectorConfig selects the vector store backend.
type VectorConfig struct {
	// Backend is "auto", "sqlite-vec", or "exact".
	Backend string `yaml:"backend"`
}

// WriterConfig bounds write concurrency against the Storage Layer.
type WriterConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"`
}

// GatewayConfig sets the Model Gateway's per-call hard timeouts.
type GatewayConfig struct {
	EmbedTimeout     time.Duration `yaml:"embed_timeout"`
	NLITimeout       time.Duration `yaml:"nli_timeout"`
	SummarizeTimeout time.Duration `yaml:"summarize_timeout"`
	// NLIModel and SummarizerModel name the Ollama chat models used for the
	// lazy capabilities; empty disables the capability (NotAvailable).
	NLIModel        string `yaml:"nli_model"`
	SummarizerModel string `yaml:"summarizer_model"`
}

// EffectiveEmbedTimeout caps the embed timeout at ~5s in Claude Desktop mode.
func (c *Config) EffectiveEmbedTimeout() time.Duration {
	if c.ClaudeDesktopMode && c.Gateway.EmbedTimeout > 5*time.Second {
		return 5 * time.Second
	}
	return c.Gateway.EmbedTimeout
}

// ConsolidatorConfig tunes the background consolidation timer.
type ConsolidatorConfig struct {
	Interval      time.Duration `yaml:"interval"`
	IdleThreshold time.Duration `yaml:"idle_threshold"`
	PruneToolLogsDays int       `yaml:"prune_tool_logs_days"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns justmemory's default configuration.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir: dataDir,
		Embedding: EmbeddingConfig{
			Provider: "small",
			Endpoint: "http://localhost:11434",
			Model:    "embeddinggemma",
		},
		Vector: VectorConfig{
			Backend: "auto",
		},
		Writer: WriterConfig{
			MaxConcurrency: 1,
		},
		ClaudeDesktopMode: false,
		Gateway: GatewayConfig{
			EmbedTimeout:     15 * time.Second,
			NLITimeout:       10 * time.Second,
			SummarizeTimeout: 30 * time.Second,
			NLIModel:         "",
			SummarizerModel:  "",
		},
		Consolidator: ConsolidatorConfig{
			Interval:          10 * time.Minute,
			IdleThreshold:     5 * time.Minute,
			PruneToolLogsDays: 30,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".justmemory")
	}
	return ".justmemory"
}

// Load reads configuration from a YAML file, falling back to defaults (plus
// environment overrides) if the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration back to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("JUSTMEMORY_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if provider := os.Getenv("JUSTMEMORY_EMBEDDING_PROVIDER"); provider != "" {
		c.Embedding.Provider = provider
	}
	if backend := os.Getenv("JUSTMEMORY_VECTOR_BACKEND"); backend != "" {
		c.Vector.Backend = backend
	}
	if os.Getenv("JUSTMEMORY_CLAUDE_DESKTOP") == "1" {
		c.ClaudeDesktopMode = true
	}
}

// BackupDir is the isolated directory backup artifacts are written to and
// restore paths are validated against.
func (c *Config) BackupDir() string {
	return filepath.Join(c.DataDir, "backups")
}

// DBPath is the single database file for this deployment.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "justmemory.db")
}

// Validate rejects configuration that cannot start the process.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "small", "large":
	default:
		return fmt.Errorf("invalid embedding provider: %s (valid: small, large)", c.Embedding.Provider)
	}
	switch c.Vector.Backend {
	case "auto", "sqlite-vec", "exact":
	default:
		return fmt.Errorf("invalid vector backend: %s (valid: auto, sqlite-vec, exact)", c.Vector.Backend)
	}
	if c.Writer.MaxConcurrency < 1 {
		return fmt.Errorf("writer max_concurrency must be >= 1")
	}
	return nil
}
