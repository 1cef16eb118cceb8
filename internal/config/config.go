// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Completion CompletionConfig `yaml:"completion"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Crawler    CrawlerConfig    `yaml:"crawler"`
	Translate  TranslateConfig  `yaml:"translate"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig holds the collection store location. An empty DataDir selects
// the in-memory store, used in tests and throwaway runs.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// CompletionConfig holds completion service settings.
type CompletionConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	AnswerCacheSize int    `yaml:"answer_cache_size"`
}

// ChunkingConfig holds chunker budgets.
type ChunkingConfig struct {
	MaxTokens    int `yaml:"max_tokens"`
	OverlapLines int `yaml:"overlap_lines"`
	MaxChars     int `yaml:"max_chars"`
}

// RetrievalConfig holds ranking and context assembly settings.
type RetrievalConfig struct {
	TopK             int     `yaml:"top_k"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
	CannedThreshold  float64 `yaml:"canned_threshold"`
}

// CrawlerConfig bounds link crawls.
type CrawlerConfig struct {
	MaxDepth int `yaml:"max_depth"`
	MaxPages int `yaml:"max_pages"`
}

// TranslateConfig holds translation service settings. An empty BaseURL
// disables translation.
type TranslateConfig struct {
	BaseURL        string `yaml:"base_url"`
	SplitThreshold int    `yaml:"split_threshold"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if cfg.Store.DataDir != "" {
		cfg.Store.DataDir = expandPath(cfg.Store.DataDir, filepath.Dir(path))
	}
	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
