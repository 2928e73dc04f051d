// This file contains the lightweight configuration for standalone
// operation without Postgres/Redis: a single data directory backs the
// blob store and the modernc.org/sqlite fallback for batch job
// persistence.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LiteConfig is a simplified configuration for standalone operation. It
// requires no external databases and uses sensible defaults.
type LiteConfig struct {
	DataDir string

	RequestCacheSize int
	RequestCacheTTL  time.Duration

	EmbeddingBaseURL string
	EmbeddingAPIKey  string

	Transport string // "stdio", "http"
	HTTPPort  int

	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".exam-standardizer")

	return &LiteConfig{
		DataDir:          dataDir,
		RequestCacheSize: 1000,
		RequestCacheTTL:  24 * time.Hour,
		Transport:        "stdio",
		HTTPPort:         8081,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig loads configuration from environment variables, falling
// back to defaults for anything unset.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("EXAMSTD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EXAMSTD_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestCacheSize = n
		}
	}
	if v := os.Getenv("EXAMSTD_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RequestCacheTTL = d
		}
	}

	cfg.EmbeddingBaseURL = os.Getenv("EXAMSTD_EMBEDDING_BASE_URL")
	cfg.EmbeddingAPIKey = os.Getenv("EXAMSTD_EMBEDDING_API_KEY")

	if v := os.Getenv("EXAMSTD_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("EXAMSTD_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("EXAMSTD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EXAMSTD_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// SqlitePath returns the path to the standalone sqlite database used for
// batch job persistence when Postgres is absent.
func (c *LiteConfig) SqlitePath() string {
	return filepath.Join(c.DataDir, "exam-standardizer.db")
}

// BlobDir returns the directory backing the filesystem blob store.
func (c *LiteConfig) BlobDir() string {
	return filepath.Join(c.DataDir, "blobs")
}

// EnsureDataDir creates the data directory and its subdirectories.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.BlobDir(), 0755)
}
