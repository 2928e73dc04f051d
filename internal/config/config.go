package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/radstandard/exam-standardizer/internal/domain"
	"github.com/spf13/viper"
)

// Manager implements domain.ConfigManager using Viper. The loaded Config is
// held behind an atomic.Pointer so that Reload can build a new tree and
// swap it in without any reader ever observing a partially-updated
// configuration, and without holding a lock across the reload's file I/O.
type Manager struct {
	current atomic.Pointer[domain.Config]
}

// NewManager loads configuration from file, environment and built-in
// defaults, validates it, and returns a ready Manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, domain.NewPipelineError(domain.ErrConfigError, "failed to load configuration", err)
	}
	if err := m.Validate(m.Current()); err != nil {
		return nil, domain.NewPipelineError(domain.ErrConfigError, "configuration validation failed", err)
	}
	return m, nil
}

func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/exam-standardizer/")

	viper.SetEnvPrefix("EXAMSTD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &domain.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.current.Store(cfg)
	return nil
}

func (m *Manager) setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "exam_standardizer")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("cache.redis_url", "redis://localhost:6379")
	viper.SetDefault("cache.default_ttl", "24h")
	viper.SetDefault("cache.max_retries", 3)
	viper.SetDefault("cache.pool_size", 10)
	viper.SetDefault("cache.pool_timeout", "4s")
	viper.SetDefault("cache.request_cache_size", 5000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	viper.SetDefault("mcp.server_name", "exam-standardizer")
	viper.SetDefault("mcp.server_version", "0.1.0")
	viper.SetDefault("mcp.transport_type", "stdio")
	viper.SetDefault("mcp.http_port", 8081)
	viper.SetDefault("mcp.http_host", "0.0.0.0")
	viper.SetDefault("mcp.request_timeout", "30s")

	viper.SetDefault("blob_store.backend", "fs")
	viper.SetDefault("blob_store.base_dir", "./data/blobs")
	viper.SetDefault("blob_store.bucket", "")

	viper.SetDefault("retrieval.default_retriever_id", "medical-cross-encoder-v1")
	viper.SetDefault("retrieval.embedding_dimension", 384)
	viper.SetDefault("retrieval.top_k_retrieve", 25)
	viper.SetDefault("retrieval.top_n_candidates", 5)
	viper.SetDefault("retrieval.confidence_floor", 0.35)
	viper.SetDefault("retrieval.catalog_path", "./data/catalog.json")
	viper.SetDefault("retrieval.index_blob_key", "indices")

	viper.SetDefault("rerank.default_reranker_id", "cross_encoder")
	viper.SetDefault("rerank.max_candidates", 25)
	viper.SetDefault("rerank.weight_rerank", 0.6)
	viper.SetDefault("rerank.weight_component", 0.4)
	viper.SetDefault("rerank.llm_prompt_template", defaultLLMPromptTemplate)
	viper.SetDefault("rerank.llm_model", "gpt-4o-mini")

	viper.SetDefault("alignment.weight_modality", 0.30)
	viper.SetDefault("alignment.weight_anatomy", 0.25)
	viper.SetDefault("alignment.weight_laterality", 0.15)
	viper.SetDefault("alignment.weight_contrast", 0.15)
	viper.SetDefault("alignment.weight_technique", 0.10)
	viper.SetDefault("alignment.weight_context", 0.05)

	viper.SetDefault("batch.chunk_size", 50)
	viper.SetDefault("batch.max_concurrent_chunks", 4)
	viper.SetDefault("batch.inline_result_limit", 20)

	viper.SetDefault("embedding.timeout", "10s")
	viper.SetDefault("embedding.max_elapsed", "60s")
	viper.SetDefault("embedding.max_retries", 5)
	viper.SetDefault("embedding.embed_batch_size", 32)
	viper.SetDefault("embedding.score_batch_size", 25)
	viper.SetDefault("embedding.rate_limit_per_sec", 10.0)

	viper.SetDefault("parsing.missing_modality_penalty", 0.3)
	viper.SetDefault("parsing.empty_anatomy_penalty", 0.3)
	viper.SetDefault("parsing.interventional_techniques", []string{
		"angioplasty", "embolization", "stent placement", "interventional",
	})
	viper.SetDefault("parsing.diagnostic_modalities", []string{
		"CT", "MR", "US", "XR", "NM", "Fluoroscopy", "DEXA", "Mammography",
	})
}

const defaultLLMPromptTemplate = `You are ranking candidate radiology procedure names against a query exam description.
Return a JSON array of {"index": int, "score": float in [0,1], "reason": string}, one entry per candidate, same length and order as given. Return JSON only.`

// Current returns the active configuration. Safe for concurrent use.
func (m *Manager) Current() *domain.Config {
	return m.current.Load()
}

// Reload rebuilds the configuration tree from file/env/defaults and swaps
// it in atomically. Readers holding the previous pointer are unaffected.
func (m *Manager) Reload() error {
	if err := m.loadConfig(); err != nil {
		return err
	}
	return m.Validate(m.Current())
}

// Validate checks structural invariants of cfg: required fields, and that
// the component-alignment weights sum to one.
func (m *Manager) Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
	}

	sum := cfg.Alignment.WeightModality + cfg.Alignment.WeightAnatomy +
		cfg.Alignment.WeightLaterality + cfg.Alignment.WeightContrast +
		cfg.Alignment.WeightTechnique + cfg.Alignment.WeightContext
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("alignment weights must sum to 1, got %f", sum)
	}

	rerankSum := cfg.Rerank.WeightRerank + cfg.Rerank.WeightComponent
	if rerankSum < 0.999 || rerankSum > 1.001 {
		return fmt.Errorf("rerank/component weights must sum to 1, got %f", rerankSum)
	}

	return nil
}

// Fingerprint hashes the subset of configuration that affects parsing and
// embeddings: abbreviation tables, vocabulary, keyword tables, and the
// retrieval model identity/dimension. Combined downstream with the
// reference catalog's content hash to form the full IndexVersion
// fingerprint (see internal/retrieval.ComputeFingerprint).
func (m *Manager) Fingerprint() string {
	cfg := m.Current()
	payload := struct {
		Parsing            domain.ParsingConfig
		RetrieverID        string
		EmbeddingDimension int
	}{
		Parsing:            cfg.Parsing,
		RetrieverID:        cfg.Retrieval.DefaultRetrieverID,
		EmbeddingDimension: cfg.Retrieval.EmbeddingDimension,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		// Marshal of a plain config struct cannot fail; treat as invariant.
		panic(fmt.Sprintf("config fingerprint: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// GetDatabaseConnectionString returns a formatted database connection string.
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.Current().Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the configured Redis URL.
func (m *Manager) GetRedisConnectionString() string {
	return m.Current().Cache.RedisURL
}
