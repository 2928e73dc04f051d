package domain

import "time"

// Config is the root of the application configuration tree, loaded and
// validated by config.Manager (spf13/viper) and held immutable once loaded;
// reloads produce a new instance swapped in atomically.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	BlobStore  BlobStoreConfig  `mapstructure:"blob_store"`
	Parsing    ParsingConfig    `mapstructure:"parsing"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Rerank     RerankConfig     `mapstructure:"rerank"`
	Alignment  AlignmentConfig  `mapstructure:"alignment"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
}

// ServerConfig is HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig is the batch-job and validation-record persistence store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig configures the distributed request/result cache tier.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	// RequestCacheSize bounds the in-process LRU described in §4.10.
	RequestCacheSize int `mapstructure:"request_cache_size"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MCPConfig configures the MCP tool transport that exposes standardize_exam
// and process_batch alongside the HTTP surface.
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	TransportType  string        `mapstructure:"transport_type"` // "stdio", "http"
	HTTPPort       int           `mapstructure:"http_port"`
	HTTPHost       string        `mapstructure:"http_host"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BlobStoreConfig configures the remote object store collaborator that
// persists the index, batch results, config and validation caches.
type BlobStoreConfig struct {
	Backend string `mapstructure:"backend"` // "fs", "s3"
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
}

// ParsingConfig drives the SemanticParser's deterministic extractors. Per
// the resolved Open Question in §9, the interventional/diagnostic evidence
// sets and every keyword table are configuration, never hard-coded.
type ParsingConfig struct {
	Abbreviations             map[string]string   `mapstructure:"abbreviations"`
	AnatomyVocabulary         []string            `mapstructure:"anatomy_vocabulary"`
	LateralityKeywords        map[string][]string `mapstructure:"laterality_keywords"`
	ContrastKeywords          map[string][]string `mapstructure:"contrast_keywords"`
	TechniqueKeywords         map[string][]string `mapstructure:"technique_keywords"`
	GenderContextKeywords     map[string][]string `mapstructure:"gender_context_keywords"`
	AgeContextKeywords        map[string][]string `mapstructure:"age_context_keywords"`
	ClinicalContextKeywords   map[string][]string `mapstructure:"clinical_context_keywords"`
	ModalityTokens            map[string][]string `mapstructure:"modality_tokens"`
	InterventionalTechniques  []string            `mapstructure:"interventional_techniques"`
	DiagnosticModalities      []string            `mapstructure:"diagnostic_modalities"`
	MissingModalityPenalty    float64             `mapstructure:"missing_modality_penalty"`
	EmptyAnatomyPenalty       float64             `mapstructure:"empty_anatomy_penalty"`
}

// RetrievalConfig tunes the dense retrieval stage.
type RetrievalConfig struct {
	DefaultRetrieverID string  `mapstructure:"default_retriever_id"`
	EmbeddingDimension int     `mapstructure:"embedding_dimension"`
	TopKRetrieve       int     `mapstructure:"top_k_retrieve"`
	TopNCandidates     int     `mapstructure:"top_n_candidates"`
	ConfidenceFloor    float64 `mapstructure:"confidence_floor"`
	CatalogPath        string  `mapstructure:"catalog_path"`
	// IndexBlobKey is the blob store key prefix; the full key is
	// prefix/retriever_id/fingerprint (see retrieval.BlobKey).
	IndexBlobKey       string  `mapstructure:"index_blob_key"`
}

// RerankConfig selects and tunes the active reranker.
type RerankConfig struct {
	DefaultRerankerID string  `mapstructure:"default_reranker_id"`
	MaxCandidates     int     `mapstructure:"max_candidates"`
	WeightRerank      float64 `mapstructure:"weight_rerank"`
	WeightComponent   float64 `mapstructure:"weight_component"`
	LLMPromptTemplate string  `mapstructure:"llm_prompt_template"`
	LLMModel          string  `mapstructure:"llm_model"`
}

// AlignmentConfig holds the component-alignment scoring weights. They must
// sum to 1; ConfigManager.Validate enforces this.
type AlignmentConfig struct {
	WeightModality   float64 `mapstructure:"weight_modality"`
	WeightAnatomy    float64 `mapstructure:"weight_anatomy"`
	WeightLaterality float64 `mapstructure:"weight_laterality"`
	WeightContrast   float64 `mapstructure:"weight_contrast"`
	WeightTechnique  float64 `mapstructure:"weight_technique"`
	WeightContext    float64 `mapstructure:"weight_context"`
}

// BatchConfig tunes the batch orchestrator.
type BatchConfig struct {
	ChunkSize           int `mapstructure:"chunk_size"`
	MaxConcurrentChunks int `mapstructure:"max_concurrent_chunks"`
	InlineResultLimit   int `mapstructure:"inline_result_limit"`
}

// EmbeddingConfig configures the remote embedding/cross-encoder endpoint
// client: batching, retries, and per-call timeouts.
type EmbeddingConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxElapsed       time.Duration `mapstructure:"max_elapsed"`
	MaxRetries       int           `mapstructure:"max_retries"`
	EmbedBatchSize   int           `mapstructure:"embed_batch_size"`
	ScoreBatchSize   int           `mapstructure:"score_batch_size"`
	RateLimitPerSec  float64       `mapstructure:"rate_limit_per_sec"`
}
