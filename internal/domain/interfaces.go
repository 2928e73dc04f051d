package domain

import "context"

// SemanticParser turns a raw exam string and caller-provided modality hint
// into a ParsedExam. Pure and deterministic: implementations must never
// raise for any input, including the empty string.
type SemanticParser interface {
	Parse(raw string, modalityHint Modality) ParsedExam
}

// Catalog exposes the pre-parsed authoritative procedure list.
type Catalog interface {
	Lookup(id string) (ReferenceEntry, bool)
	All() []ReferenceEntry
	ContentHash() string
}

// EmbeddingClient is a thin remote client for a feature-extraction and
// cross-encoder-scoring endpoint. Stateless from the caller's perspective:
// implementations never cache.
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ScorePairs(ctx context.Context, query string, documents []string) ([]float64, error)
}

// VectorIndex is a dense nearest-neighbor structure over L2-normalized
// reference-entry embeddings.
type VectorIndex interface {
	Build(ids []string, vectors [][]float32) error
	Save(sink interface{ Write([]byte) (int, error) }) error
	Load(source interface{ Read([]byte) (int, error) }) error
	TopK(query []float32, k int) ([]ScoredID, error)
	Version() IndexVersion
}

// ScoredID is one nearest-neighbor hit: a reference entry id and its
// inner-product similarity to the query vector.
type ScoredID struct {
	ID         string
	Similarity float64
}

// Reranker re-scores retrieved candidates against the parsed query. The
// two concrete families (cross-encoder, LLM) are dispatched through this
// single interface rather than an inheritance hierarchy, selected by a
// kind tag at request time.
type Reranker interface {
	Kind() string
	Rerank(ctx context.Context, queryParsed ParsedExam, candidates []Candidate) ([]Candidate, error)
}

// ValidationCache is the human-in-the-loop overlay consulted before
// retrieval: approved mappings short-circuit the pipeline, rejected
// mappings are filtered out of the candidate set.
type ValidationCache interface {
	Approved(requestKey string) (ReferenceEntry, bool)
	RejectedIDs(requestKey string) []string
	Reload(ctx context.Context) (approvedCount, rejectedCount int, err error)
}

// BlobStore is the minimal get/put-by-key abstraction standing in for the
// out-of-scope remote object store used to persist the vector index,
// batch results, config and validation caches.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ConfigManager loads, validates and hot-reloads the Config tree.
// Post-load the Config itself is immutable; Reload swaps in a new
// instance atomically.
type ConfigManager interface {
	Current() *Config
	Reload() error
	Validate(cfg *Config) error
	Fingerprint() string
}
