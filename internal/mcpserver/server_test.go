package mcpserver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radstandard/exam-standardizer/internal/batch"
	"github.com/radstandard/exam-standardizer/internal/domain"
	"github.com/radstandard/exam-standardizer/internal/engine"
	"github.com/radstandard/exam-standardizer/internal/requestcache"
)

type fakeParser struct{}

func (fakeParser) Parse(raw string, hint domain.Modality) domain.ParsedExam {
	p := domain.EmptyParsedExam()
	p.Raw = raw
	p.Preprocessed = raw
	p.Modality = hint
	p.ModalityHint = hint
	p.IsDiagnostic = true
	return p
}

type fakeCatalog struct {
	entries map[string]domain.ReferenceEntry
}

func (c *fakeCatalog) Lookup(id string) (domain.ReferenceEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}
func (c *fakeCatalog) All() []domain.ReferenceEntry {
	out := make([]domain.ReferenceEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	return out
}
func (c *fakeCatalog) ContentHash() string { return "fake-catalog" }

type fakeEmbedding struct{}

func (fakeEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (fakeEmbedding) ScorePairs(ctx context.Context, query string, documents []string) ([]float64, error) {
	return nil, nil
}

type fakeIndex struct {
	hits []domain.ScoredID
}

func (i *fakeIndex) Build(ids []string, vectors [][]float32) error                  { return nil }
func (i *fakeIndex) Save(sink interface{ Write([]byte) (int, error) }) error        { return nil }
func (i *fakeIndex) Load(source interface{ Read([]byte) (int, error) }) error       { return nil }
func (i *fakeIndex) TopK(query []float32, k int) ([]domain.ScoredID, error)         { return i.hits, nil }
func (i *fakeIndex) Version() domain.IndexVersion                                  { return domain.IndexVersion{Fingerprint: "fp"} }

type passthroughReranker struct{}

func (passthroughReranker) Kind() string { return "passthrough" }
func (passthroughReranker) Rerank(ctx context.Context, query domain.ParsedExam, candidates []domain.Candidate) ([]domain.Candidate, error) {
	return candidates, nil
}

type fakeValidationCache struct{}

func (fakeValidationCache) Approved(requestKey string) (domain.ReferenceEntry, bool) { return domain.ReferenceEntry{}, false }
func (fakeValidationCache) RejectedIDs(requestKey string) []string                   { return nil }
func (fakeValidationCache) Reload(ctx context.Context) (int, int, error)             { return 0, 0, nil }

type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore { return &fakeBlobStore{data: make(map[string][]byte)} }

func (b *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.data[key]
	if !ok {
		return nil, assert.AnError
	}
	return d, nil
}
func (b *fakeBlobStore) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = data
	return nil
}
func (b *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok, nil
}

type fakeConfigManager struct {
	cfg domain.Config
}

func (f *fakeConfigManager) Current() *domain.Config         { return &f.cfg }
func (f *fakeConfigManager) Reload() error                    { return nil }
func (f *fakeConfigManager) Validate(cfg *domain.Config) error { return nil }
func (f *fakeConfigManager) Fingerprint() string              { return "fp-test" }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	entry := domain.ReferenceEntry{
		ID:        "entry-1",
		CleanName: "CT Chest without contrast",
		Parsed: domain.ParsedExam{
			Modality:        domain.ModalityCT,
			Anatomy:         domain.NewOrderedSet("chest"),
			Laterality:      domain.LateralityNone,
			Contrast:        domain.ContrastWithout,
			Technique:       domain.NewOrderedSet(),
			GenderContext:   domain.GenderNone,
			AgeContext:      domain.AgeNone,
			ClinicalContext: domain.NewOrderedSet(),
			IsDiagnostic:    true,
		},
	}

	catalog := &fakeCatalog{entries: map[string]domain.ReferenceEntry{"entry-1": entry}}
	index := &fakeIndex{hits: []domain.ScoredID{{ID: "entry-1", Similarity: 0.9}}}
	validation := fakeValidationCache{}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg := domain.Config{
		Retrieval: domain.RetrievalConfig{DefaultRetrieverID: "bge-small", TopKRetrieve: 10, TopNCandidates: 5, ConfidenceFloor: 0.1},
		Rerank:    domain.RerankConfig{WeightRerank: 0.6, WeightComponent: 0.4},
		Alignment: domain.AlignmentConfig{WeightModality: 0.3, WeightAnatomy: 0.3, WeightLaterality: 0.15, WeightContrast: 0.1, WeightTechnique: 0.1, WeightContext: 0.05},
		Batch:     domain.BatchConfig{ChunkSize: 2, MaxConcurrentChunks: 2},
		MCP:       domain.MCPConfig{ServerName: "exam-standardizer", ServerVersion: "test"},
	}

	lookupEngine := engine.New(fakeParser{}, catalog, fakeEmbedding{}, index, passthroughReranker{}, validation, cfg, logger)
	orchestrator := batch.New(lookupEngine, newFakeBlobStore(), cfg.Batch, logger)
	reqCache := requestcache.New(100)
	configManager := &fakeConfigManager{cfg: cfg}

	return NewServer(cfg.MCP, configManager, lookupEngine, orchestrator, reqCache, logger)
}

func TestStandardizeExam_RejectsEmptyExamName(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.standardizeExam(context.Background(), standardizeExamParams{ExamName: ""})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStandardizeExam_RejectsUnknownModality(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.standardizeExam(context.Background(), standardizeExamParams{ExamName: "ct chest", ModalityCode: "NOT_A_MODALITY"})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStandardizeExam_ReturnsMatchResultAsStructuredMeta(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.standardizeExam(context.Background(), standardizeExamParams{ExamName: "ct chest without contrast", ModalityCode: "CT"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NotNil(t, result.Meta)

	resp, ok := result.Meta["result"].(domain.MatchResultResponse)
	require.True(t, ok)
	assert.Equal(t, "CT Chest without contrast", resp.CleanName)
}

func TestProcessBatch_RejectsEmptyExamList(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.processBatch(context.Background(), processBatchParams{})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestProcessBatch_SubmitsJobAndReturnsJobID(t *testing.T) {
	srv := newTestServer(t)
	result, err := srv.processBatch(context.Background(), processBatchParams{
		Exams: []domain.ExamBatchItem{
			{ExamName: "ct chest", ModalityCode: "CT"},
			{ExamName: "mr brain", ModalityCode: "MR"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	job, ok := result.Meta["result"].(domain.BatchJob)
	require.True(t, ok)
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, 2, job.Total)
}

func TestErrorResult_MarksIsError(t *testing.T) {
	r := errorResult("boom")
	assert.True(t, r.IsError)
	data, err := json.Marshal(r.Content)
	require.NoError(t, err)
	assert.Contains(t, string(data), "boom")
}
