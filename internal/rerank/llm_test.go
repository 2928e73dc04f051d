package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

type stubLLMClient struct {
	responses []string
	calls     int
	err       error
}

func (s *stubLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	if s.err != nil {
		s.calls++
		return "", s.err
	}
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

func TestLLMReranker_ParsesValidJSONArray(t *testing.T) {
	client := &stubLLMClient{responses: []string{
		`[{"index":0,"score":0.95,"reason":"modality and anatomy match"},{"index":1,"score":0.2,"reason":"different anatomy"}]`,
	}}
	reranker := NewLLMReranker(client, domain.RerankConfig{MaxCandidates: 25}, nil)

	out, err := reranker.Rerank(context.Background(), domain.ParsedExam{Preprocessed: "ct chest"}, candidatesFixture())
	require.NoError(t, err)
	require.NotNil(t, out[0].RerankScore)
	assert.Equal(t, 0.95, *out[0].RerankScore)
	assert.Equal(t, 0.2, *out[1].RerankScore)
}

func TestLLMReranker_RetriesOnceThenFallsBackToDenseScore(t *testing.T) {
	client := &stubLLMClient{responses: []string{"not json at all", "still not json"}}
	reranker := NewLLMReranker(client, domain.RerankConfig{MaxCandidates: 25}, nil)

	candidates := candidatesFixture()
	out, err := reranker.Rerank(context.Background(), domain.ParsedExam{}, candidates)
	require.NoError(t, err)
	require.NotNil(t, out[0].RerankScore)
	assert.Equal(t, candidates[0].DenseScore, *out[0].RerankScore)
	assert.Equal(t, candidates[1].DenseScore, *out[1].RerankScore)
	assert.Equal(t, 2, client.calls, "expected exactly one retry after the first malformed response")
}

func TestLLMReranker_WrongEntryCountFallsBackToDenseScore(t *testing.T) {
	// Both attempts return syntactically valid JSON, but with fewer entries
	// than candidates sent — a parse-layer success, but a scoring-layer
	// mismatch that must still route through the soft fallback.
	client := &stubLLMClient{responses: []string{
		`[{"index":0,"score":0.9,"reason":"only one entry"}]`,
		`[{"index":0,"score":0.9,"reason":"still only one entry"}]`,
	}}
	reranker := NewLLMReranker(client, domain.RerankConfig{MaxCandidates: 25}, nil)

	candidates := candidatesFixture()
	out, err := reranker.Rerank(context.Background(), domain.ParsedExam{}, candidates)
	require.NoError(t, err)
	require.NotNil(t, out[0].RerankScore)
	require.NotNil(t, out[1].RerankScore)
	assert.Equal(t, candidates[0].DenseScore, *out[0].RerankScore)
	assert.Equal(t, candidates[1].DenseScore, *out[1].RerankScore)
}

func TestLLMReranker_MissingIndexFallsBackToDenseScore(t *testing.T) {
	// Valid JSON, correct entry count, but an index that doesn't match any
	// candidate — applyScores must fail and Rerank must still soft-fallback.
	client := &stubLLMClient{responses: []string{
		`[{"index":0,"score":0.9,"reason":"ok"},{"index":5,"score":0.1,"reason":"wrong index"}]`,
	}}
	reranker := NewLLMReranker(client, domain.RerankConfig{MaxCandidates: 25}, nil)

	candidates := candidatesFixture()
	out, err := reranker.Rerank(context.Background(), domain.ParsedExam{}, candidates)
	require.NoError(t, err)
	require.NotNil(t, out[0].RerankScore)
	assert.Equal(t, candidates[0].DenseScore, *out[0].RerankScore)
	assert.Equal(t, candidates[1].DenseScore, *out[1].RerankScore)
}

func TestLLMReranker_RemoteErrorAlsoFallsBackToDenseScore(t *testing.T) {
	client := &stubLLMClient{err: errors.New("connection refused")}
	reranker := NewLLMReranker(client, domain.RerankConfig{MaxCandidates: 25}, nil)

	candidates := candidatesFixture()
	out, err := reranker.Rerank(context.Background(), domain.ParsedExam{}, candidates)
	require.NoError(t, err)
	assert.Equal(t, candidates[0].DenseScore, *out[0].RerankScore)
}

func TestLLMReranker_CapsCandidateCount(t *testing.T) {
	client := &stubLLMClient{responses: []string{`[{"index":0,"score":0.5,"reason":"ok"}]`}}
	reranker := NewLLMReranker(client, domain.RerankConfig{MaxCandidates: 1}, nil)

	out, err := reranker.Rerank(context.Background(), domain.ParsedExam{}, candidatesFixture())
	require.NoError(t, err)
	require.NotNil(t, out[0].RerankScore)
	assert.Equal(t, 0.5, *out[0].RerankScore)
}
