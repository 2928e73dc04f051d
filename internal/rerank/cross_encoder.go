package rerank

import (
	"context"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// MedicalCrossEncoder scores each candidate against the query via a
// remote cross-encoder endpoint (§4.6.1). Stateless: holds only the
// EmbeddingClient it delegates to.
type MedicalCrossEncoder struct {
	embeddingClient domain.EmbeddingClient
}

// NewMedicalCrossEncoder builds a MedicalCrossEncoder over client.
func NewMedicalCrossEncoder(client domain.EmbeddingClient) *MedicalCrossEncoder {
	return &MedicalCrossEncoder{embeddingClient: client}
}

// Kind identifies this reranker variant.
func (m *MedicalCrossEncoder) Kind() string { return KindCrossEncoder }

// Rerank scores [query, candidate] pairs via ScorePairs and assigns
// rerank_score, preserving input order (ScorePairs returns scores
// positionally, so no re-sort is needed to preserve ties).
func (m *MedicalCrossEncoder) Rerank(ctx context.Context, queryParsed domain.ParsedExam, candidates []domain.Candidate) ([]domain.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = buildDocument(c.Entry)
	}

	scores, err := m.embeddingClient.ScorePairs(ctx, queryParsed.Preprocessed, documents)
	if err != nil {
		return nil, domain.NewPipelineError(domain.ErrRemoteFailure, "cross-encoder scoring failed", err)
	}
	if len(scores) != len(candidates) {
		return nil, domain.NewPipelineError(domain.ErrRerankerMalformed, "cross-encoder returned a mismatched score count", nil)
	}

	out := make([]domain.Candidate, len(candidates))
	for i, c := range candidates {
		score := scores[i]
		c.RerankScore = &score
		out[i] = c
	}
	return out, nil
}

var _ domain.Reranker = (*MedicalCrossEncoder)(nil)
