// Package rerank implements the two Reranker variants behind one
// interface (§4.6, §9): MedicalCrossEncoder (batched remote scoring) and
// LLMReranker (structured prompt + parsed JSON response), selected at
// request time by a "kind" tag rather than an inheritance hierarchy.
package rerank

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

const (
	KindCrossEncoder = "cross_encoder"
	KindLLM          = "llm"
)

// buildDocument is the shared document string construction for a
// candidate: clean_name + " | " + snomed_fsn, matching ReferenceEntry's
// own EmbeddingText convention.
func buildDocument(entry domain.ReferenceEntry) string {
	return entry.EmbeddingText()
}

// LLMClient is the minimal chat-completion surface LLMReranker needs.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// New selects a Reranker implementation by kind.
func New(kind string, embeddingClient domain.EmbeddingClient, llmClient LLMClient, cfg domain.RerankConfig, logger *logrus.Logger) (domain.Reranker, error) {
	switch kind {
	case KindCrossEncoder, "":
		return NewMedicalCrossEncoder(embeddingClient), nil
	case KindLLM:
		return NewLLMReranker(llmClient, cfg, logger), nil
	default:
		return nil, domain.NewPipelineError(domain.ErrInternal, "unknown reranker kind: "+kind, nil)
	}
}
