package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// LLMReranker builds a single prompt listing the query and every
// candidate, and requires the model to return a JSON array of
// {index, score, reason} (§4.6.2). On a malformed response it retries
// once with a stricter instruction; on second failure it falls back to
// rerank_score = dense_score and logs, per spec, rather than failing the
// request.
type LLMReranker struct {
	client LLMClient
	cfg    domain.RerankConfig
	logger *logrus.Logger
}

// NewLLMReranker builds an LLMReranker.
func NewLLMReranker(client LLMClient, cfg domain.RerankConfig, logger *logrus.Logger) *LLMReranker {
	return &LLMReranker{client: client, cfg: cfg, logger: logger}
}

// Kind identifies this reranker variant.
func (r *LLMReranker) Kind() string { return KindLLM }

type llmScoreEntry struct {
	Index  int     `json:"index"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Rerank prompts the LLM for a scored reordering, capping the candidate
// count sent per the configured MaxCandidates to bound latency.
func (r *LLMReranker) Rerank(ctx context.Context, queryParsed domain.ParsedExam, candidates []domain.Candidate) ([]domain.Candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	capped := candidates
	maxCandidates := r.cfg.MaxCandidates
	if maxCandidates > 0 && len(capped) > maxCandidates {
		capped = capped[:maxCandidates]
	}

	prompt := r.buildPrompt(queryParsed, capped)
	entries, err := r.promptAndParse(ctx, prompt)
	var scored []domain.Candidate
	if err == nil {
		scored, err = applyScores(candidates, capped, entries)
	}
	if err != nil {
		prompt = r.buildStrictPrompt(queryParsed, capped)
		entries, err = r.promptAndParse(ctx, prompt)
		if err == nil {
			scored, err = applyScores(candidates, capped, entries)
		}
	}

	if err != nil {
		if r.logger != nil {
			r.logger.WithError(err).Warn("llm reranker malformed response, falling back to dense_score")
		}
		return fallbackToDenseScore(candidates), nil
	}
	return scored, nil
}

func (r *LLMReranker) promptAndParse(ctx context.Context, prompt string) ([]llmScoreEntry, error) {
	raw, err := r.client.Complete(ctx, prompt)
	if err != nil {
		return nil, domain.NewPipelineError(domain.ErrRemoteFailure, "llm reranker call failed", err)
	}

	entries, err := parseScoreArray(raw)
	if err != nil {
		return nil, domain.NewPipelineError(domain.ErrRerankerMalformed, "llm reranker returned unparseable JSON", err)
	}
	return entries, nil
}

var jsonArrayRe = regexp.MustCompile(`(?s)\[.*\]`)

func parseScoreArray(raw string) ([]llmScoreEntry, error) {
	match := jsonArrayRe.FindString(raw)
	if match == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	var entries []llmScoreEntry
	if err := json.Unmarshal([]byte(match), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *LLMReranker) buildPrompt(queryParsed domain.ParsedExam, candidates []domain.Candidate) string {
	var sb strings.Builder
	if r.cfg.LLMPromptTemplate != "" {
		sb.WriteString(r.cfg.LLMPromptTemplate)
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Query: %s\n\n", queryParsed.Preprocessed))
	for i, c := range candidates {
		sb.WriteString(fmt.Sprintf(
			"%d. clean_name=%q snomed_fsn=%q anatomy=%v modality=%s laterality=%s contrast=%s\n",
			i, c.Entry.CleanName, c.Entry.SnomedFSN, c.Entry.Parsed.Anatomy.Items(),
			c.Entry.Parsed.Modality, c.Entry.Parsed.Laterality, c.Entry.Parsed.Contrast,
		))
	}
	return sb.String()
}

func (r *LLMReranker) buildStrictPrompt(queryParsed domain.ParsedExam, candidates []domain.Candidate) string {
	return r.buildPrompt(queryParsed, candidates) + "\nReturn ONLY a JSON array, no prose, no markdown fences."
}

func applyScores(all []domain.Candidate, capped []domain.Candidate, entries []llmScoreEntry) ([]domain.Candidate, error) {
	if len(entries) != len(capped) {
		return nil, domain.NewPipelineError(domain.ErrRerankerMalformed, "llm reranker returned a mismatched entry count", nil)
	}

	scoreByIndex := make(map[int]float64, len(entries))
	for _, e := range entries {
		scoreByIndex[e.Index] = e.Score
	}

	out := make([]domain.Candidate, len(all))
	copy(out, all)
	for i := range capped {
		score, ok := scoreByIndex[i]
		if !ok {
			return nil, domain.NewPipelineError(domain.ErrRerankerMalformed, "llm reranker response missing an index", nil)
		}
		score = clamp01(score)
		out[i].RerankScore = &score
	}
	return out, nil
}

// clamp01 clamps a raw score to the [0,1] range rerank_score documents.
func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func fallbackToDenseScore(candidates []domain.Candidate) []domain.Candidate {
	out := make([]domain.Candidate, len(candidates))
	for i, c := range candidates {
		dense := c.DenseScore
		c.RerankScore = &dense
		out[i] = c
	}
	return out
}

var _ domain.Reranker = (*LLMReranker)(nil)
