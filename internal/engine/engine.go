package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// LookupEngine orchestrates the full standardize_exam pipeline (§4.7):
// validation short-circuit, parse, retrieve, rerank, component-alignment
// scoring, clinical-safety vetoes, fused scoring and winner selection.
type LookupEngine struct {
	parser     domain.SemanticParser
	catalog    domain.Catalog
	embedding  domain.EmbeddingClient
	index      domain.VectorIndex
	reranker   domain.Reranker
	validation domain.ValidationCache
	cfg        domain.Config
	logger     *logrus.Logger
}

// New builds a LookupEngine from its collaborators and the current config.
func New(
	parser domain.SemanticParser,
	catalog domain.Catalog,
	embedding domain.EmbeddingClient,
	index domain.VectorIndex,
	reranker domain.Reranker,
	validation domain.ValidationCache,
	cfg domain.Config,
	logger *logrus.Logger,
) *LookupEngine {
	return &LookupEngine{
		parser:     parser,
		catalog:    catalog,
		embedding:  embedding,
		index:      index,
		reranker:   reranker,
		validation: validation,
		cfg:        cfg,
		logger:     logger,
	}
}

// RequestKey hashes the inputs that identify a standardize_exam request for
// the human-in-the-loop validation overlay (§4.8).
func RequestKey(rawExam string, modalityHint domain.Modality, dataSource string) string {
	sum := sha256.Sum256([]byte(rawExam + "|" + string(modalityHint) + "|" + dataSource))
	return hex.EncodeToString(sum[:])
}

// StandardizeExam runs the 9-step algorithm from §4.7 and returns a
// MatchResult for one raw exam name.
func (e *LookupEngine) StandardizeExam(ctx context.Context, rawExam string, modalityHint domain.Modality, dataSource string) (domain.MatchResult, error) {
	requestKey := RequestKey(rawExam, modalityHint, dataSource)

	// Step 1: validation short-circuit.
	if entry, ok := e.validation.Approved(requestKey); ok {
		parsed := e.parser.Parse(rawExam, modalityHint)
		winner := domain.Candidate{
			Entry:       entry,
			DenseScore:  1.0,
			RerankScore: floatPtr(1.0),
			FinalScore:  1.0,
		}
		return domain.MatchResult{
			Input:            parsed,
			Winner:           &winner,
			AllCandidates:    []domain.Candidate{winner},
			CleanName:        entry.CleanName,
			Snomed:           domain.SNOMEDRef{ID: entry.SnomedConceptID, FSN: entry.SnomedFSN},
			Confidence:       1.0,
			ValidationStatus: domain.ValidationApprovedByHuman,
		}, nil
	}
	rejectedIDs := e.validation.RejectedIDs(requestKey)

	// Step 2: parse.
	parsed := e.parser.Parse(rawExam, modalityHint)

	// Step 3: retrieve.
	vectors, err := e.embedding.Embed(ctx, []string{parsed.Preprocessed})
	if err != nil {
		return domain.MatchResult{}, domain.NewPipelineError(domain.ErrRemoteFailure, "embedding request failed", err)
	}
	if len(vectors) != 1 {
		return domain.MatchResult{}, domain.NewPipelineError(domain.ErrRemoteFailure, "embedding client returned an unexpected vector count", nil)
	}

	topK := e.cfg.Retrieval.TopKRetrieve
	if topK <= 0 {
		topK = 20
	}
	hits, err := e.index.TopK(vectors[0], topK)
	if err != nil {
		return domain.MatchResult{}, domain.NewPipelineError(domain.ErrInternal, "vector index lookup failed", err)
	}

	// Step 4: rejection filter.
	rejected := toSet(rejectedIDs)
	candidates := make([]domain.Candidate, 0, len(hits))
	for _, hit := range hits {
		if _, ok := rejected[hit.ID]; ok {
			continue
		}
		entry, ok := e.catalog.Lookup(hit.ID)
		if !ok {
			continue
		}
		if _, ok := rejected[entry.SnomedConceptID]; ok {
			continue
		}
		candidates = append(candidates, domain.Candidate{Entry: entry, DenseScore: clamp01(hit.Similarity)})
	}

	if len(candidates) == 0 {
		return domain.MatchResult{
			Input:            parsed,
			Winner:           nil,
			AllCandidates:    nil,
			Confidence:       0,
			ValidationStatus: domain.ValidationNone,
		}, nil
	}

	// Step 5: rerank.
	candidates, err = e.reranker.Rerank(ctx, parsed, candidates)
	if err != nil {
		return domain.MatchResult{}, domain.NewPipelineError(domain.ErrRemoteFailure, "rerank stage failed", err)
	}

	// Step 6: component-alignment scoring and clinical-safety vetoes.
	for i := range candidates {
		score, _ := componentScore(parsed, candidates[i].Entry.Parsed, e.cfg.Alignment)
		candidates[i].ComponentScore = score

		verdict := checkVetoes(parsed, candidates[i].Entry.Parsed)
		candidates[i].Vetoed = verdict.Vetoed
		candidates[i].VetoReason = verdict.Reason
	}

	// Step 7: fused scoring.
	weightRerank := e.cfg.Rerank.WeightRerank
	weightComponent := e.cfg.Rerank.WeightComponent
	for i := range candidates {
		rerankScore := candidates[i].DenseScore
		if candidates[i].RerankScore != nil {
			rerankScore = *candidates[i].RerankScore
		}
		if candidates[i].Vetoed {
			candidates[i].FinalScore = 0
			continue
		}
		candidates[i].FinalScore = weightRerank*rerankScore + weightComponent*candidates[i].ComponentScore
	}

	// Step 8: winner selection, tie-break (final_score desc, dense_score
	// desc, entry.id asc).
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].FinalScore != candidates[j].FinalScore {
			return candidates[i].FinalScore > candidates[j].FinalScore
		}
		if candidates[i].DenseScore != candidates[j].DenseScore {
			return candidates[i].DenseScore > candidates[j].DenseScore
		}
		return candidates[i].Entry.ID < candidates[j].Entry.ID
	})

	topN := e.cfg.Retrieval.TopNCandidates
	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}

	var winner *domain.Candidate
	for i := range candidates {
		if !candidates[i].Vetoed {
			winner = &candidates[i]
			break
		}
	}

	// Step 9: emit MatchResult.
	result := domain.MatchResult{
		Input:         parsed,
		AllCandidates: candidates,
		ValidationStatus: domain.ValidationAuto,
	}

	if winner == nil {
		result.Confidence = 0
		return result, nil
	}

	confidenceFloor := e.cfg.Retrieval.ConfidenceFloor
	if winner.FinalScore < confidenceFloor {
		result.Confidence = winner.FinalScore
		return result, nil
	}

	result.Winner = winner
	result.CleanName = winner.Entry.CleanName
	result.Snomed = domain.SNOMEDRef{ID: winner.Entry.SnomedConceptID, FSN: winner.Entry.SnomedFSN}
	result.Confidence = winner.FinalScore
	return result, nil
}

func floatPtr(f float64) *float64 { return &f }

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

// clamp01 clamps a raw similarity or score value to the [0,1] range the
// domain model documents for dense_score and rerank_score.
func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
