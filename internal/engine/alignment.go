// Package engine implements LookupEngine (§4.7): the core orchestration
// that ties SemanticParser, ValidationCache, VectorIndex, Reranker and
// component-alignment scoring together into standardize_exam.
package engine

import (
	"github.com/radstandard/exam-standardizer/internal/domain"
)

// componentScore computes the per-dimension alignment breakdown between
// the query and a candidate entry, then applies the configured weights
// (§4.7 step 5).
func componentScore(query domain.ParsedExam, entry domain.ParsedExam, weights domain.AlignmentConfig) (float64, domain.AlignmentBreakdown) {
	breakdown := domain.AlignmentBreakdown{
		ModalityMatch:    modalityMatch(query, entry),
		AnatomyOverlap:   query.Anatomy.JaccardOverlap(entry.Anatomy),
		LateralityMatch:  lateralityMatch(query.Laterality, entry.Laterality),
		ContrastMatch:    contrastMatch(query.Contrast, entry.Contrast),
		TechniqueOverlap: query.Technique.JaccardOverlap(entry.Technique),
		ContextMatch:     contextMatch(query, entry),
	}
	return breakdown.Weighted(weights), breakdown
}

func modalityMatch(query, entry domain.ParsedExam) float64 {
	if query.Modality == domain.ModalityNone || entry.Modality == domain.ModalityNone {
		return 0
	}
	if query.Modality == entry.Modality {
		return 1
	}
	return 0
}

// lateralityMatch treats "none" as a wildcard on either side.
func lateralityMatch(a, b domain.Laterality) float64 {
	if a == domain.LateralityNone || b == domain.LateralityNone {
		return 1
	}
	if a == b {
		return 1
	}
	return 0
}

// contrastMatch treats with-and-without as subsuming both with and
// without.
func contrastMatch(a, b domain.Contrast) float64 {
	if a == domain.ContrastNone || b == domain.ContrastNone {
		return 1
	}
	if a == domain.ContrastWithAndWithout || b == domain.ContrastWithAndWithout {
		return 1
	}
	if a == b {
		return 1
	}
	return 0
}

func contextMatch(query, entry domain.ParsedExam) float64 {
	matches := 0
	total := 0

	total++
	if query.GenderContext == entry.GenderContext || query.GenderContext == domain.GenderNone || entry.GenderContext == domain.GenderNone {
		matches++
	}
	total++
	if query.AgeContext == entry.AgeContext || query.AgeContext == domain.AgeNone || entry.AgeContext == domain.AgeNone {
		matches++
	}

	if total == 0 {
		return 1
	}
	return float64(matches) / float64(total)
}

// modalityEquivalenceGroups are sets of modalities the veto check treats
// as non-conflicting even though they differ textually.
var modalityEquivalenceGroups = [][]domain.Modality{
	{domain.ModalityXR, domain.ModalityMammography},
}

func modalitiesConflict(query, entry domain.Modality) bool {
	if query == domain.ModalityNone || entry == domain.ModalityNone {
		return false
	}
	if query == entry {
		return false
	}
	for _, group := range modalityEquivalenceGroups {
		if containsModality(group, query) && containsModality(group, entry) {
			return false
		}
	}
	return true
}

func containsModality(group []domain.Modality, m domain.Modality) bool {
	for _, g := range group {
		if g == m {
			return true
		}
	}
	return false
}

// pairedAnatomy lists anatomical terms that are inherently bilateral
// structures, used to decide whether a query's bilateral laterality
// conflicts with a single-sided candidate.
var pairedAnatomy = map[string]struct{}{
	"knee": {}, "hip": {}, "shoulder": {}, "kidney": {}, "lung": {},
	"hand": {}, "foot": {}, "wrist": {}, "ankle": {}, "breast": {},
}

func anatomyIsPaired(anatomy *domain.OrderedSet) bool {
	if anatomy == nil {
		return false
	}
	for _, term := range anatomy.Items() {
		if _, ok := pairedAnatomy[term]; ok {
			return true
		}
	}
	return false
}

// checkVetoes applies the four clinical-safety hard vetoes from §4.7
// step 6. Exactly one VetoVerdict is returned; the first triggered
// condition wins.
func checkVetoes(query domain.ParsedExam, entry domain.ParsedExam) domain.VetoVerdict {
	if modalitiesConflict(query.Modality, entry.Modality) {
		return domain.VetoVerdict{Vetoed: true, Reason: domain.VetoModalityConflict}
	}

	if lateralityConflicts(query.Laterality, entry.Laterality, entry.Anatomy) {
		return domain.VetoVerdict{Vetoed: true, Reason: domain.VetoLateralityConflict}
	}

	if contrastConflicts(query.Contrast, entry.Contrast) {
		return domain.VetoVerdict{Vetoed: true, Reason: domain.VetoContrastConflict}
	}

	if interventionalConflicts(query, entry) {
		return domain.VetoVerdict{Vetoed: true, Reason: domain.VetoInterventionalConflict}
	}

	return domain.VetoVerdict{}
}

func lateralityConflicts(query, entry domain.Laterality, entryAnatomy *domain.OrderedSet) bool {
	if (query == domain.LateralityLeft && entry == domain.LateralityRight) ||
		(query == domain.LateralityRight && entry == domain.LateralityLeft) {
		return true
	}
	if query == domain.LateralityBilateral && (entry == domain.LateralityLeft || entry == domain.LateralityRight) {
		return anatomyIsPaired(entryAnatomy)
	}
	if entry == domain.LateralityBilateral && (query == domain.LateralityLeft || query == domain.LateralityRight) {
		return anatomyIsPaired(entryAnatomy)
	}
	return false
}

func contrastConflicts(query, entry domain.Contrast) bool {
	if query == domain.ContrastWithAndWithout || entry == domain.ContrastWithAndWithout {
		return false
	}
	return (query == domain.ContrastWith && entry == domain.ContrastWithout) ||
		(query == domain.ContrastWithout && entry == domain.ContrastWith)
}

func interventionalConflicts(query, entry domain.ParsedExam) bool {
	if query.IsInterventional == entry.IsInterventional {
		return false
	}
	return query.HasInterventionalEvidence || entry.HasInterventionalEvidence
}
