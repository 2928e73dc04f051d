package parsing

import (
	"strings"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// detectModality applies the precedence from §4.1 step 3: explicit
// in-string modality token > caller hint > inference from technique.
// Mammography tokens resolve to modality XR with technique "mammography".
func (p *Parser) detectModality(preprocessed string, tokens map[string]struct{}, hint domain.Modality) domain.Modality {
	if m, ok := p.explicitModalityToken(tokens, preprocessed); ok {
		return m
	}
	if hint.IsValid() && hint != domain.ModalityNone {
		return hint
	}
	return p.inferModalityFromTechnique(preprocessed)
}

func (p *Parser) explicitModalityToken(tokens map[string]struct{}, preprocessed string) (domain.Modality, bool) {
	for _, entry := range p.modalityTokens {
		for _, kw := range entry.keywords {
			kw = strings.ToLower(kw)
			if _, ok := tokens[kw]; ok || (strings.Contains(kw, " ") && strings.Contains(preprocessed, kw)) {
				return entry.modality, true
			}
		}
	}
	return domain.ModalityNone, false
}

func (p *Parser) inferModalityFromTechnique(preprocessed string) domain.Modality {
	for _, kw := range p.cfg.TechniqueKeywords["barium study"] {
		if strings.Contains(preprocessed, strings.ToLower(kw)) {
			return domain.ModalityFluoroscopy
		}
	}
	for _, kw := range p.cfg.TechniqueKeywords["dexa"] {
		if strings.Contains(preprocessed, strings.ToLower(kw)) {
			return domain.ModalityDEXA
		}
	}
	for _, kw := range p.cfg.TechniqueKeywords["mammography"] {
		if strings.Contains(preprocessed, strings.ToLower(kw)) {
			return domain.ModalityXR
		}
	}
	return domain.ModalityNone
}

// extractAnatomy does a longest-match scan against the configured
// vocabulary, preserving the cranial-to-caudal order the vocabulary list
// itself encodes, and de-duplicating repeated mentions.
func (p *Parser) extractAnatomy(preprocessed string) *domain.OrderedSet {
	result := domain.NewOrderedSet()
	terms := make([]string, len(p.anatomyTerms))
	copy(terms, p.anatomyTerms)
	sortByLengthDesc(terms)

	remaining := preprocessed
	matched := make(map[string]struct{})
	for _, term := range terms {
		if strings.Contains(remaining, strings.ToLower(term)) {
			matched[term] = struct{}{}
			remaining = strings.ReplaceAll(remaining, strings.ToLower(term), " ")
		}
	}
	// Preserve vocabulary order (cranial-to-caudal) rather than match order.
	for _, term := range p.anatomyTerms {
		if _, ok := matched[term]; ok {
			result.Add(term)
		}
	}
	return result
}

func sortByLengthDesc(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && len(ss[j-1]) < len(ss[j]); j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// detectLaterality returns the first of {bilateral, left, right} present,
// else "none". bilat/bilateral/both all resolve to bilateral.
func (p *Parser) detectLaterality(tokens map[string]struct{}, preprocessed string) domain.Laterality {
	if containsAny(tokens, preprocessed, p.cfg.LateralityKeywords["bilateral"]) {
		return domain.LateralityBilateral
	}
	if containsAny(tokens, preprocessed, p.cfg.LateralityKeywords["left"]) {
		return domain.LateralityLeft
	}
	if containsAny(tokens, preprocessed, p.cfg.LateralityKeywords["right"]) {
		return domain.LateralityRight
	}
	return domain.LateralityNone
}

// detectContrast resolves "with contrast" / "without contrast" / both ->
// with-and-without, else none. Contrast terms are never also counted as
// technique.
func (p *Parser) detectContrast(preprocessed string) domain.Contrast {
	hasWithout := containsAny(nil, preprocessed, p.cfg.ContrastKeywords["without"])
	hasWith := containsAny(nil, preprocessed, p.cfg.ContrastKeywords["with"])

	switch {
	case hasWith && hasWithout:
		return domain.ContrastWithAndWithout
	case hasWith:
		return domain.ContrastWith
	case hasWithout:
		return domain.ContrastWithout
	default:
		return domain.ContrastNone
	}
}

// extractTechnique matches against the curated technique keyword table.
func (p *Parser) extractTechnique(preprocessed string) *domain.OrderedSet {
	result := domain.NewOrderedSet()
	for technique, keywords := range p.cfg.TechniqueKeywords {
		if containsAny(nil, preprocessed, keywords) {
			result.Add(technique)
		}
	}
	return result
}

func (p *Parser) detectGenderContext(preprocessed string) domain.GenderContext {
	if containsAny(nil, preprocessed, p.cfg.GenderContextKeywords["pregnancy"]) {
		return domain.GenderPregnancy
	}
	if containsAny(nil, preprocessed, p.cfg.GenderContextKeywords["female"]) {
		return domain.GenderFemale
	}
	if containsAny(nil, preprocessed, p.cfg.GenderContextKeywords["male"]) {
		return domain.GenderMale
	}
	return domain.GenderNone
}

func (p *Parser) detectAgeContext(preprocessed string) domain.AgeContext {
	if containsAny(nil, preprocessed, p.cfg.AgeContextKeywords["paediatric"]) {
		return domain.AgePaediatric
	}
	if containsAny(nil, preprocessed, p.cfg.AgeContextKeywords["adult"]) {
		return domain.AgeAdult
	}
	return domain.AgeNone
}

func (p *Parser) extractClinicalContext(preprocessed string) *domain.OrderedSet {
	result := domain.NewOrderedSet()
	for ctx, keywords := range p.cfg.ClinicalContextKeywords {
		if containsAny(nil, preprocessed, keywords) {
			result.Add(ctx)
		}
	}
	return result
}

func containsAny(tokens map[string]struct{}, preprocessed string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if tokens != nil {
			if _, ok := tokens[kw]; ok {
				return true
			}
		}
		if strings.Contains(preprocessed, kw) {
			return true
		}
	}
	return false
}
