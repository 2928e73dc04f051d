// Package parsing implements the deterministic, rule-driven SemanticParser
// (§4.1): abbreviation expansion, modality/anatomy/laterality/contrast/
// technique/context extraction, and parse-confidence scoring. Every table
// the extractors consult comes from domain.ParsingConfig — none of it is
// hard-coded — so a config reload changes parsing behavior without a
// code change.
package parsing

import (
	"regexp"
	"sort"
	"strings"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// Parser implements domain.SemanticParser. It holds no mutable state;
// Parse is a pure function of its input and the Config it was built with.
type Parser struct {
	cfg domain.ParsingConfig

	abbreviations      []abbreviationEntry
	anatomyTerms       []string
	interventionalSet  map[string]struct{}
	diagnosticSet      map[string]struct{}
	modalityTokens     []modalityKeywords
}

type abbreviationEntry struct {
	token      string
	expansion  string
}

// modalityKeywords pairs a modality with its keyword table, in a fixed
// order built once by New so explicit-token detection never depends on
// Go's randomized map iteration order.
type modalityKeywords struct {
	modality domain.Modality
	keywords []string
}

var trailingParenRe = regexp.MustCompile(`\([^)]*\)\s*$`)
var punctuationRe = regexp.MustCompile(`[/\-_]`)
var whitespaceRe = regexp.MustCompile(`\s+`)

// New builds a Parser from cfg. Abbreviation tokens are pre-sorted
// longest-first so expansion is longest-token-first per the spec's step 2.
func New(cfg domain.ParsingConfig) *Parser {
	p := &Parser{
		cfg:               cfg,
		anatomyTerms:      make([]string, len(cfg.AnatomyVocabulary)),
		interventionalSet: toSet(cfg.InterventionalTechniques),
		diagnosticSet:     toSet(cfg.DiagnosticModalities),
	}
	copy(p.anatomyTerms, cfg.AnatomyVocabulary)

	for token, expansion := range cfg.Abbreviations {
		p.abbreviations = append(p.abbreviations, abbreviationEntry{token: token, expansion: expansion})
	}
	sort.Slice(p.abbreviations, func(i, j int) bool {
		return len(p.abbreviations[i].token) > len(p.abbreviations[j].token)
	})

	modalityKeys := make([]string, 0, len(cfg.ModalityTokens))
	for modality := range cfg.ModalityTokens {
		modalityKeys = append(modalityKeys, modality)
	}
	sort.Strings(modalityKeys)
	for _, modality := range modalityKeys {
		p.modalityTokens = append(p.modalityTokens, modalityKeywords{
			modality: domain.Modality(modality),
			keywords: cfg.ModalityTokens[modality],
		})
	}

	return p
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[strings.ToLower(it)] = struct{}{}
	}
	return out
}

// Parse turns raw + modalityHint into a ParsedExam. Never raises: an empty
// input yields a ParsedExam with confidence 0; any other input is scored by
// the missing-modality and empty-anatomy penalties in confidence.
func (p *Parser) Parse(raw string, modalityHint domain.Modality) domain.ParsedExam {
	exam := domain.EmptyParsedExam()
	exam.Raw = raw
	exam.ModalityHint = modalityHint

	preprocessed := p.normalize(raw)
	preprocessed = p.expandAbbreviations(preprocessed)
	exam.Preprocessed = preprocessed

	tokens := whitespaceRe.Split(strings.TrimSpace(preprocessed), -1)
	tokenSet := toSet(tokens)

	exam.Modality = p.detectModality(preprocessed, tokenSet, modalityHint)
	exam.Anatomy = p.extractAnatomy(preprocessed)
	exam.Laterality = p.detectLaterality(tokenSet, preprocessed)
	exam.Contrast = p.detectContrast(preprocessed)
	exam.Technique = p.extractTechnique(preprocessed)
	exam.GenderContext = p.detectGenderContext(preprocessed)
	exam.AgeContext = p.detectAgeContext(preprocessed)
	exam.ClinicalContext = p.extractClinicalContext(preprocessed)

	exam.HasInterventionalEvidence = p.hasInterventionalEvidence(exam)
	exam.IsInterventional = exam.HasInterventionalEvidence || exam.Modality == domain.ModalityXA
	exam.IsDiagnostic = !exam.IsInterventional && p.isDiagnosticModality(exam.Modality)

	exam.Confidence = p.confidence(exam)
	if preprocessed == "" {
		exam.Confidence = 0
	}

	return exam
}

// normalize lowercases, collapses whitespace, turns separator punctuation
// into spaces, and strips a trailing parenthetical note.
func (p *Parser) normalize(raw string) string {
	s := strings.ToLower(raw)
	s = trailingParenRe.ReplaceAllString(s, "")
	s = punctuationRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// expandAbbreviations replaces whole tokens with their expansion,
// longest-token-first, never overwriting a token already in the anatomy
// vocabulary.
func (p *Parser) expandAbbreviations(s string) string {
	if s == "" {
		return s
	}
	anatomySet := toSet(p.anatomyTerms)

	for _, entry := range p.abbreviations {
		s = replaceWholeToken(s, entry.token, entry.expansion, anatomySet)
	}
	return whitespaceRe.ReplaceAllString(s, " ")
}

var tokenBoundary = `\b`

func replaceWholeToken(s, token, expansion string, protect map[string]struct{}) string {
	if _, protected := protect[token]; protected {
		return s
	}
	pattern := tokenBoundary + regexp.QuoteMeta(token) + tokenBoundary
	re, err := regexp.Compile(pattern)
	if err != nil {
		return s
	}
	return re.ReplaceAllString(s, expansion)
}

func (p *Parser) hasInterventionalEvidence(exam domain.ParsedExam) bool {
	for _, t := range exam.Technique.Items() {
		if _, ok := p.interventionalSet[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

func (p *Parser) isDiagnosticModality(m domain.Modality) bool {
	_, ok := p.diagnosticSet[strings.ToLower(string(m))]
	return ok
}

// confidence starts at 1.0 and subtracts configured penalties for a
// missing modality or empty anatomy, floored at 0.
func (p *Parser) confidence(exam domain.ParsedExam) float64 {
	c := 1.0
	if exam.Modality == domain.ModalityNone {
		c -= p.cfg.MissingModalityPenalty
	}
	if exam.Anatomy.Len() == 0 {
		c -= p.cfg.EmptyAnatomyPenalty
	}
	if c < 0 {
		c = 0
	}
	return c
}

var _ domain.SemanticParser = (*Parser)(nil)
