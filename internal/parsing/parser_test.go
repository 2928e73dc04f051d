package parsing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

func testConfig() domain.ParsingConfig {
	return domain.ParsingConfig{
		Abbreviations: map[string]string{
			"br":    "breast",
			"ugi":   "upper gi",
			"w":     "with",
			"c+":    "with contrast",
			"nc":    "non contrast",
			"bilat": "bilateral",
		},
		AnatomyVocabulary: []string{"chest", "abdomen", "pelvis", "breast", "renal arteries", "brain"},
		LateralityKeywords: map[string][]string{
			"bilateral": {"bilateral", "bilat", "both"},
			"left":      {"left", "lt"},
			"right":     {"right", "rt"},
		},
		ContrastKeywords: map[string][]string{
			"with":    {"with contrast", "w contrast"},
			"without": {"without contrast", "non contrast", "non-contrast", "w/o contrast"},
		},
		TechniqueKeywords: map[string][]string{
			"angiography":   {"angio", "angiography"},
			"hrct":          {"hrct"},
			"perfusion":     {"perfusion"},
			"mammography":   {"mammo", "mammography"},
			"dexa":          {"dexa"},
			"barium study":  {"ba swallow", "barium swallow", "barium study"},
			"interventional": {"interventional"},
		},
		GenderContextKeywords: map[string][]string{
			"pregnancy": {"pregnant", "pregnancy"},
			"female":    {"female"},
			"male":      {"male"},
		},
		AgeContextKeywords: map[string][]string{
			"paediatric": {"pediatric", "paediatric", "child"},
			"adult":      {"adult"},
		},
		ClinicalContextKeywords: map[string][]string{
			"emergency":  {"emergency", "stat"},
			"screening":  {"screening"},
			"follow-up":  {"follow up", "follow-up"},
			"intervention": {"intervention"},
		},
		ModalityTokens: map[string][]string{
			"CT": {"ct"},
			"MR": {"mri", "mr"},
			"US": {"us", "ultrasound"},
			"XR": {"xr", "x-ray", "xray"},
			"NM": {"nm"},
			"XA": {"xa"},
		},
		InterventionalTechniques: []string{"angioplasty", "embolization", "stent placement", "interventional"},
		DiagnosticModalities:     []string{"CT", "MR", "US", "XR", "NM", "Fluoroscopy", "DEXA", "Mammography"},
		MissingModalityPenalty:   0.3,
		EmptyAnatomyPenalty:      0.3,
	}
}

func TestParse_ExplicitModalityBeatsHint(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("CT CHEST W/ CONTRAST", domain.ModalityMR)
	assert.Equal(t, domain.ModalityCT, exam.Modality)
	assert.Equal(t, domain.ContrastWith, exam.Contrast)
	assert.Equal(t, []string{"chest"}, exam.Anatomy.Items())
}

func TestParse_HintUsedWhenNoExplicitToken(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("CHEST WITH CONTRAST", domain.ModalityCT)
	assert.Equal(t, domain.ModalityCT, exam.Modality)
}

func TestParse_InferredModalityFromBariumTechnique(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("BA SWALLOW", domain.ModalityNone)
	assert.Equal(t, domain.ModalityFluoroscopy, exam.Modality)
	assert.True(t, exam.Technique.Contains("barium study"))
	assert.False(t, exam.IsInterventional)
}

func TestParse_MammographyResolvesToXRModality(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("MAMMO LEFT", domain.Modality("MG"))
	assert.Equal(t, domain.ModalityXR, exam.Modality)
	assert.True(t, exam.Technique.Contains("mammography"))
	assert.Equal(t, domain.LateralityLeft, exam.Laterality)
}

func TestParse_BilateralTakesPrecedenceOverLeftRight(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("BILATERAL KNEE XR", domain.ModalityNone)
	assert.Equal(t, domain.LateralityBilateral, exam.Laterality)
}

func TestParse_ContrastBothYieldsWithAndWithout(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("CT ABDOMEN WITH CONTRAST AND WITHOUT CONTRAST", domain.ModalityCT)
	assert.Equal(t, domain.ContrastWithAndWithout, exam.Contrast)
}

func TestParse_InterventionalEvidenceSetsPredicates(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("CT ANGIO RENAL ARTERIES INTERVENTIONAL", domain.ModalityXA)
	assert.True(t, exam.IsInterventional)
	assert.True(t, exam.HasInterventionalEvidence)
	assert.False(t, exam.IsDiagnostic)
}

func TestParse_XAModalityAloneIsInterventionalWithoutEvidence(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("XA RENAL ARTERIES", domain.ModalityNone)
	assert.Equal(t, domain.Modality("XA"), exam.Modality)
	assert.True(t, exam.IsInterventional)
	assert.False(t, exam.HasInterventionalEvidence)
}

func TestParse_EmptyInputYieldsZeroConfidence(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("", domain.ModalityNone)
	assert.Equal(t, domain.ModalityNone, exam.Modality)
	assert.Equal(t, 0, exam.Anatomy.Len())
	assert.Equal(t, 0.0, exam.Confidence)
}

func TestParse_ConfidenceFullWhenModalityAndAnatomyPresent(t *testing.T) {
	p := New(testConfig())
	exam := p.Parse("CT CHEST", domain.ModalityNone)
	assert.Equal(t, 1.0, exam.Confidence)
}

func TestParse_AmbiguousModalityTokensResolveDeterministically(t *testing.T) {
	cfg := testConfig()
	for i := 0; i < 20; i++ {
		p := New(cfg)
		exam := p.Parse("CT MR BRAIN", domain.ModalityNone)
		assert.Equal(t, domain.ModalityCT, exam.Modality, "explicit modality token resolution must not vary across Parser instances")
	}
}

func TestParse_NeverPanics(t *testing.T) {
	p := New(testConfig())
	inputs := []string{"", "   ", "???", "ct/mr-brain_w+c", "\t\n"}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			p.Parse(in, domain.ModalityNone)
		})
	}
}
