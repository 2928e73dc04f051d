package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

func weights() domain.AlignmentConfig {
	return domain.AlignmentConfig{
		WeightModality: 0.3, WeightAnatomy: 0.3, WeightLaterality: 0.15,
		WeightContrast: 0.1, WeightTechnique: 0.1, WeightContext: 0.05,
	}
}

func TestComponentScore_IdenticalExamsScoreOne(t *testing.T) {
	exam := domain.ParsedExam{
		Modality: domain.ModalityCT, Anatomy: domain.NewOrderedSet("chest"),
		Laterality: domain.LateralityNone, Contrast: domain.ContrastWith,
		Technique: domain.NewOrderedSet("angiography"),
		GenderContext: domain.GenderNone, AgeContext: domain.AgeNone,
	}
	score, breakdown := componentScore(exam, exam, weights())
	assert.Equal(t, 1.0, score)
	assert.Equal(t, 1.0, breakdown.ModalityMatch)
	assert.Equal(t, 1.0, breakdown.AnatomyOverlap)
}

func TestCheckVetoes_LeftRightLateralityConflicts(t *testing.T) {
	query := domain.ParsedExam{Modality: domain.ModalityXR, Laterality: domain.LateralityLeft, Contrast: domain.ContrastNone}
	entry := domain.ParsedExam{Modality: domain.ModalityXR, Laterality: domain.LateralityRight, Contrast: domain.ContrastNone}

	verdict := checkVetoes(query, entry)
	assert.True(t, verdict.Vetoed)
	assert.Equal(t, domain.VetoLateralityConflict, verdict.Reason)
}

func TestCheckVetoes_BilateralVsUnilateralPairedAnatomyConflicts(t *testing.T) {
	query := domain.ParsedExam{Modality: domain.ModalityMR, Laterality: domain.LateralityBilateral, Contrast: domain.ContrastNone}
	entry := domain.ParsedExam{
		Modality: domain.ModalityMR, Laterality: domain.LateralityLeft, Contrast: domain.ContrastNone,
		Anatomy: domain.NewOrderedSet("knee"),
	}

	verdict := checkVetoes(query, entry)
	assert.True(t, verdict.Vetoed)
	assert.Equal(t, domain.VetoLateralityConflict, verdict.Reason)
}

func TestCheckVetoes_BilateralVsUnilateralUnpairedAnatomyDoesNotConflict(t *testing.T) {
	query := domain.ParsedExam{Modality: domain.ModalityMR, Laterality: domain.LateralityBilateral, Contrast: domain.ContrastNone}
	entry := domain.ParsedExam{
		Modality: domain.ModalityMR, Laterality: domain.LateralityLeft, Contrast: domain.ContrastNone,
		Anatomy: domain.NewOrderedSet("brain"),
	}

	verdict := checkVetoes(query, entry)
	assert.False(t, verdict.Vetoed)
}

func TestCheckVetoes_ContrastWithVsWithoutConflicts(t *testing.T) {
	query := domain.ParsedExam{Modality: domain.ModalityCT, Laterality: domain.LateralityNone, Contrast: domain.ContrastWith}
	entry := domain.ParsedExam{Modality: domain.ModalityCT, Laterality: domain.LateralityNone, Contrast: domain.ContrastWithout}

	verdict := checkVetoes(query, entry)
	assert.True(t, verdict.Vetoed)
	assert.Equal(t, domain.VetoContrastConflict, verdict.Reason)
}

func TestCheckVetoes_WithAndWithoutSubsumesBothContrastStates(t *testing.T) {
	query := domain.ParsedExam{Modality: domain.ModalityCT, Laterality: domain.LateralityNone, Contrast: domain.ContrastWith}
	entry := domain.ParsedExam{Modality: domain.ModalityCT, Laterality: domain.LateralityNone, Contrast: domain.ContrastWithAndWithout}

	verdict := checkVetoes(query, entry)
	assert.False(t, verdict.Vetoed)
}

func TestCheckVetoes_InterventionalDiagnosticConflict(t *testing.T) {
	query := domain.ParsedExam{Modality: domain.ModalityXA, Laterality: domain.LateralityNone, Contrast: domain.ContrastNone, IsInterventional: true, HasInterventionalEvidence: true}
	entry := domain.ParsedExam{Modality: domain.ModalityXA, Laterality: domain.LateralityNone, Contrast: domain.ContrastNone, IsDiagnostic: true}

	verdict := checkVetoes(query, entry)
	assert.True(t, verdict.Vetoed)
	assert.Equal(t, domain.VetoInterventionalConflict, verdict.Reason)
}

func TestCheckVetoes_XAModalityAloneWithoutTechniqueEvidenceDoesNotVeto(t *testing.T) {
	// IsInterventional is true solely because modality is XA; no interventional
	// technique keyword was matched on either side, so the veto must not fire.
	query := domain.ParsedExam{Modality: domain.ModalityXA, Laterality: domain.LateralityNone, Contrast: domain.ContrastNone, IsInterventional: true}
	entry := domain.ParsedExam{Modality: domain.ModalityXA, Laterality: domain.LateralityNone, Contrast: domain.ContrastNone, IsDiagnostic: true}

	verdict := checkVetoes(query, entry)
	assert.False(t, verdict.Vetoed)
}

func TestCheckVetoes_XRMammographyModalityEquivalenceDoesNotConflict(t *testing.T) {
	query := domain.ParsedExam{Modality: domain.ModalityXR, Laterality: domain.LateralityNone, Contrast: domain.ContrastNone}
	entry := domain.ParsedExam{Modality: domain.ModalityMammography, Laterality: domain.LateralityNone, Contrast: domain.ContrastNone}

	verdict := checkVetoes(query, entry)
	assert.False(t, verdict.Vetoed)
}

func TestCheckVetoes_EmptyModalityNeverConflicts(t *testing.T) {
	query := domain.ParsedExam{Modality: domain.ModalityNone, Laterality: domain.LateralityNone, Contrast: domain.ContrastNone}
	entry := domain.ParsedExam{Modality: domain.ModalityCT, Laterality: domain.LateralityNone, Contrast: domain.ContrastNone}

	verdict := checkVetoes(query, entry)
	assert.False(t, verdict.Vetoed)
}
