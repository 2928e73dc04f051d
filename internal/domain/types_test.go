package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModalityIsValid(t *testing.T) {
	tests := []struct {
		name  string
		value Modality
		want  bool
	}{
		{"CT", ModalityCT, true},
		{"Mammography", ModalityMammography, true},
		{"empty is valid", ModalityNone, true},
		{"unrecognized", Modality("PET"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.value.IsValid())
		})
	}
}

func TestOrderedSetPreservesInsertionOrderAndDedupes(t *testing.T) {
	s := NewOrderedSet()
	s.Add("chest")
	s.Add("abdomen")
	s.Add("chest")

	assert.Equal(t, []string{"chest", "abdomen"}, s.Items())
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("chest"))
	assert.False(t, s.Contains("pelvis"))
}

func TestOrderedSetJaccardOverlap(t *testing.T) {
	tests := []struct {
		name string
		a, b *OrderedSet
		want float64
	}{
		{"identical", NewOrderedSet("chest"), NewOrderedSet("chest"), 1.0},
		{"disjoint", NewOrderedSet("chest"), NewOrderedSet("pelvis"), 0.0},
		{"both empty", NewOrderedSet(), NewOrderedSet(), 0.0},
		{"partial", NewOrderedSet("chest", "abdomen"), NewOrderedSet("chest"), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.a.JaccardOverlap(tt.b), 1e-9)
		})
	}
}

func TestOrderedSetJSONRoundTrip(t *testing.T) {
	s := NewOrderedSet("chest", "abdomen")

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["chest","abdomen"]`, string(b))

	var decoded OrderedSet
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, s.Items(), decoded.Items())
}

func TestEmptyParsedExamHasInitializedSets(t *testing.T) {
	p := EmptyParsedExam()

	assert.NotNil(t, p.Anatomy)
	assert.NotNil(t, p.Technique)
	assert.NotNil(t, p.ClinicalContext)
	assert.Equal(t, LateralityNone, p.Laterality)
	assert.Equal(t, ContrastNone, p.Contrast)
	assert.Equal(t, 0.0, p.Confidence)
}

func TestReferenceEntryEmbeddingText(t *testing.T) {
	e := ReferenceEntry{
		CleanName: "CT Chest with Contrast",
		SnomedFSN: "Computed tomography of chest with contrast (procedure)",
	}
	assert.Equal(t, "CT Chest with Contrast | Computed tomography of chest with contrast (procedure)", e.EmbeddingText())
}
