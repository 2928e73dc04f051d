package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeFingerprint_DeterministicForSameInputs(t *testing.T) {
	a := ComputeFingerprint("cfg-hash", "catalog-hash", "retriever-v1", 384)
	b := ComputeFingerprint("cfg-hash", "catalog-hash", "retriever-v1", 384)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestComputeFingerprint_ChangesWithAnyInput(t *testing.T) {
	base := ComputeFingerprint("cfg-hash", "catalog-hash", "retriever-v1", 384)

	assert.NotEqual(t, base.Fingerprint, ComputeFingerprint("different-cfg", "catalog-hash", "retriever-v1", 384).Fingerprint)
	assert.NotEqual(t, base.Fingerprint, ComputeFingerprint("cfg-hash", "different-catalog", "retriever-v1", 384).Fingerprint)
	assert.NotEqual(t, base.Fingerprint, ComputeFingerprint("cfg-hash", "catalog-hash", "retriever-v2", 384).Fingerprint)
	assert.NotEqual(t, base.Fingerprint, ComputeFingerprint("cfg-hash", "catalog-hash", "retriever-v1", 768).Fingerprint)
}
