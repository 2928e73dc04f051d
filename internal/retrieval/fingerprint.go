package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// ComputeFingerprint combines config.Manager.Fingerprint() (the parsing
// rules + retriever identity + dimension) with the reference catalog's
// content hash to produce the full IndexVersion fingerprint the spec
// requires in §3: "a stable hash over the parsing rules, the reference
// catalog content, the retriever model identity, and the embedding
// dimension."
func ComputeFingerprint(configFingerprint, catalogContentHash, retrieverID string, dimension int) domain.IndexVersion {
	payload := fmt.Sprintf("%s|%s|%s|%d", configFingerprint, catalogContentHash, retrieverID, dimension)
	sum := sha256.Sum256([]byte(payload))
	return domain.IndexVersion{
		Fingerprint: hex.EncodeToString(sum[:]),
		RetrieverID: retrieverID,
		Dimension:   dimension,
	}
}

// BlobKey builds the blob store key a persisted index is written to and
// read from, keyed by retriever_id/fingerprint per §4.5.
func BlobKey(prefix string, version domain.IndexVersion) string {
	if prefix == "" {
		return fmt.Sprintf("%s/%s", version.RetrieverID, version.Fingerprint)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, version.RetrieverID, version.Fingerprint)
}
