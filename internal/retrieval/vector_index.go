package retrieval

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

var indexMagic = [7]byte{'R', 'A', 'D', 'I', 'D', 'X', 0}

const indexFormatVersion = 1

// VectorIndex implements domain.VectorIndex: a flat in-memory dense
// nearest-neighbor index over L2-normalized vectors, scored by inner
// product (equivalent to cosine similarity on normalized vectors).
// Swap-on-load: Load builds a fresh set of slices and only assigns them
// to the receiver after validating the fingerprint, so a failed load
// never corrupts a previously-working index.
type VectorIndex struct {
	mu      sync.RWMutex
	ids     []string
	vectors [][]float32
	version domain.IndexVersion
}

// New constructs an empty VectorIndex carrying version.
func New(version domain.IndexVersion) *VectorIndex {
	return &VectorIndex{version: version}
}

// Build replaces the index contents in-memory. ids and vectors must be
// the same length and every vector the same dimension.
func (idx *VectorIndex) Build(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return domain.NewPipelineError(domain.ErrInternal, "ids and vectors length mismatch", nil)
	}
	for _, v := range vectors {
		if len(v) != idx.version.Dimension {
			return domain.NewPipelineError(domain.ErrInternal, fmt.Sprintf("vector dimension %d does not match index dimension %d", len(v), idx.version.Dimension), nil)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.ids = append([]string(nil), ids...)
	idx.vectors = append([][]float32(nil), vectors...)
	return nil
}

// Version returns the fingerprint/retriever/dimension tag this index was
// built or loaded with.
func (idx *VectorIndex) Version() domain.IndexVersion {
	return idx.version
}

// Save serializes the index to sink in the spec §6 binary format: magic
// header, version byte, 32-byte fingerprint, 4-byte dimension, 4-byte
// count, then per-entry (id_length:2, id_bytes, D little-endian float32).
func (idx *VectorIndex) Save(sink io.Writer) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if _, err := sink.Write(indexMagic[:]); err != nil {
		return err
	}
	if _, err := sink.Write([]byte{indexFormatVersion}); err != nil {
		return err
	}

	var fingerprint [32]byte
	copy(fingerprint[:], idx.version.Fingerprint)
	if _, err := sink.Write(fingerprint[:]); err != nil {
		return err
	}

	if err := binary.Write(sink, binary.LittleEndian, uint32(idx.version.Dimension)); err != nil {
		return err
	}
	if err := binary.Write(sink, binary.LittleEndian, uint32(len(idx.ids))); err != nil {
		return err
	}

	for i, id := range idx.ids {
		if len(id) > 0xFFFF {
			return domain.NewPipelineError(domain.ErrInternal, "entry id too long to serialize", nil)
		}
		if err := binary.Write(sink, binary.LittleEndian, uint16(len(id))); err != nil {
			return err
		}
		if _, err := sink.Write([]byte(id)); err != nil {
			return err
		}
		for _, f := range idx.vectors[i] {
			if err := binary.Write(sink, binary.LittleEndian, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load deserializes an index from source, rejecting on header or
// fingerprint mismatch against idx.version. The header holds the first 32
// bytes of the fingerprint string (as written by Save), so the comparison
// covers that prefix. On mismatch the receiver is left untouched.
func (idx *VectorIndex) Load(source io.Reader) error {
	var magic [7]byte
	if _, err := io.ReadFull(source, magic[:]); err != nil {
		return domain.NewPipelineError(domain.ErrIndexMismatch, "failed to read index header", err)
	}
	if magic != indexMagic {
		return domain.NewPipelineError(domain.ErrIndexMismatch, "index magic header mismatch", nil)
	}

	var versionByte [1]byte
	if _, err := io.ReadFull(source, versionByte[:]); err != nil {
		return domain.NewPipelineError(domain.ErrIndexMismatch, "failed to read index version byte", err)
	}

	var fingerprint [32]byte
	if _, err := io.ReadFull(source, fingerprint[:]); err != nil {
		return domain.NewPipelineError(domain.ErrIndexMismatch, "failed to read index fingerprint", err)
	}
	var want [32]byte
	copy(want[:], idx.version.Fingerprint)
	fp := string(bytes.TrimRight(fingerprint[:], "\x00"))
	if fp != string(bytes.TrimRight(want[:], "\x00")) {
		return domain.NewPipelineError(domain.ErrIndexMismatch, "index fingerprint does not match current configuration", nil)
	}

	var dimension, count uint32
	if err := binary.Read(source, binary.LittleEndian, &dimension); err != nil {
		return domain.NewPipelineError(domain.ErrIndexMismatch, "failed to read index dimension", err)
	}
	if int(dimension) != idx.version.Dimension {
		return domain.NewPipelineError(domain.ErrIndexMismatch, "index dimension does not match current configuration", nil)
	}
	if err := binary.Read(source, binary.LittleEndian, &count); err != nil {
		return domain.NewPipelineError(domain.ErrIndexMismatch, "failed to read index entry count", err)
	}

	ids := make([]string, 0, count)
	vectors := make([][]float32, 0, count)
	for i := uint32(0); i < count; i++ {
		var idLen uint16
		if err := binary.Read(source, binary.LittleEndian, &idLen); err != nil {
			return domain.NewPipelineError(domain.ErrIndexMismatch, "failed to read entry id length", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(source, idBytes); err != nil {
			return domain.NewPipelineError(domain.ErrIndexMismatch, "failed to read entry id", err)
		}

		vector := make([]float32, dimension)
		if err := binary.Read(source, binary.LittleEndian, &vector); err != nil {
			return domain.NewPipelineError(domain.ErrIndexMismatch, "failed to read entry vector", err)
		}

		ids = append(ids, string(idBytes))
		vectors = append(vectors, vector)
	}

	idx.mu.Lock()
	idx.ids = ids
	idx.vectors = vectors
	idx.mu.Unlock()
	return nil
}

// TopK returns at most k (id, similarity) pairs sorted by similarity
// descending. CPU-bound; never blocks on I/O.
func (idx *VectorIndex) TopK(query []float32, k int) ([]domain.ScoredID, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(query) != idx.version.Dimension {
		return nil, domain.NewPipelineError(domain.ErrInternal, "query vector dimension mismatch", nil)
	}

	scored := make([]domain.ScoredID, 0, len(idx.ids))
	for i, id := range idx.ids {
		sim := dot(query, idx.vectors[i])
		scored = append(scored, domain.ScoredID{ID: id, Similarity: sim})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

var _ domain.VectorIndex = (*VectorIndex)(nil)
