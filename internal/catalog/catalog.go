// Package catalog loads the authoritative reference procedure list and
// pre-parses every entry through the same SemanticParser instance used for
// user input (§4.2) — any divergence between the two parses is a bug, so
// ReferenceCatalog never constructs its own parser.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// rawEntry is the on-disk shape of one catalog row before parsing.
type rawEntry struct {
	ID              string `json:"id"`
	SnomedConceptID string `json:"snomed_concept_id"`
	SnomedFSN       string `json:"snomed_fsn"`
	CleanName       string `json:"clean_name"`
}

// ReferenceCatalog implements domain.Catalog: a read-mostly, in-memory,
// pre-parsed view of the procedure list, keyed by id.
type ReferenceCatalog struct {
	entries     map[string]domain.ReferenceEntry
	orderedIDs  []string
	contentHash string
}

// Load reads a JSON array of raw catalog rows from path and parses each
// through parser, producing a ready-to-use ReferenceCatalog.
func Load(path string, parser domain.SemanticParser) (*ReferenceCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewPipelineError(domain.ErrCatalogError, "failed to read catalog file", err)
	}
	return LoadFromBytes(data, parser)
}

// LoadFromBytes builds a ReferenceCatalog from raw JSON bytes, for callers
// that fetch the catalog from a blob store rather than local disk.
func LoadFromBytes(data []byte, parser domain.SemanticParser) (*ReferenceCatalog, error) {
	var rows []rawEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, domain.NewPipelineError(domain.ErrCatalogError, "failed to parse catalog JSON", err)
	}
	if len(rows) == 0 {
		return nil, domain.NewPipelineError(domain.ErrCatalogError, "catalog is empty", nil)
	}

	c := &ReferenceCatalog{
		entries:    make(map[string]domain.ReferenceEntry, len(rows)),
		orderedIDs: make([]string, 0, len(rows)),
	}

	for _, row := range rows {
		if row.ID == "" {
			return nil, domain.NewPipelineError(domain.ErrCatalogError, "catalog row missing id", nil)
		}
		if _, dup := c.entries[row.ID]; dup {
			return nil, domain.NewPipelineError(domain.ErrCatalogError, fmt.Sprintf("duplicate catalog id %q", row.ID), nil)
		}

		entry := domain.ReferenceEntry{
			ID:              row.ID,
			SnomedConceptID: row.SnomedConceptID,
			SnomedFSN:       row.SnomedFSN,
			CleanName:       row.CleanName,
		}
		entry.Parsed = parser.Parse(entry.SnomedFSN+" | "+entry.CleanName, domain.ModalityNone)

		c.entries[entry.ID] = entry
		c.orderedIDs = append(c.orderedIDs, entry.ID)
	}

	sort.Strings(c.orderedIDs)
	c.contentHash = computeContentHash(data)

	return c, nil
}

// Lookup returns the entry for id, if present.
func (c *ReferenceCatalog) Lookup(id string) (domain.ReferenceEntry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// All returns every entry in stable id order.
func (c *ReferenceCatalog) All() []domain.ReferenceEntry {
	out := make([]domain.ReferenceEntry, 0, len(c.orderedIDs))
	for _, id := range c.orderedIDs {
		out = append(out, c.entries[id])
	}
	return out
}

// ContentHash returns a stable hash of the source catalog bytes, used as
// one input to the VectorIndex fingerprint (§8.5).
func (c *ReferenceCatalog) ContentHash() string {
	return c.contentHash
}

var _ domain.Catalog = (*ReferenceCatalog)(nil)
