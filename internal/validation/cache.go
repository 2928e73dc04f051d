package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/radstandard/exam-standardizer/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	approvedBlobKey = "validation/approved_mappings_cache.json"
	rejectedBlobKey = "validation/rejected_mappings.json"
)

// snapshot is the immutable overlay swapped in by Reload. Cache never
// mutates a snapshot in place: readers always observe either the old or
// the new overlay in full, never a half-loaded one.
type snapshot struct {
	approved map[string]domain.ReferenceEntry
	rejected map[string][]string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		approved: make(map[string]domain.ReferenceEntry),
		rejected: make(map[string][]string),
	}
}

// Cache implements domain.ValidationCache as an atomically-swapped overlay
// loaded from two blob store JSON files. It is the pipeline-facing
// read path; Store is the durable write path a reviewer UI appends to
// before those decisions are folded into the blobs Cache reads.
type Cache struct {
	store  domain.BlobStore
	cur    atomic.Pointer[snapshot]
	logger *logrus.Logger
}

// NewCache constructs a Cache over store with an empty overlay. Call
// Reload to populate it; a Cache never populated behaves as if every
// request_key is unreviewed.
func NewCache(store domain.BlobStore, logger *logrus.Logger) *Cache {
	c := &Cache{store: store, logger: logger}
	c.cur.Store(emptySnapshot())
	return c
}

// Approved reports the human-approved mapping for requestKey, if any.
func (c *Cache) Approved(requestKey string) (domain.ReferenceEntry, bool) {
	snap := c.cur.Load()
	entry, ok := snap.approved[requestKey]
	return entry, ok
}

// RejectedIDs returns the entry/SNOMED ids a human reviewer excluded for
// requestKey. Returns nil if none were rejected.
func (c *Cache) RejectedIDs(requestKey string) []string {
	snap := c.cur.Load()
	return snap.rejected[requestKey]
}

// approvedFile is the on-disk shape of the approved mappings blob: a map
// from request_key to the full ReferenceEntry that was confirmed correct.
type approvedFile map[string]domain.ReferenceEntry

// rejectedFile is the on-disk shape of the rejected mappings blob: a map
// from request_key to the set of entry/SNOMED ids a reviewer excluded.
type rejectedFile map[string][]string

// Reload re-fetches both blobs, builds a new snapshot, and swaps it in
// atomically. A missing blob is treated as an empty dictionary and
// logged as a warning (ValidationFault), not a fatal error — the
// pipeline continues serving the previous (or empty) overlay.
func (c *Cache) Reload(ctx context.Context) (approvedCount, rejectedCount int, err error) {
	next := emptySnapshot()

	approvedBytes, err := c.store.Get(ctx, approvedBlobKey)
	if err != nil {
		c.logFault("approved mappings cache unreadable", err)
	} else if len(approvedBytes) > 0 {
		var file approvedFile
		if uerr := json.Unmarshal(approvedBytes, &file); uerr != nil {
			c.logFault("approved mappings cache malformed", uerr)
		} else {
			next.approved = map[string]domain.ReferenceEntry(file)
		}
	}

	rejectedBytes, err := c.store.Get(ctx, rejectedBlobKey)
	if err != nil {
		c.logFault("rejected mappings cache unreadable", err)
	} else if len(rejectedBytes) > 0 {
		var file rejectedFile
		if uerr := json.Unmarshal(rejectedBytes, &file); uerr != nil {
			c.logFault("rejected mappings cache malformed", uerr)
		} else {
			next.rejected = map[string][]string(file)
		}
	}

	c.cur.Store(next)
	return len(next.approved), len(next.rejected), nil
}

func (c *Cache) logFault(msg string, cause error) {
	pipelineErr := domain.NewPipelineError(domain.ErrValidationFault, msg, cause)
	if c.logger != nil {
		c.logger.WithError(pipelineErr).Warn(msg)
		return
	}
	fmt.Println(pipelineErr.Error())
}
