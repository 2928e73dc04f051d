// Package requestcache implements the in-process memoization layer in
// front of LookupEngine (§4.10): repeated requests for the same
// (preprocessed exam, modality, retriever, reranker, config fingerprint)
// tuple skip the full pipeline entirely.
package requestcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// Key identifies a memoizable standardize_exam invocation. It includes
// the config fingerprint so a config reload invalidates stale entries
// without needing to walk the cache.
type Key struct {
	PreprocessedExam  string
	ModalityHint      domain.Modality
	Retriever         string
	Reranker          string
	ConfigFingerprint string
}

// Cache wraps an LRU of bounded size keyed on Key, holding full
// MatchResults, with an optional RedisTier behind it for multi-instance
// deployments: an LRU miss falls through to Redis before the caller has
// to re-run the pipeline, and a Redis hit backfills the local LRU. It is
// invalidated wholesale (via Purge) whenever the config fingerprint
// changes or the validation cache reloads, since either can change what
// a cached result should have been.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[Key, domain.MatchResult]
	remote *RedisTier
}

// New builds a Cache with the given capacity and no distributed tier. A
// non-positive size disables local caching (Get always misses, Put is a
// no-op).
func New(size int) *Cache {
	return NewWithRemote(size, nil)
}

// NewWithRemote builds a Cache backed by the local LRU plus remote, the
// distributed tier. remote may be nil, in which case this behaves
// exactly like New.
func NewWithRemote(size int, remote *RedisTier) *Cache {
	if size <= 0 {
		return &Cache{remote: remote}
	}
	l, _ := lru.New[Key, domain.MatchResult](size)
	return &Cache{lru: l, remote: remote}
}

// Get returns the cached MatchResult for key, checking the local LRU
// first and falling through to the distributed tier on a miss.
func (c *Cache) Get(key Key) (domain.MatchResult, bool) {
	if c.lru != nil {
		c.mu.Lock()
		result, ok := c.lru.Get(key)
		c.mu.Unlock()
		if ok {
			return result, true
		}
	}

	if c.remote == nil {
		return domain.MatchResult{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, ok := c.remote.Get(ctx, key)
	if ok && c.lru != nil {
		c.mu.Lock()
		c.lru.Add(key, result)
		c.mu.Unlock()
	}
	return result, ok
}

// Put stores result under key in the local LRU and, if configured, the
// distributed tier.
func (c *Cache) Put(key Key, result domain.MatchResult) {
	if c.lru != nil {
		c.mu.Lock()
		c.lru.Add(key, result)
		c.mu.Unlock()
	}
	if c.remote != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		c.remote.Put(ctx, key, result)
	}
}

// Purge discards every cached entry, local and distributed. Called on
// config reload and on validation cache reload, since both invalidate
// prior results.
func (c *Cache) Purge() {
	if c.lru != nil {
		c.mu.Lock()
		c.lru.Purge()
		c.mu.Unlock()
	}
	if c.remote != nil {
		c.remote.Purge()
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
