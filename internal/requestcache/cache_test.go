package requestcache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

func sampleKey() Key {
	return Key{
		PreprocessedExam:  "ct chest",
		ModalityHint:      domain.ModalityCT,
		Retriever:         "bge-small",
		Reranker:          "cross_encoder",
		ConfigFingerprint: "fp-1",
	}
}

func TestCache_PutThenGetHits(t *testing.T) {
	c := New(10)
	key := sampleKey()
	want := domain.MatchResult{CleanName: "CT Chest"}

	c.Put(key, want)
	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCache_DifferentConfigFingerprintIsADistinctKey(t *testing.T) {
	c := New(10)
	key := sampleKey()
	c.Put(key, domain.MatchResult{CleanName: "CT Chest"})

	other := key
	other.ConfigFingerprint = "fp-2"
	_, ok := c.Get(other)
	assert.False(t, ok)
}

func TestCache_PurgeClearsEverything(t *testing.T) {
	c := New(10)
	key := sampleKey()
	c.Put(key, domain.MatchResult{CleanName: "CT Chest"})
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestCache_ZeroSizeDisablesCaching(t *testing.T) {
	c := New(0)
	key := sampleKey()
	c.Put(key, domain.MatchResult{CleanName: "CT Chest"})
	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCache_EvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := New(2)
	k1 := sampleKey()
	k2 := sampleKey()
	k2.PreprocessedExam = "mr brain"
	k3 := sampleKey()
	k3.PreprocessedExam = "us abdomen"

	c.Put(k1, domain.MatchResult{CleanName: "one"})
	c.Put(k2, domain.MatchResult{CleanName: "two"})
	c.Put(k3, domain.MatchResult{CleanName: "three"})

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(k1)
	assert.False(t, ok, "oldest entry should have been evicted")
}

func TestCache_NewWithRemoteNilBehavesLikeLocalOnly(t *testing.T) {
	c := NewWithRemote(10, nil)
	key := sampleKey()
	c.Put(key, domain.MatchResult{CleanName: "CT Chest"})
	got, ok := c.Get(key)
	assert.True(t, ok)
	assert.Equal(t, "CT Chest", got.CleanName)
}

func TestRedisTier_RedisKeyIsDeterministicAndVersionScoped(t *testing.T) {
	tier := &RedisTier{}
	key := sampleKey()

	a := tier.redisKey(key)
	b := tier.redisKey(key)
	assert.Equal(t, a, b, "same key must hash to the same redis key")

	other := key
	other.Retriever = "bge-large"
	assert.NotEqual(t, a, tier.redisKey(other), "different keys must not collide")

	tier.Purge()
	assert.NotEqual(t, a, tier.redisKey(key), "purge must bump the key namespace")
}

func TestRedisTier_NewRedisTierWithEmptyURLIsANoOp(t *testing.T) {
	tier, err := NewRedisTier(domain.CacheConfig{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, tier)
}
