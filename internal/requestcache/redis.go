package requestcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/radstandard/exam-standardizer/internal/domain"
)

// RedisTier is the optional distributed second tier in front of the
// in-process LRU (§4.10 calls this out as a multi-instance deployment
// concern: one node's memoized result should be visible to its peers).
// A nil *RedisTier is a valid no-op, same convention as a zero-size Cache.
type RedisTier struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *logrus.Logger
	// version namespaces every key; Purge bumps it instead of scanning
	// and deleting, so invalidation is O(1) regardless of cache size.
	version atomic.Int64
}

// NewRedisTier connects to the Redis instance described by cfg.RedisURL.
// Returns (nil, nil) if cfg.RedisURL is empty, since the distributed tier
// is opt-in.
func NewRedisTier(cfg domain.CacheConfig, logger *logrus.Logger) (*RedisTier, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.PoolTimeout
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisTier{
		client:     client,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
	}, nil
}

func (r *RedisTier) redisKey(key Key) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s",
		key.PreprocessedExam, key.ModalityHint, key.Retriever, key.Reranker, key.ConfigFingerprint)))
	return fmt.Sprintf("examstd:cache:v%d:%s", r.version.Load(), hex.EncodeToString(sum[:]))
}

// Get returns the cached MatchResult for key, if present and not expired.
func (r *RedisTier) Get(ctx context.Context, key Key) (domain.MatchResult, bool) {
	val, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if err == redis.Nil {
		return domain.MatchResult{}, false
	}
	if err != nil {
		r.logger.WithError(err).Warn("redis cache get failed, treating as a miss")
		return domain.MatchResult{}, false
	}

	var result domain.MatchResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		r.logger.WithError(err).Warn("redis cache entry corrupted, treating as a miss")
		return domain.MatchResult{}, false
	}
	return result, true
}

// Put stores result under key with the configured default TTL.
func (r *RedisTier) Put(ctx context.Context, key Key, result domain.MatchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		r.logger.WithError(err).Warn("failed to marshal cache entry for redis")
		return
	}
	if err := r.client.Set(ctx, r.redisKey(key), data, r.defaultTTL).Err(); err != nil {
		r.logger.WithError(err).Warn("redis cache put failed")
	}
}

// Purge invalidates every entry by bumping the key namespace version;
// stale entries age out of Redis on their own TTL rather than being
// scanned and deleted.
func (r *RedisTier) Purge() {
	r.version.Add(1)
}

// Close releases the underlying Redis connection pool.
func (r *RedisTier) Close() error {
	return r.client.Close()
}
