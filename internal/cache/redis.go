package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ResultCache handles Redis-based caching of redaction results. Redaction is
// deterministic for a given rule set, so identical input texts can share one
// cached answer until the rule set changes.
type ResultCache struct {
	client *redis.Client
	config *Config
	logger *zap.Logger
	stats  *cacheStats
}

// cacheStats tracks cache performance metrics
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// NewResultCache creates a new Redis-based result cache
func NewResultCache(config *Config, logger *zap.Logger) (*ResultCache, error) {
	// Parse Redis URL
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = config.MaxConnections
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	cache := &ResultCache{
		client: client,
		config: config,
		logger: logger,
		stats:  &cacheStats{},
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Result cache initialized successfully",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.Duration("default_ttl", config.DefaultTTL))

	return cache, nil
}

// ping tests the Redis connection
func (rc *ResultCache) ping(ctx context.Context) error {
	_, err := rc.client.Ping(ctx).Result()
	return err
}

// Get looks up the cached redaction of text. Cache trouble is reported as a
// miss so the caller falls through to the engine.
func (rc *ResultCache) Get(ctx context.Context, text string) (*CachedResult, bool) {
	cacheKey := rc.textKey(text)

	cachedData, err := rc.client.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		rc.stats.misses.Add(1)
		return nil, false
	} else if err != nil {
		rc.logger.Error("Cache lookup failed", zap.Error(err))
		rc.stats.misses.Add(1)
		return nil, false
	}

	var result CachedResult
	if err := json.Unmarshal([]byte(cachedData), &result); err != nil {
		rc.logger.Error("Failed to unmarshal cached result", zap.Error(err))
		// Delete corrupted cache entry
		rc.client.Del(ctx, cacheKey)
		rc.stats.misses.Add(1)
		return nil, false
	}

	rc.stats.hits.Add(1)
	rc.logger.Debug("Cache hit", zap.String("key", cacheKey))
	return &result, true
}

// Store caches one redaction result with the default TTL.
func (rc *ResultCache) Store(ctx context.Context, text string, result *CachedResult) error {
	cacheKey := rc.textKey(text)

	result.CachedAt = time.Now()
	result.TTL = int64(rc.config.DefaultTTL.Seconds())

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for caching: %w", err)
	}

	if err := rc.client.Set(ctx, cacheKey, data, rc.config.DefaultTTL).Err(); err != nil {
		rc.logger.Error("Failed to cache result", zap.Error(err))
		return fmt.Errorf("failed to cache result: %w", err)
	}

	return nil
}

// StoreBatch caches multiple results efficiently using a Redis pipeline
func (rc *ResultCache) StoreBatch(ctx context.Context, texts []string, results []*CachedResult) error {
	if len(texts) != len(results) {
		return fmt.Errorf("texts and results length mismatch")
	}

	if len(results) == 0 {
		return nil
	}

	pipe := rc.client.Pipeline()

	for i, result := range results {
		result.CachedAt = time.Now()
		result.TTL = int64(rc.config.DefaultTTL.Seconds())

		data, err := json.Marshal(result)
		if err != nil {
			rc.logger.Error("Failed to marshal result for batch caching", zap.Error(err))
			continue
		}

		pipe.Set(ctx, rc.textKey(texts[i]), data, rc.config.DefaultTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		rc.logger.Error("Batch cache operation failed", zap.Error(err))
		return fmt.Errorf("batch cache operation failed: %w", err)
	}

	rc.logger.Debug("Batch cache operation completed",
		zap.Int("cached_results", len(results)))

	return nil
}

// GetStats returns cache performance statistics
func (rc *ResultCache) GetStats(ctx context.Context) (*Stats, error) {
	info, err := rc.client.Info(ctx, "memory", "stats").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}

	stats := &Stats{
		Hits:   rc.stats.hits.Load(),
		Misses: rc.stats.misses.Load(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	// Parse memory usage from Redis info
	lines := strings.Split(info, "\r\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "used_memory:") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != "" {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	keys, err := rc.client.DBSize(ctx).Result()
	if err == nil {
		stats.TotalKeys = keys
	}

	return stats, nil
}

// Clear removes every cached result under this cache's prefix. The server
// calls it whenever the rule set is swapped, since stale answers would no
// longer match what the engine produces.
func (rc *ResultCache) Clear(ctx context.Context) error {
	pattern := rc.config.KeyPrefix + "*"

	// Use SCAN to find all keys with our prefix
	iter := rc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}

		if err := rc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			rc.logger.Error("Failed to delete cache keys", zap.Error(err))
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	rc.logger.Info("Cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (rc *ResultCache) Close() error {
	if rc.client != nil {
		return rc.client.Close()
	}
	return nil
}

// textKey derives a stable cache key from the input text.
func (rc *ResultCache) textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	hash := hex.EncodeToString(sum[:])
	return fmt.Sprintf("%s:text:%s", rc.config.KeyPrefix, hash[:16])
}

// maskRedisURL masks sensitive information in Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
