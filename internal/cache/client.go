// Package cache wraps the shared Redis connection with the key-value
// operations the rest of the application is allowed to use. Every operation
// is fail-open: a transport failure degrades to a miss or a false return,
// never an error the caller must handle. The cache is a performance layer,
// not a correctness dependency.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"raally/internal/platform/config"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raally_cache_hits_total",
		Help: "Memoized compute lookups served from the cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raally_cache_misses_total",
		Help: "Memoized compute lookups that fell through to the compute function",
	})
	rateLimitDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raally_rate_limit_denials_total",
		Help: "Requests denied by the cache-backed rate limiter",
	})
)

const (
	sessionKeyPrefix   = "session:"
	rateLimitKeyPrefix = "rate_limit:"

	// DefaultComputeTTL applies to memoized compute-and-cache entries.
	DefaultComputeTTL = time.Hour
	// DefaultSessionTTL applies to session storage.
	DefaultSessionTTL = 24 * time.Hour
)

// Client wraps the shared Redis connection. Construction performs no
// network I/O; the first command dials.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New builds a cache client from configuration.
func New(cfg config.RedisConfig, logger *slog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.MaxRetries = 3
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	return &Client{rdb: redis.NewClient(opts), logger: logger}, nil
}

// NewFromClient wraps an existing connection. Used by tests.
func NewFromClient(rdb *redis.Client, logger *slog.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// Get returns the value at key, or absent on a miss or transport failure.
func (c *Client) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return "", false
	}
	return val, true
}

// Set stores value at key. A ttl of zero means no expiry. Returns false on
// transport failure.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes key, reporting whether anything was deleted.
func (c *Client) Delete(ctx context.Context, key string) bool {
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis DEL failed", "key", key, "error", err)
		return false
	}
	return n > 0
}

// Exists reports whether key is present.
func (c *Client) Exists(ctx context.Context, key string) bool {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis EXISTS failed", "key", key, "error", err)
		return false
	}
	return n == 1
}

// Increment atomically adds by to the counter at key. The store serializes
// concurrent increments across processes. Absent on transport failure.
func (c *Client) Increment(ctx context.Context, key string, by int64) (int64, bool) {
	n, err := c.rdb.IncrBy(ctx, key, by).Result()
	if err != nil {
		c.logger.Error("redis INCRBY failed", "key", key, "error", err)
		return 0, false
	}
	return n, true
}

// SetHashField writes one field of the hash at key.
func (c *Client) SetHashField(ctx context.Context, key, field, value string) bool {
	if err := c.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		c.logger.Error("redis HSET failed", "key", key, "field", field, "error", err)
		return false
	}
	return true
}

// GetHashField reads one field of the hash at key.
func (c *Client) GetHashField(ctx context.Context, key, field string) (string, bool) {
	val, err := c.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.Error("redis HGET failed", "key", key, "field", field, "error", err)
		return "", false
	}
	return val, true
}

// GetAllHashFields returns every field of the hash at key. Empty map on
// miss or failure.
func (c *Client) GetAllHashFields(ctx context.Context, key string) map[string]string {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis HGETALL failed", "key", key, "error", err)
		return map[string]string{}
	}
	return fields
}

// Expire sets or refreshes the TTL on an existing key without rewriting
// its value.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := c.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		c.logger.Error("redis EXPIRE failed", "key", key, "error", err)
		return false
	}
	return ok
}

// FlushByPattern deletes every key matching a glob-style pattern in one
// pass. O(keyspace); intended for targeted invalidation such as
// "cache:project:42*", never broad wildcards on hot paths.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) bool {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Error("redis SCAN failed", "pattern", pattern, "error", err)
		return false
	}
	if len(keys) == 0 {
		return true
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("redis DEL failed", "pattern", pattern, "error", err)
		return false
	}
	return true
}

// CacheOrCompute memoizes compute under key with the given ttl (zero means
// DefaultComputeTTL). If the store is unreachable at any point it falls
// back to invoking compute directly and returns the result uncached.
func CacheOrCompute[T any](ctx context.Context, c *Client, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if ttl <= 0 {
		ttl = DefaultComputeTTL
	}

	if raw, ok := c.Get(ctx, key); ok {
		var cached T
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			cacheHits.Inc()
			return cached, nil
		}
		// Undecodable entry: treat as a miss and recompute.
		c.logger.Warn("discarding undecodable cache entry", "key", key)
	}

	cacheMisses.Inc()
	result, err := compute(ctx)
	if err != nil {
		return result, err
	}
	if data, err := json.Marshal(result); err == nil {
		c.Set(ctx, key, string(data), ttl)
	}
	return result, nil
}

// IsRateLimited counts a request against identifier's window and reports
// whether the counter now exceeds maxRequests. The first hit in a window
// arms the window TTL. Fail-open: if the store is down, nothing is limited.
func (c *Client) IsRateLimited(ctx context.Context, identifier string, maxRequests int64, window time.Duration) bool {
	key := rateLimitKeyPrefix + identifier
	current, ok := c.Increment(ctx, key, 1)
	if !ok {
		return false
	}
	if current == 1 {
		c.Expire(ctx, key, window)
	}
	if current > maxRequests {
		rateLimitDenials.Inc()
		return true
	}
	return false
}

// SetSession stores session data as JSON under the session namespace. A ttl
// of zero means DefaultSessionTTL.
func (c *Client) SetSession(ctx context.Context, sessionID string, data any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		c.logger.Error("failed to encode session", "session_id", sessionID, "error", err)
		return false
	}
	return c.Set(ctx, sessionKeyPrefix+sessionID, string(encoded), ttl)
}

// GetSession decodes the stored session into dest, reporting presence.
func (c *Client) GetSession(ctx context.Context, sessionID string, dest any) bool {
	raw, ok := c.Get(ctx, sessionKeyPrefix+sessionID)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.logger.Error("failed to decode session", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// DeleteSession removes a stored session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) bool {
	return c.Delete(ctx, sessionKeyPrefix+sessionID)
}

// Close releases the underlying connection. Owned by the service manager.
func (c *Client) Close() error {
	return c.rdb.Close()
}
