package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"privacyguard/internal/config"
	"privacyguard/internal/domain/models"
	"privacyguard/pkg/logger"
)

// ErrCacheMiss is returned when a key is absent
var ErrCacheMiss = errors.New("cache miss")

// Cache key constants
const (
	KeyVerdictPrefix   = "cache:verdict:"
	KeyRateLimitPrefix = "rate_limit:"
	KeyLockPrefix      = "lock:"
)

// releaseScript deletes the lock only if this process still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisCache wraps the Redis client with typed operations
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger

	// lock key -> owner token
	locks sync.Map
}

// NewRedis creates a new Redis client
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return &RedisCache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    log,
	}, nil
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	c.logger.Info().Msg("closing Redis connection")
	return c.client.Close()
}

// key prepends the namespace prefix to a key
func (c *RedisCache) key(k string) string {
	return c.keyPrefix + k
}

// Get retrieves a value from cache; ErrCacheMiss when absent
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

// GetJSON retrieves and unmarshals a JSON value from cache
func (c *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// Set stores a value in cache with optional TTL
func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// SetJSON marshals and stores a value in cache
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// SetNX sets a value only if the key does not exist
func (c *RedisCache) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.key(key), value, ttl).Result()
}

// CacheVerdict caches a malware verdict by content hash
func (c *RedisCache) CacheVerdict(ctx context.Context, sha256 string, verdict *models.MalwareVerdict, ttl time.Duration) error {
	return c.SetJSON(ctx, KeyVerdictPrefix+sha256, verdict, ttl)
}

// GetCachedVerdict retrieves a cached verdict; ErrCacheMiss when absent
func (c *RedisCache) GetCachedVerdict(ctx context.Context, sha256 string) (*models.MalwareVerdict, error) {
	var v models.MalwareVerdict
	if err := c.GetJSON(ctx, KeyVerdictPrefix+sha256, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AcquireLock attempts to acquire a distributed lock. The lock is held with an
// owner token so that ReleaseLock never removes a lock taken over by another
// process after expiry.
func (c *RedisCache) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := c.SetNX(ctx, KeyLockPrefix+lockKey, token, ttl)
	if err != nil || !ok {
		return false, err
	}
	c.locks.Store(lockKey, token)
	return true, nil
}

// ReleaseLock releases a distributed lock held by this process
func (c *RedisCache) ReleaseLock(ctx context.Context, lockKey string) error {
	token, ok := c.locks.LoadAndDelete(lockKey)
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, c.client, []string{c.key(KeyLockPrefix + lockKey)}, token).Err()
}

// CheckRateLimit checks and increments the rate limit counter
// Returns (allowed, remaining, resetTime, error)
func (c *RedisCache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	window = max(window, time.Second)
	now := time.Now()
	bucket := now.Unix() / int64(window.Seconds())
	windowKey := fmt.Sprintf("%s%s:%d", KeyRateLimitPrefix, key, bucket)

	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, c.key(windowKey))
	pipe.Expire(ctx, c.key(windowKey), window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := incr.Val()
	remaining := max(limit-count, 0)
	resetTime := time.Unix((bucket+1)*int64(window.Seconds()), 0)

	return count <= limit, remaining, resetTime, nil
}
