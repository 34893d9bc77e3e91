package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"relaysync/internal/config"
	"relaysync/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisCacheRepository stores cache entries in redis, one key per entry plus a
// per-bucket index set used by the sweeps.
type RedisCacheRepository struct {
	client *redis.Client
	ttl    map[string]time.Duration
}

// NewRedisClient creates a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisCacheRepository(client *redis.Client) *RedisCacheRepository {
	return &RedisCacheRepository{
		client: client,
		ttl: map[string]time.Duration{
			models.BucketStatic:  models.StaticCacheTTL,
			models.BucketAPI:     models.APICacheTTL,
			models.BucketRuntime: models.RuntimeCacheTTL,
		},
	}
}

func entryKey(bucket, key string) string {
	return fmt.Sprintf("cache:%s:%s", bucket, key)
}

func indexKey(bucket string) string {
	return fmt.Sprintf("cache:%s:index", bucket)
}

func (r *RedisCacheRepository) Get(ctx context.Context, bucket, key string) (*models.CacheEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	val, err := r.client.Get(ctx, entryKey(bucket, key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry from redis: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

func (r *RedisCacheRepository) Set(ctx context.Context, entry *models.CacheEntry) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	ttl := r.ttl[entry.Bucket]
	if err := r.client.Set(ctx, entryKey(entry.Bucket, entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry in redis: %w", err)
	}
	if err := r.client.SAdd(ctx, indexKey(entry.Bucket), entry.Key).Err(); err != nil {
		return fmt.Errorf("failed to index cache entry: %w", err)
	}
	return nil
}

func (r *RedisCacheRepository) Delete(ctx context.Context, bucket, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	if err := r.client.Del(ctx, entryKey(bucket, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry from redis: %w", err)
	}
	if err := r.client.SRem(ctx, indexKey(bucket), key).Err(); err != nil {
		return fmt.Errorf("failed to unindex cache entry: %w", err)
	}
	return nil
}

func (r *RedisCacheRepository) Entries(ctx context.Context, bucket string) ([]models.CacheEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	keys, err := r.client.SMembers(ctx, indexKey(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}

	var entries []models.CacheEntry
	for _, key := range keys {
		entry, err := r.Get(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			// Entry expired under redis TTL; drop the stale index member.
			_ = r.client.SRem(ctx, indexKey(bucket), key).Err()
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (r *RedisCacheRepository) Purge(ctx context.Context, bucket string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	keys, err := r.client.SMembers(ctx, indexKey(bucket)).Result()
	if err != nil {
		return fmt.Errorf("failed to list cache keys: %w", err)
	}
	for _, key := range keys {
		if err := r.client.Del(ctx, entryKey(bucket, key)).Err(); err != nil {
			return fmt.Errorf("failed to purge cache entry: %w", err)
		}
	}
	if err := r.client.Del(ctx, indexKey(bucket)).Err(); err != nil {
		return fmt.Errorf("failed to purge cache index: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
