package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisSongCacheRepository struct {
	client *redis.Client
	prefix string
}

var _ ports.SongCacheRepository = (*RedisSongCacheRepository)(nil)

func NewRedisSongCacheRepository(client *redis.Client) *RedisSongCacheRepository {
	return &RedisSongCacheRepository{
		client: client,
		prefix: "tipwire:songcache:",
	}
}

func (r *RedisSongCacheRepository) cacheKey(key string) string {
	return r.prefix + key
}

func (r *RedisSongCacheRepository) Get(ctx context.Context, key string) (*domain.SongCacheEntry, error) {
	data, err := r.client.Get(ctx, r.cacheKey(key)).Result()
	if err == redis.Nil {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry domain.SongCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, nil
}

func (r *RedisSongCacheRepository) Put(ctx context.Context, key string, entry *domain.SongCacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.cacheKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}
