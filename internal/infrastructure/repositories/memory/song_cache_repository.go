package memory

import (
	"context"
	"time"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
	"tipwire/pkg/cache"
)

type MemorySongCacheRepository struct {
	cache *cache.Cache
}

var _ ports.SongCacheRepository = (*MemorySongCacheRepository)(nil)

func NewMemorySongCacheRepository(defaultTTL time.Duration) *MemorySongCacheRepository {
	return &MemorySongCacheRepository{
		cache: cache.New(defaultTTL),
	}
}

func (r *MemorySongCacheRepository) Get(ctx context.Context, key string) (*domain.SongCacheEntry, error) {
	v, ok := r.cache.Get(key)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	entry := v.(*domain.SongCacheEntry)
	return entry, nil
}

func (r *MemorySongCacheRepository) Put(ctx context.Context, key string, entry *domain.SongCacheEntry, ttl time.Duration) error {
	r.cache.SetWithTTL(key, entry, ttl)
	return nil
}

// Stop terminates the backing cache's cleanup goroutine.
func (r *MemorySongCacheRepository) Stop() {
	r.cache.Stop()
}
