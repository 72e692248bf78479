package ports

import (
	"context"
	"time"

	"tipwire/internal/core/domain"
)

// UserRepository is the narrow store surface for user records.
// Get upserts a default record on first read. Commit rejects a transaction
// whose read version no longer matches the stored version with
// domain.ErrCommitConflict.
type UserRepository interface {
	Get(ctx context.Context, id domain.UserID) (*domain.UserRecord, error)
	Commit(ctx context.Context, txn *domain.UserTxn) error
}

// SongCacheRepository is a read-through cache over external track resolution.
// Get returns domain.ErrCacheMiss when the key is absent or expired.
// Entries expire by TTL only; there is no explicit delete.
type SongCacheRepository interface {
	Get(ctx context.Context, key string) (*domain.SongCacheEntry, error)
	Put(ctx context.Context, key string, entry *domain.SongCacheEntry, ttl time.Duration) error
}
