package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisUserRepository struct {
	client *redis.Client
	prefix string
}

var _ ports.UserRepository = (*RedisUserRepository)(nil)

func NewRedisUserRepository(client *redis.Client) *RedisUserRepository {
	return &RedisUserRepository{
		client: client,
		prefix: "tipwire:user:",
	}
}

func (r *RedisUserRepository) userKey(id domain.UserID) string {
	return r.prefix + string(id)
}

// Get loads a record, creating the default record on first read. SetNX keeps
// concurrent first reads from creating duplicates.
func (r *RedisUserRepository) Get(ctx context.Context, id domain.UserID) (*domain.UserRecord, error) {
	key := r.userKey(id)

	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		fresh := domain.NewUserRecord(id)
		payload, merr := json.Marshal(fresh)
		if merr != nil {
			return nil, fmt.Errorf("failed to marshal user record: %w", merr)
		}
		created, serr := r.client.SetNX(ctx, key, payload, 0).Result()
		if serr != nil {
			return nil, fmt.Errorf("failed to upsert user record: %w", serr)
		}
		if created {
			return fresh, nil
		}
		// Lost the race to another first read; load the winner's record.
		data, err = r.client.Get(ctx, key).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user record: %w", err)
	}

	var rec domain.UserRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user record: %w", err)
	}
	if rec.LastTriggerAt == nil {
		rec.LastTriggerAt = make(map[string]time.Time)
	}
	return &rec, nil
}

// Commit applies the transaction under WATCH so a concurrent commit for the
// same key aborts with domain.ErrCommitConflict instead of clobbering it.
func (r *RedisUserRepository) Commit(ctx context.Context, txn *domain.UserTxn) error {
	key := r.userKey(txn.Record.ID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read user record: %w", err)
		}

		if err != redis.Nil {
			var stored domain.UserRecord
			if uerr := json.Unmarshal([]byte(data), &stored); uerr != nil {
				return fmt.Errorf("failed to unmarshal user record: %w", uerr)
			}
			if stored.Version != txn.ReadVersion {
				return domain.ErrCommitConflict
			}
		}

		committed := txn.Record.Clone()
		committed.Version = txn.ReadVersion + 1
		payload, merr := json.Marshal(committed)
		if merr != nil {
			return fmt.Errorf("failed to marshal user record: %w", merr)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrCommitConflict
	}
	return err
}
