package memory

import (
	"context"
	"sync"
	"time"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
)

type MemoryUserRepository struct {
	users map[domain.UserID]*domain.UserRecord
	mu    sync.RWMutex
}

var _ ports.UserRepository = (*MemoryUserRepository)(nil)

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users: make(map[domain.UserID]*domain.UserRecord),
	}
}

// Get returns a copy of the stored record, creating a default record on
// first read. Callers mutate the copy and commit it back.
func (r *MemoryUserRepository) Get(ctx context.Context, id domain.UserID) (*domain.UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.users[id]
	if !exists {
		rec = domain.NewUserRecord(id)
		r.users[id] = rec
	}

	return rec.Clone(), nil
}

// Commit applies the transaction when the stored version still matches the
// version observed at read time hence two concurrent check-then-set cycles
// for the same user cannot both succeed.
func (r *MemoryUserRepository) Commit(ctx context.Context, txn *domain.UserTxn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.users[txn.Record.ID]
	if exists && stored.Version != txn.ReadVersion {
		return domain.ErrCommitConflict
	}

	committed := txn.Record.Clone()
	committed.Version = txn.ReadVersion + 1
	r.users[txn.Record.ID] = committed
	return nil
}

// Seed installs a record directly, bypassing the commit path. Intended for
// startup loading and tests.
func (r *MemoryUserRepository) Seed(rec *domain.UserRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.LastTriggerAt == nil {
		rec.LastTriggerAt = make(map[string]time.Time)
	}
	r.users[rec.ID] = rec.Clone()
}
