package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"

	"go.uber.org/zap"
)

// GuardService enforces per-(user, trigger) cooldown windows through the
// store's optimistic commit, and mutual-exclusion locks through a
// ResourceLocker. It holds no in-process lock across a store call.
type GuardService struct {
	users  ports.UserRepository
	locks  ports.ResourceLocker
	logger *zap.SugaredLogger

	now func() time.Time
}

var _ ports.Guard = (*GuardService)(nil)

func NewGuardService(users ports.UserRepository, locks ports.ResourceLocker, logger *zap.SugaredLogger) *GuardService {
	return &GuardService{
		users:  users,
		locks:  locks,
		logger: logger,
		now:    time.Now,
	}
}

// TryAcquire grants at most once per cooldown window per (user, trigger).
// The timestamp write happens in the same optimistic commit as the check, so
// two concurrent acquisitions for the same pair cannot both be granted: the
// loser's commit conflicts, is retried once against fresh state, and then
// observes the winner's timestamp.
func (g *GuardService) TryAcquire(ctx context.Context, userID domain.UserID, triggerID string, cooldown time.Duration) (ports.Grant, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := g.users.Get(ctx, userID)
		if err != nil {
			return ports.Grant{}, err
		}

		now := g.now()
		if last, ok := rec.LastTriggerAt[triggerID]; ok {
			if elapsed := now.Sub(last); elapsed < cooldown {
				return ports.Grant{Granted: false, Remaining: cooldown - elapsed}, nil
			}
		}

		updated := rec.Clone()
		updated.LastTriggerAt[triggerID] = now

		err = g.users.Commit(ctx, &domain.UserTxn{Record: updated, ReadVersion: rec.Version})
		if err == nil {
			return ports.Grant{Granted: true}, nil
		}
		if !errors.Is(err, domain.ErrCommitConflict) {
			return ports.Grant{}, err
		}

		g.logger.Debugw("cooldown commit conflict",
			"user_id", userID,
			"trigger_id", triggerID,
			"attempt", attempt,
		)
	}

	// Two conflicts in a row: a concurrent acquisition won the window.
	return ports.Grant{Granted: false, Remaining: cooldown}, nil
}

// TryLock acquires the mutual-exclusion resource without blocking.
func (g *GuardService) TryLock(resourceKey string) bool {
	return g.locks.TryLock(resourceKey)
}

// Unlock releases the mutual-exclusion resource.
func (g *GuardService) Unlock(resourceKey string) {
	g.locks.Unlock(resourceKey)
}

// LocalLocker is the in-process ResourceLocker used when a single reactor
// instance owns the playback device.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

var _ ports.ResourceLocker = (*LocalLocker)(nil)

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

func (l *LocalLocker) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
