package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tipwire/internal/core/domain"
)

func TestGet_UpsertsDefaultRecord(t *testing.T) {
	repo := NewMemoryUserRepository()

	rec, err := repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), rec.ID)
	assert.Equal(t, 0, rec.Balance)
	assert.False(t, rec.IsVIP)
	assert.NotNil(t, rec.LastTriggerAt)

	// A second read returns the same record, not a new one.
	again, err := repo.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, rec.Version, again.Version)
}

func TestCommit_VersionMismatchConflicts(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	rec, err := repo.Get(ctx, "bob")
	require.NoError(t, err)

	first := rec.Clone()
	first.Balance = 100
	require.NoError(t, repo.Commit(ctx, &domain.UserTxn{Record: first, ReadVersion: rec.Version}))

	// Second writer committed against the stale version.
	stale := rec.Clone()
	stale.Balance = 999
	err = repo.Commit(ctx, &domain.UserTxn{Record: stale, ReadVersion: rec.Version})
	assert.ErrorIs(t, err, domain.ErrCommitConflict)

	// The first commit stands.
	got, err := repo.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 100, got.Balance)
}

func TestCommit_ConcurrentWritersOnlyOneSucceeds(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	base, err := repo.Get(ctx, "carol")
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := base.Clone()
			rec.LastTriggerAt["vip_audio"] = time.Now()
			if repo.Commit(ctx, &domain.UserTxn{Record: rec, ReadVersion: base.Version}) == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one commit against the same read version may win")
}

func TestGet_ReturnsCopy(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	rec, _ := repo.Get(ctx, "dave")
	rec.Balance = 12345
	rec.LastTriggerAt["x"] = time.Now()

	fresh, _ := repo.Get(ctx, "dave")
	assert.Equal(t, 0, fresh.Balance, "mutating a read copy must not affect the store")
	assert.Empty(t, fresh.LastTriggerAt)
}

func TestSeed(t *testing.T) {
	repo := NewMemoryUserRepository()

	repo.Seed(&domain.UserRecord{ID: "vip1", IsVIP: true, AudioFile: "clip1.mp3", Balance: 500})

	rec, err := repo.Get(context.Background(), "vip1")
	require.NoError(t, err)
	assert.True(t, rec.IsVIP)
	assert.Equal(t, "clip1.mp3", rec.AudioFile)
	assert.Equal(t, 500, rec.Balance)
}
