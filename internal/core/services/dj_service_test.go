package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tipwire/internal/core/domain"
	apperrors "tipwire/pkg/errors"
	"tipwire/internal/infrastructure/repositories/memory"
	"tipwire/pkg/retry"
)

// fakeMusicService is a scriptable music collaborator.
type fakeMusicService struct {
	mu           sync.Mutex
	tracks       map[string]*domain.Track
	devices      []domain.Device
	enqueued     []string
	enqueueErr   error
	enqueueGate  chan struct{}
	skipErr      error
	resolveCalls int
	skipCalls    int
}

func newFakeMusic() *fakeMusicService {
	return &fakeMusicService{
		tracks: map[string]*domain.Track{
			"blinding lights": {ID: "trk_1", Title: "Blinding Lights", Artist: "The Weeknd", Markets: []string{"US"}},
			"geo locked":      {ID: "trk_2", Title: "Geo Locked", Artist: "Nobody", Markets: []string{"JP"}},
		},
		devices: []domain.Device{
			{ID: "dev_idle", Name: "Idle Speaker", Active: false},
			{ID: "dev_1", Name: "Studio", Active: true},
		},
	}
}

func (f *fakeMusicService) ResolveTrack(_ context.Context, query string) (*domain.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if t, ok := f.tracks[query]; ok {
		return t, nil
	}
	return nil, domain.ErrTrackNotFound
}

func (f *fakeMusicService) CheckAvailability(_ context.Context, trackID, market string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tracks {
		if t.ID == trackID {
			for _, m := range t.Markets {
				if m == market {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func (f *fakeMusicService) ListDevices(_ context.Context) ([]domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, nil
}

func (f *fakeMusicService) Enqueue(_ context.Context, trackID, deviceID, idempotencyKey string) error {
	f.mu.Lock()
	gate := f.enqueueGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, trackID+"@"+deviceID)
	return nil
}

func (f *fakeMusicService) Skip(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skipCalls++
	return f.skipErr
}

func newTestDJ(t *testing.T) (*DJServiceImpl, *memory.MemoryUserRepository, *fakeMusicService, *GuardService) {
	t.Helper()
	users := memory.NewMemoryUserRepository()
	songCache := memory.NewMemorySongCacheRepository(time.Hour)
	t.Cleanup(songCache.Stop)
	music := newFakeMusic()
	guard := NewGuardService(users, NewLocalLocker(), zaptest.NewLogger(t).Sugar())
	dj := NewDJService(
		DJConfig{SongCost: 100, SkipCost: 250, Market: "US", Retry: retry.Config{Enabled: false}},
		users, songCache, music, guard,
		zaptest.NewLogger(t).Sugar(),
	)
	return dj, users, music, guard
}

func songIntent(user domain.UserID, query string, count int) *domain.Intent {
	return &domain.Intent{
		Type:         domain.IntentSongRequest,
		Actor:        user,
		Query:        query,
		RequestCount: count,
	}
}

func TestRequestSong_HappyPathDebitsAndSubmits(t *testing.T) {
	dj, users, music, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 200})

	entry, err := dj.RequestSong(context.Background(), songIntent("alice", "blinding lights", 1))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.EntrySubmitted, entry.Status)
	assert.Equal(t, "trk_1", entry.TrackID)
	assert.Equal(t, 100, entry.CostPaid)
	assert.Equal(t, []string{"trk_1@dev_1"}, music.enqueued)

	rec, err := users.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.Balance)
}

func TestRequestSong_InsufficientFunds(t *testing.T) {
	dj, users, music, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "broke", Balance: 50})

	entry, err := dj.RequestSong(context.Background(), songIntent("broke", "blinding lights", 1))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInsufficientFunds))
	assert.Equal(t, domain.EntryRejected, entry.Status)
	assert.Equal(t, domain.RejectInsufficientFunds, entry.Reason)
	assert.Empty(t, music.enqueued, "no queue mutation before the balance check passes")

	rec, _ := users.Get(context.Background(), "broke")
	assert.Equal(t, 50, rec.Balance, "no debit on rejection")
}

func TestRequestSong_TrackNotFound(t *testing.T) {
	dj, users, _, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 500})

	entry, err := dj.RequestSong(context.Background(), songIntent("alice", "no such song", 1))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	assert.Equal(t, domain.EntryRejected, entry.Status)
	assert.Equal(t, domain.RejectNotFound, entry.Reason)

	rec, _ := users.Get(context.Background(), "alice")
	assert.Equal(t, 500, rec.Balance)
}

func TestRequestSong_UnavailableInMarket(t *testing.T) {
	dj, users, _, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 500})

	entry, err := dj.RequestSong(context.Background(), songIntent("alice", "geo locked", 1))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnavailable))
	assert.Equal(t, domain.RejectUnavailable, entry.Reason)
}

func TestRequestSong_SecondRequestHitsCache(t *testing.T) {
	dj, users, music, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 1000})

	_, err := dj.RequestSong(context.Background(), songIntent("alice", "blinding lights", 1))
	require.NoError(t, err)
	_, err = dj.RequestSong(context.Background(), songIntent("alice", "Blinding Lights", 1))
	require.NoError(t, err)

	assert.Equal(t, 1, music.resolveCalls, "normalized repeat query resolves from cache")
}

func TestRequestSong_EnqueueFailureRejectsWithoutCharge(t *testing.T) {
	dj, users, music, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 300})
	music.enqueueErr = errors.New("upstream 502")

	entry, err := dj.RequestSong(context.Background(), songIntent("alice", "blinding lights", 1))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCollaborator))
	assert.Equal(t, domain.EntryRejected, entry.Status)
	assert.Equal(t, domain.RejectSubmitFailed, entry.Reason)

	rec, _ := users.Get(context.Background(), "alice")
	assert.Equal(t, 300, rec.Balance)
}

func TestRequestSong_MultiPlayTipChargesPerPlay(t *testing.T) {
	dj, users, music, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 500})

	entry, err := dj.RequestSong(context.Background(), songIntent("alice", "blinding lights", 3))
	require.NoError(t, err)
	assert.Equal(t, domain.EntrySubmitted, entry.Status)
	assert.Equal(t, 300, entry.CostPaid)
	assert.Len(t, music.enqueued, 3)

	rec, _ := users.Get(context.Background(), "alice")
	assert.Equal(t, 200, rec.Balance)
}

func TestRequestSong_DeferredWhileLockHeld(t *testing.T) {
	dj, users, music, guard := newTestDJ(t)
	// Retry enabled so the replay path checks its context before calling out.
	dj.cfg.Retry = retry.Config{Enabled: true, MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	users.Seed(&domain.UserRecord{ID: "r1", Balance: 200})
	users.Seed(&domain.UserRecord{ID: "r2", Balance: 200})

	// Simulate another holder of the queue lock.
	require.True(t, guard.TryLock(QueueResourceKey))

	// Callers cancel their context as soon as the call returns; the replay
	// must survive that.
	ctx, cancel := context.WithCancel(context.Background())
	entry, err := dj.RequestSong(ctx, songIntent("r2", "blinding lights", 1))
	cancel()
	require.NoError(t, err)
	assert.Equal(t, domain.EntryPending, entry.Status, "request defers while the queue is locked")
	assert.Empty(t, music.enqueued)

	// Releasing through the service replays the deferred request.
	guard.Unlock(QueueResourceKey)
	got, err := dj.RequestSong(context.Background(), songIntent("r1", "blinding lights", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.EntrySubmitted, got.Status)

	entries := dj.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.EntrySubmitted, e.Status)
	}
	assert.Len(t, music.enqueued, 2)
}

func TestRequestSong_PendingListBounded(t *testing.T) {
	dj, users, _, guard := newTestDJ(t)
	dj.cfg.PendingMax = 1
	users.Seed(&domain.UserRecord{ID: "a", Balance: 200})
	users.Seed(&domain.UserRecord{ID: "b", Balance: 200})

	require.True(t, guard.TryLock(QueueResourceKey))
	defer guard.Unlock(QueueResourceKey)

	first, err := dj.RequestSong(context.Background(), songIntent("a", "blinding lights", 1))
	require.NoError(t, err)
	assert.Equal(t, domain.EntryPending, first.Status)

	second, err := dj.RequestSong(context.Background(), songIntent("b", "blinding lights", 1))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnavailable))
	assert.Equal(t, domain.RejectQueueFull, second.Reason)
}

func TestSkipSong(t *testing.T) {
	dj, users, music, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 300})

	err := dj.SkipSong(context.Background(), &domain.Intent{Type: domain.IntentSkipRequest, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, music.skipCalls)

	rec, _ := users.Get(context.Background(), "alice")
	assert.Equal(t, 50, rec.Balance)
}

func TestSkipSong_InsufficientFunds(t *testing.T) {
	dj, users, music, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 100})

	err := dj.SkipSong(context.Background(), &domain.Intent{Type: domain.IntentSkipRequest, Actor: "alice"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInsufficientFunds))
	assert.Equal(t, 0, music.skipCalls)
}

func TestSkipSong_ThrottledWhileLocked(t *testing.T) {
	dj, users, music, guard := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 300})

	require.True(t, guard.TryLock(QueueResourceKey))
	defer guard.Unlock(QueueResourceKey)

	err := dj.SkipSong(context.Background(), &domain.Intent{Type: domain.IntentSkipRequest, Actor: "alice"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeThrottled))
	// The user notice names the busy resource instead of a zero countdown.
	assert.Contains(t, apperrors.GetAppError(err).Message, "busy")
	assert.NotContains(t, apperrors.GetAppError(err).Message, "0s")
	assert.Equal(t, 0, music.skipCalls)
}

func TestMarkPlayed_MonotonicTransitions(t *testing.T) {
	dj, users, _, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 200})

	entry, err := dj.RequestSong(context.Background(), songIntent("alice", "blinding lights", 1))
	require.NoError(t, err)

	require.NoError(t, dj.MarkPlayed(entry.ID))
	assert.Error(t, dj.MarkPlayed(entry.ID), "played is terminal")
	assert.Error(t, dj.MarkPlayed("ent_missing"))
}

func TestReportPosition_AdvisoryOnly(t *testing.T) {
	dj, users, _, _ := newTestDJ(t)
	users.Seed(&domain.UserRecord{ID: "alice", Balance: 200})

	entry, err := dj.RequestSong(context.Background(), songIntent("alice", "blinding lights", 1))
	require.NoError(t, err)

	dj.ReportPosition(entry.ID, 4)
	entries := dj.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 4, entries[0].ReportedPosition)
	assert.Equal(t, domain.EntrySubmitted, entries[0].Status, "position report never changes status")
}
