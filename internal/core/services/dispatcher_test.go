package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tipwire/internal/core/domain"
	"tipwire/internal/infrastructure/repositories/memory"
	"tipwire/pkg/retry"
)

type fakeSceneController struct {
	mu     sync.Mutex
	scenes []string
	err    error
}

func (f *fakeSceneController) SwitchScene(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.scenes = append(f.scenes, name)
	return nil
}

type fakeAudioPlayer struct {
	mu    sync.Mutex
	files []string
	err   error
}

func (f *fakeAudioPlayer) Play(_ context.Context, file string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.files = append(f.files, file)
	return nil
}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[domain.OutcomeStatus]int
}

func newOutcomeCounter() *outcomeCounter {
	return &outcomeCounter{counts: make(map[domain.OutcomeStatus]int)}
}

func (c *outcomeCounter) RecordOutcome(outcome domain.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[outcome.Status]++
}

func (c *outcomeCounter) get(status domain.OutcomeStatus) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[status]
}

type dispatcherFixture struct {
	dispatcher *DispatcherService
	users      *memory.MemoryUserRepository
	music      *fakeMusicService
	scenes     *fakeSceneController
	audio      *fakeAudioPlayer
	metrics    *outcomeCounter
	guard      *GuardService
	dj         *DJServiceImpl
}

func newDispatcherFixture(t *testing.T, components ComponentFlags) *dispatcherFixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	users := memory.NewMemoryUserRepository()
	songCache := memory.NewMemorySongCacheRepository(time.Hour)
	t.Cleanup(songCache.Stop)

	music := newFakeMusic()
	scenes := &fakeSceneController{}
	audio := &fakeAudioPlayer{}
	metrics := newOutcomeCounter()
	guard := NewGuardService(users, NewLocalLocker(), log)
	table := testCommandTable()

	resolver := NewResolverService(
		ResolverConfig{CommandSymbol: "!", SongCost: 100, SkipCost: 250, UserRefresh: time.Minute},
		table, users, log,
	)
	t.Cleanup(resolver.Stop)

	dj := NewDJService(
		DJConfig{SongCost: 100, SkipCost: 250, Market: "US", Retry: retry.Config{Enabled: false}},
		users, songCache, music, guard, log,
	)

	dispatcher := NewDispatcherService(
		DispatcherConfig{
			Workers:     4,
			CallTimeout: 5 * time.Second,
			Components:  components,
			Cooldowns: CooldownConfig{
				VIPAudio:     time.Hour,
				Command:      5 * time.Second,
				CustomAction: time.Minute,
			},
		},
		resolver, guard, dj, scenes, audio, table, metrics, log,
	)
	t.Cleanup(dispatcher.Shutdown)

	return &dispatcherFixture{
		dispatcher: dispatcher,
		users:      users,
		music:      music,
		scenes:     scenes,
		audio:      audio,
		metrics:    metrics,
		guard:      guard,
		dj:         dj,
	}
}

func allComponents() ComponentFlags {
	return ComponentFlags{
		ChatAutoDJ:     true,
		VIPAudio:       true,
		CommandParser:  true,
		CustomActions:  true,
		OBSIntegration: true,
	}
}

func TestHandle_SongRequestEndToEnd(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	f.users.Seed(&domain.UserRecord{ID: "alice", Balance: 200})

	outcome := f.dispatcher.Handle(context.Background(), &domain.Event{
		Kind:    domain.EventTip,
		UserID:  "alice",
		Tokens:  100,
		Message: "blinding lights",
	})
	assert.Equal(t, domain.OutcomeCompleted, outcome.Status)
	assert.Equal(t, domain.IntentSongRequest, outcome.Intent)

	rec, err := f.users.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 100, rec.Balance)
}

func TestHandle_NonActionableEventIgnored(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())

	outcome := f.dispatcher.Handle(context.Background(), &domain.Event{
		Kind:    domain.EventChatMessage,
		UserID:  "alice",
		Message: "just chatting",
	})
	assert.Equal(t, domain.OutcomeIgnored, outcome.Status)
	assert.Equal(t, 1, f.metrics.get(domain.OutcomeIgnored))
}

func TestDispatch_SceneCommand(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	f.users.Seed(&domain.UserRecord{ID: "boss", IsAdmin: true})

	outcome := f.dispatcher.Handle(context.Background(), &domain.Event{
		Kind:    domain.EventChatMessage,
		UserID:  "boss",
		Message: "!brb",
	})
	assert.Equal(t, domain.OutcomeCompleted, outcome.Status)
	assert.Equal(t, []string{"brb"}, f.scenes.scenes)
}

func TestDispatch_CommandCooldown(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())

	intent := &domain.Intent{Type: domain.IntentCommand, Actor: "chatter", Command: "wtfu"}
	first := f.dispatcher.Dispatch(context.Background(), intent)
	assert.Equal(t, domain.OutcomeCompleted, first.Status)

	second := f.dispatcher.Dispatch(context.Background(), intent)
	assert.Equal(t, domain.OutcomeThrottled, second.Status)
	assert.Greater(t, second.Remaining, time.Duration(0))

	f.audio.mu.Lock()
	defer f.audio.mu.Unlock()
	assert.Len(t, f.audio.files, 1, "throttled command never reaches the player")
}

func TestDispatch_VipTriggerCooldownWindow(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())

	intent := &domain.Intent{Type: domain.IntentVipTrigger, Actor: "vip1", AudioFile: "clip1.mp3"}
	first := f.dispatcher.Dispatch(context.Background(), intent)
	assert.Equal(t, domain.OutcomeCompleted, first.Status)

	second := f.dispatcher.Dispatch(context.Background(), intent)
	assert.Equal(t, domain.OutcomeThrottled, second.Status)
	assert.InDelta(t, time.Hour.Seconds(), second.Remaining.Seconds(), 5)
}

func TestDispatch_DisabledComponentIgnores(t *testing.T) {
	flags := allComponents()
	flags.VIPAudio = false
	f := newDispatcherFixture(t, flags)

	outcome := f.dispatcher.Dispatch(context.Background(), &domain.Intent{
		Type:      domain.IntentVipTrigger,
		Actor:     "vip1",
		AudioFile: "clip1.mp3",
	})
	assert.Equal(t, domain.OutcomeIgnored, outcome.Status)
	f.audio.mu.Lock()
	defer f.audio.mu.Unlock()
	assert.Empty(t, f.audio.files)
}

func TestDispatch_SceneActionWithoutOBSIgnored(t *testing.T) {
	flags := allComponents()
	flags.OBSIntegration = false
	f := newDispatcherFixture(t, flags)

	outcome := f.dispatcher.Dispatch(context.Background(), &domain.Intent{
		Type:    domain.IntentCommand,
		Actor:   "boss",
		Command: "brb",
	})
	assert.Equal(t, domain.OutcomeIgnored, outcome.Status)
	assert.Empty(t, f.scenes.scenes)
}

func TestDispatch_CollaboratorFailure(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	f.audio.err = context.DeadlineExceeded

	outcome := f.dispatcher.Dispatch(context.Background(), &domain.Intent{
		Type:      domain.IntentVipTrigger,
		Actor:     "vip1",
		AudioFile: "clip1.mp3",
	})
	assert.Equal(t, domain.OutcomeFailed, outcome.Status)
	assert.Equal(t, 1, f.metrics.get(domain.OutcomeFailed))
}

func TestDispatch_InsufficientFundsFails(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	f.users.Seed(&domain.UserRecord{ID: "broke", Balance: 10})

	outcome := f.dispatcher.Dispatch(context.Background(), songIntent("broke", "blinding lights", 1))
	assert.Equal(t, domain.OutcomeFailed, outcome.Status)
	assert.Equal(t, "INSUFFICIENT_FUNDS", outcome.Reason)
}

func TestDispatch_SkipRequest(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	f.users.Seed(&domain.UserRecord{ID: "alice", Balance: 500})

	outcome := f.dispatcher.Dispatch(context.Background(), &domain.Intent{
		Type:  domain.IntentSkipRequest,
		Actor: "alice",
	})
	assert.Equal(t, domain.OutcomeCompleted, outcome.Status)
	assert.Equal(t, 1, f.music.skipCalls)
}

func TestDispatch_ConcurrentUsersComplete(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	users := []domain.UserID{"u1", "u2", "u3", "u4", "u5", "u6"}
	for _, u := range users {
		f.users.Seed(&domain.UserRecord{ID: u, Balance: 1000})
	}

	var wg sync.WaitGroup
	outcomes := make([]domain.Outcome, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u domain.UserID) {
			defer wg.Done()
			outcomes[i] = f.dispatcher.Dispatch(context.Background(), songIntent(u, "blinding lights", 1))
		}(i, u)
	}
	wg.Wait()

	for i, outcome := range outcomes {
		assert.Equal(t, domain.OutcomeCompleted, outcome.Status, "user %s", users[i])
	}
}

func TestDispatch_AfterShutdownFails(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	f.dispatcher.Shutdown()

	outcome := f.dispatcher.Dispatch(context.Background(), &domain.Intent{
		Type:  domain.IntentCommand,
		Actor: "x",
	})
	assert.Equal(t, domain.OutcomeFailed, outcome.Status)
}

func TestHandle_DeferredSongRequestReplaysAfterRelease(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	// Retry enabled so the replayed request checks its context before
	// calling out; the worker cancels its per-task context on return.
	f.dj.cfg.Retry = retry.Config{Enabled: true, MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	f.users.Seed(&domain.UserRecord{ID: "alice", Balance: 200})
	f.users.Seed(&domain.UserRecord{ID: "bob", Balance: 200})

	require.True(t, f.guard.TryLock(QueueResourceKey))

	first := f.dispatcher.Handle(context.Background(), &domain.Event{
		Kind:    domain.EventTip,
		UserID:  "alice",
		Tokens:  100,
		Message: "blinding lights",
	})
	assert.Equal(t, domain.OutcomeCompleted, first.Status, "deferred request still counts as accepted")
	assert.Empty(t, f.music.enqueued)

	f.guard.Unlock(QueueResourceKey)
	second := f.dispatcher.Handle(context.Background(), &domain.Event{
		Kind:    domain.EventTip,
		UserID:  "bob",
		Tokens:  100,
		Message: "blinding lights",
	})
	assert.Equal(t, domain.OutcomeCompleted, second.Status)

	entries := f.dj.Entries()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, domain.EntrySubmitted, e.Status, "entry for %s", e.Requester)
	}
	for _, u := range []domain.UserID{"alice", "bob"} {
		rec, err := f.users.Get(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, 100, rec.Balance, "user %s", u)
	}
}

func TestHandleAsync_SlowUserDoesNotStallOthers(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())
	f.users.Seed(&domain.UserRecord{ID: "alice", Balance: 200})
	f.users.Seed(&domain.UserRecord{ID: "bob", Balance: 200})

	gate := make(chan struct{})
	f.music.mu.Lock()
	f.music.enqueueGate = gate
	f.music.mu.Unlock()

	// alice and bob hash to different shards, so bob's worker is free
	// while alice's sits in the gated collaborator call.
	slow := make(chan domain.Outcome, 1)
	f.dispatcher.HandleAsync(context.Background(), &domain.Event{
		Kind:    domain.EventTip,
		UserID:  "alice",
		Tokens:  100,
		Message: "blinding lights",
	}, func(o domain.Outcome) { slow <- o })

	fast := f.dispatcher.Handle(context.Background(), &domain.Event{
		Kind:    domain.EventTip,
		UserID:  "bob",
		Tokens:  100,
		Message: "blinding lights",
	})
	assert.Equal(t, domain.OutcomeCompleted, fast.Status)

	select {
	case o := <-slow:
		t.Fatalf("gated request finished early with %s", o.Status)
	default:
	}

	close(gate)
	select {
	case o := <-slow:
		assert.Equal(t, domain.OutcomeCompleted, o.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("gated request never completed")
	}
}

func TestShutdown_ConcurrentWithDispatch(t *testing.T) {
	f := newDispatcherFixture(t, allComponents())

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			for j := 0; j < 50; j++ {
				outcome := f.dispatcher.Dispatch(context.Background(), &domain.Intent{
					Type:    domain.IntentCommand,
					Actor:   domain.UserID(string(rune('a' + i))),
					Command: "wtfu",
				})
				switch outcome.Status {
				case domain.OutcomeCompleted, domain.OutcomeThrottled, domain.OutcomeFailed:
				default:
					t.Errorf("unexpected status %s", outcome.Status)
				}
			}
		}(i)
	}

	close(start)
	f.dispatcher.Shutdown()
	wg.Wait()

	outcome := f.dispatcher.Dispatch(context.Background(), &domain.Intent{
		Type:  domain.IntentCommand,
		Actor: "late",
	})
	assert.Equal(t, domain.OutcomeFailed, outcome.Status)
	assert.Equal(t, "dispatcher stopped", outcome.Reason)
}
