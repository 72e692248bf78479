package ports

import (
	"context"
	"time"

	"tipwire/internal/core/domain"
)

// MusicService is the external music collaborator (track resolution, device
// listing, queue mutation). Enqueue takes an idempotency key so a retry after
// an ambiguous failure cannot double-submit.
type MusicService interface {
	ResolveTrack(ctx context.Context, query string) (*domain.Track, error)
	CheckAvailability(ctx context.Context, trackID, market string) (bool, error)
	ListDevices(ctx context.Context) ([]domain.Device, error)
	Enqueue(ctx context.Context, trackID, deviceID, idempotencyKey string) error
	Skip(ctx context.Context, deviceID string) error
}

// SceneController switches the video-production scene.
type SceneController interface {
	SwitchScene(ctx context.Context, name string) error
}

// AudioPlayer plays a local audio file.
type AudioPlayer interface {
	Play(ctx context.Context, file string) error
}

// Resolver turns a raw event into a typed intent. A nil intent with a nil
// error means the event carries nothing actionable.
type Resolver interface {
	Resolve(ctx context.Context, event *domain.Event) (*domain.Intent, error)
}

// Grant is the guard's answer to a cooldown acquisition.
type Grant struct {
	Granted   bool
	Remaining time.Duration
}

// Guard enforces per-(user, trigger) cooldown windows and mutual-exclusion
// resource locks. TryAcquire commits the new trigger timestamp atomically with
// the check; TryLock/Unlock back the lock-class resources and never block.
type Guard interface {
	TryAcquire(ctx context.Context, userID domain.UserID, triggerID string, cooldown time.Duration) (Grant, error)
	TryLock(resourceKey string) bool
	Unlock(resourceKey string)
}

// ResourceLocker backs the guard's mutual-exclusion resources. TryLock never
// blocks; a held key answers false immediately.
type ResourceLocker interface {
	TryLock(key string) bool
	Unlock(key string)
}

// Dispatcher is the core entry point from the ingestion side. HandleAsync is
// the fire-and-forget form: it queues the event's intent and returns without
// waiting, invoking done with the terminal outcome later.
type Dispatcher interface {
	Handle(ctx context.Context, event *domain.Event) domain.Outcome
	HandleAsync(ctx context.Context, event *domain.Event, done func(domain.Outcome))
	Dispatch(ctx context.Context, intent *domain.Intent) domain.Outcome
}

// DJService owns the logical music queue and serializes mutations against the
// external service. MarkPlayed and ReportPosition ingest completion and
// position reports from the external side; position is advisory only.
type DJService interface {
	RequestSong(ctx context.Context, intent *domain.Intent) (*domain.QueueEntry, error)
	SkipSong(ctx context.Context, intent *domain.Intent) error
	Entries() []domain.QueueEntry
	MarkPlayed(entryID string) error
	ReportPosition(entryID string, position int)
}
