package monitoring

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"tipwire/internal/core/ports"
)

// AddRedisCheck adds a Redis connectivity check.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddMusicServiceCheck verifies the music collaborator answers. Device
// listing is the cheapest read the service exposes.
func (h *HealthChecker) AddMusicServiceCheck(music ports.MusicService, interval, timeout time.Duration) {
	h.AddCheck("music_service", func(ctx context.Context) (bool, error) {
		if _, err := music.ListDevices(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddUserStoreCheck verifies the user store responds to a read.
func (h *HealthChecker) AddUserStoreCheck(users ports.UserRepository, interval, timeout time.Duration) {
	h.AddCheck("user_store", func(ctx context.Context) (bool, error) {
		if _, err := users.Get(ctx, "health:sentinel"); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}
