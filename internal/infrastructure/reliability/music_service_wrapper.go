package reliability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
	"tipwire/internal/infrastructure/monitoring"
	"tipwire/pkg/circuitbreaker"
)

// MusicServiceWrapper guards every music collaborator call with a circuit
// breaker and records call latency. Retry policy stays with the queue manager,
// which owns the idempotency keys; stacking a second retry layer here would
// multiply attempts.
type MusicServiceWrapper struct {
	service ports.MusicService
	breaker *circuitbreaker.CircuitBreaker
	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger
}

var _ ports.MusicService = (*MusicServiceWrapper)(nil)

func NewMusicServiceWrapper(
	service ports.MusicService,
	cbConfig circuitbreaker.Config,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *MusicServiceWrapper {
	w := &MusicServiceWrapper{
		service: service,
		breaker: circuitbreaker.New(cbConfig),
		metrics: metrics,
		logger:  logger,
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("music service circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func (w *MusicServiceWrapper) ResolveTrack(ctx context.Context, query string) (*domain.Track, error) {
	var track *domain.Track
	err := w.call(ctx, "resolve_track", func() error {
		var err error
		track, err = w.service.ResolveTrack(ctx, query)
		return err
	})
	return track, err
}

func (w *MusicServiceWrapper) CheckAvailability(ctx context.Context, trackID, market string) (bool, error) {
	var available bool
	err := w.call(ctx, "check_availability", func() error {
		var err error
		available, err = w.service.CheckAvailability(ctx, trackID, market)
		return err
	})
	return available, err
}

func (w *MusicServiceWrapper) ListDevices(ctx context.Context) ([]domain.Device, error) {
	var devices []domain.Device
	err := w.call(ctx, "list_devices", func() error {
		var err error
		devices, err = w.service.ListDevices(ctx)
		return err
	})
	return devices, err
}

func (w *MusicServiceWrapper) Enqueue(ctx context.Context, trackID, deviceID, idempotencyKey string) error {
	return w.call(ctx, "enqueue", func() error {
		return w.service.Enqueue(ctx, trackID, deviceID, idempotencyKey)
	})
}

func (w *MusicServiceWrapper) Skip(ctx context.Context, deviceID string) error {
	return w.call(ctx, "skip", func() error {
		return w.service.Skip(ctx, deviceID)
	})
}

func (w *MusicServiceWrapper) call(ctx context.Context, operation string, fn func() error) error {
	start := time.Now()
	err := w.breaker.Execute(ctx, fn)
	if w.metrics != nil {
		w.metrics.RecordCollaboratorCall("music_service", operation, time.Since(start))
	}
	if circuitbreaker.IsOpen(err) {
		w.logger.Warnw("music service call short-circuited", "operation", operation)
	}
	return err
}
