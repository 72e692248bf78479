package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
	"tipwire/internal/infrastructure/monitoring"
	"tipwire/pkg/utils"
	"tipwire/pkg/validation"
)

// EventSource consumes platform events from a redis pub/sub channel and feeds
// them to the dispatcher. It also publishes, so a relay process in front of
// the platform and this service can share one channel.
type EventSource struct {
	client     *redis.Client
	channel    string
	dispatcher ports.Dispatcher
	metrics    *monitoring.PrometheusCollector
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

func NewEventSource(
	client *redis.Client,
	channel string,
	dispatcher ports.Dispatcher,
	metrics *monitoring.PrometheusCollector,
	logger *zap.SugaredLogger,
) *EventSource {
	return &EventSource{
		client:     client,
		channel:    channel,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// Publish pushes one event onto the channel.
func (s *EventSource) Publish(ctx context.Context, event *domain.Event) error {
	if event.ID == "" {
		event.ID = utils.GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Run subscribes and dispatches until the context ends. Malformed or invalid
// payloads are logged and skipped; they never stop the consumer.
func (s *EventSource) Run(ctx context.Context) error {
	if s.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	s.pubsub = s.client.Subscribe(ctx, s.channel)
	defer s.pubsub.Close()

	s.logger.Infow("event source subscribed", "channel", s.channel)
	ch := s.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			s.consume(ctx, msg.Payload)
		}
	}
}

func (s *EventSource) consume(ctx context.Context, payload string) {
	var event domain.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Warnw("malformed event payload dropped",
			"error", err,
			"payload", utils.Truncate(payload, 200),
		)
		return
	}

	if err := s.validate(&event); err != nil {
		s.logger.Warnw("invalid event dropped",
			"event_id", event.ID,
			"event_kind", event.Kind,
			"error", err,
		)
		return
	}

	if event.ID == "" {
		event.ID = utils.GenerateEventID()
	}
	if s.metrics != nil {
		s.metrics.RecordEventIngested(event.Kind)
	}

	// Fire and forget: waiting here would stall the subscription loop
	// behind one slow collaborator call.
	s.dispatcher.HandleAsync(ctx, &event, func(outcome domain.Outcome) {
		s.logger.Infow("event dispatched",
			"event_id", event.ID,
			"status", outcome.Status,
			"reason", outcome.Reason,
		)
	})
}

func (s *EventSource) validate(event *domain.Event) error {
	if err := validation.ValidateEventID(event.ID); err != nil {
		return err
	}
	if err := validation.ValidateUserID(string(event.UserID)); err != nil {
		return err
	}
	if err := validation.ValidateTokens(event.Tokens); err != nil {
		return err
	}
	return validation.ValidateMessage(event.Message)
}

// Close tears down an active subscription.
func (s *EventSource) Close() error {
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
