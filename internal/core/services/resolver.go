package services

import (
	"context"
	"strings"
	"time"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
	"tipwire/pkg/cache"

	"go.uber.org/zap"
)

// ResolverConfig is the slice of configuration the resolver needs.
type ResolverConfig struct {
	CommandSymbol string
	SongCost      int
	SkipCost      int
	UserRefresh   time.Duration
}

// ResolverService parses raw events into typed intents. Permission lookups go
// through a snapshot cache with a bounded refresh interval; stale VIP or
// admin flags within that window are an accepted trade-off.
type ResolverService struct {
	cfg      ResolverConfig
	commands *CommandTable
	users    ports.UserRepository
	snapshot *cache.Cache
	logger   *zap.SugaredLogger
}

var _ ports.Resolver = (*ResolverService)(nil)

func NewResolverService(cfg ResolverConfig, commands *CommandTable, users ports.UserRepository, logger *zap.SugaredLogger) *ResolverService {
	if cfg.UserRefresh <= 0 {
		cfg.UserRefresh = 300 * time.Second
	}
	return &ResolverService{
		cfg:      cfg,
		commands: commands,
		users:    users,
		snapshot: cache.New(cfg.UserRefresh),
		logger:   logger,
	}
}

// Resolve maps an event to at most one intent. A nil intent with nil error
// means the event carries nothing actionable and is silently dropped.
func (r *ResolverService) Resolve(ctx context.Context, event *domain.Event) (*domain.Intent, error) {
	switch event.Kind {
	case domain.EventTip:
		return r.resolveTip(event), nil
	case domain.EventChatMessage:
		return r.resolveChat(ctx, event)
	case domain.EventUserEnter:
		return r.resolveUserEnter(ctx, event)
	default:
		return nil, nil
	}
}

func (r *ResolverService) resolveTip(event *domain.Event) *domain.Intent {
	if event.Tokens <= 0 {
		return nil
	}

	// Skip is checked first: its cost is distinct and a skip tip carries no
	// song text.
	if r.cfg.SkipCost > 0 && event.Tokens%r.cfg.SkipCost == 0 {
		return &domain.Intent{
			Type:        domain.IntentSkipRequest,
			Actor:       event.UserID,
			DisplayName: event.DisplayName,
		}
	}

	if r.cfg.SongCost > 0 && event.Tokens%r.cfg.SongCost == 0 {
		query := strings.TrimSpace(event.Message)
		if query == "" {
			return nil
		}
		return &domain.Intent{
			Type:         domain.IntentSongRequest,
			Actor:        event.UserID,
			DisplayName:  event.DisplayName,
			Query:        query,
			RequestCount: event.Tokens / r.cfg.SongCost,
		}
	}

	return nil
}

func (r *ResolverService) resolveChat(ctx context.Context, event *domain.Event) (*domain.Intent, error) {
	msg := strings.TrimSpace(event.Message)

	if strings.HasPrefix(msg, r.cfg.CommandSymbol) {
		return r.resolveCommand(ctx, event, msg)
	}

	// Non-command chat can still match a per-user custom trigger.
	if _, ok := r.commands.CustomAction(event.UserID); ok {
		return &domain.Intent{
			Type:        domain.IntentCustomAction,
			Actor:       event.UserID,
			DisplayName: event.DisplayName,
			ActionName:  string(event.UserID),
		}, nil
	}

	return nil, nil
}

func (r *ResolverService) resolveCommand(ctx context.Context, event *domain.Event, msg string) (*domain.Intent, error) {
	parts := strings.Fields(strings.TrimPrefix(msg, r.cfg.CommandSymbol))
	if len(parts) == 0 {
		return nil, nil
	}

	name := strings.ToLower(parts[0])
	spec, known := r.commands.Lookup(name)
	if !known {
		r.logger.Debugw("unknown command dropped", "command", name, "user_id", event.UserID)
		return nil, nil
	}

	if spec.AdminOnly {
		rec, err := r.userSnapshot(ctx, event.UserID)
		if err != nil {
			return nil, err
		}
		if !rec.IsAdmin {
			// Insufficient permission is an audit signal, never an error
			// surfaced to the platform.
			r.logger.Infow("admin command denied",
				"command", name,
				"user_id", event.UserID,
			)
			return nil, nil
		}
	}

	return &domain.Intent{
		Type:        domain.IntentCommand,
		Actor:       event.UserID,
		DisplayName: event.DisplayName,
		Command:     name,
		Args:        parts[1:],
	}, nil
}

func (r *ResolverService) resolveUserEnter(ctx context.Context, event *domain.Event) (*domain.Intent, error) {
	rec, err := r.userSnapshot(ctx, event.UserID)
	if err != nil {
		return nil, err
	}

	if !rec.IsVIP || rec.AudioFile == "" {
		return nil, nil
	}

	return &domain.Intent{
		Type:        domain.IntentVipTrigger,
		Actor:       event.UserID,
		DisplayName: event.DisplayName,
		AudioFile:   rec.AudioFile,
	}, nil
}

// userSnapshot returns a possibly stale user record for permission checks.
// Cooldown and balance mutations never go through this path.
func (r *ResolverService) userSnapshot(ctx context.Context, id domain.UserID) (*domain.UserRecord, error) {
	if v, ok := r.snapshot.Get(string(id)); ok {
		return v.(*domain.UserRecord), nil
	}

	rec, err := r.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.snapshot.Set(string(id), rec)
	return rec, nil
}

// Stop releases the snapshot cache's cleanup goroutine.
func (r *ResolverService) Stop() {
	r.snapshot.Stop()
}
