package services

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
	apperrors "tipwire/pkg/errors"
)

// ComponentFlags toggles handler families. A disabled component ignores its
// intents instead of failing them.
type ComponentFlags struct {
	ChatAutoDJ     bool
	VIPAudio       bool
	CommandParser  bool
	CustomActions  bool
	OBSIntegration bool
}

// CooldownConfig holds the per-trigger-class cooldown windows.
type CooldownConfig struct {
	VIPAudio     time.Duration
	Command      time.Duration
	CustomAction time.Duration
}

// DispatcherConfig is the slice of configuration the dispatcher needs.
type DispatcherConfig struct {
	Workers     int
	QueueDepth  int
	CallTimeout time.Duration
	Components  ComponentFlags
	Cooldowns   CooldownConfig
}

// OutcomeRecorder receives every terminal outcome for metrics.
type OutcomeRecorder interface {
	RecordOutcome(outcome domain.Outcome)
}

type dispatchTask struct {
	ctx    context.Context
	intent *domain.Intent
	done   func(domain.Outcome)
}

// DispatcherService routes intents to exactly one handler each. Intents for
// the same user land on the same worker shard, so per-user ordering holds
// while different users proceed in parallel up to the configured ceiling.
type DispatcherService struct {
	cfg      DispatcherConfig
	resolver ports.Resolver
	guard    ports.Guard
	dj       ports.DJService
	scenes   ports.SceneController
	audio    ports.AudioPlayer
	commands *CommandTable
	metrics  OutcomeRecorder
	logger   *zap.SugaredLogger

	shards   []chan dispatchTask
	workerWG sync.WaitGroup

	// submitMu orders shard submissions against Shutdown: a submission
	// holds the read lock from the stopped check through the channel send,
	// so Shutdown cannot close a shard mid-send.
	submitMu sync.RWMutex
	stopped  atomic.Bool
}

var _ ports.Dispatcher = (*DispatcherService)(nil)

func NewDispatcherService(
	cfg DispatcherConfig,
	resolver ports.Resolver,
	guard ports.Guard,
	dj ports.DJService,
	scenes ports.SceneController,
	audio ports.AudioPlayer,
	commands *CommandTable,
	metrics OutcomeRecorder,
	logger *zap.SugaredLogger,
) *DispatcherService {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	d := &DispatcherService{
		cfg:      cfg,
		resolver: resolver,
		guard:    guard,
		dj:       dj,
		scenes:   scenes,
		audio:    audio,
		commands: commands,
		metrics:  metrics,
		logger:   logger,
		shards:   make([]chan dispatchTask, cfg.Workers),
	}
	for i := range d.shards {
		d.shards[i] = make(chan dispatchTask, cfg.QueueDepth)
		d.workerWG.Add(1)
		go d.worker(i)
	}
	return d
}

// Handle is the ingestion entry point: resolve the event, then dispatch the
// intent if there is one.
func (d *DispatcherService) Handle(ctx context.Context, event *domain.Event) domain.Outcome {
	intent, outcome := d.resolve(ctx, event)
	if outcome != nil {
		return *outcome
	}
	return d.Dispatch(ctx, intent)
}

// HandleAsync resolves the event and parks the intent on its user's shard
// without waiting for the terminal outcome, so a slow collaborator call for
// one user never stalls another user's events. done runs on the worker
// goroutine once the outcome is known; events that never reach a worker
// invoke it inline.
func (d *DispatcherService) HandleAsync(ctx context.Context, event *domain.Event, done func(domain.Outcome)) {
	intent, outcome := d.resolve(ctx, event)
	if outcome == nil {
		outcome = d.submit(ctx, intent, done)
	}
	if outcome != nil && done != nil {
		done(*outcome)
	}
}

func (d *DispatcherService) resolve(ctx context.Context, event *domain.Event) (*domain.Intent, *domain.Outcome) {
	intent, err := d.resolver.Resolve(ctx, event)
	if err != nil {
		d.logger.Errorw("event resolution failed",
			"event_id", event.ID,
			"event_kind", event.Kind,
			"error", err,
		)
		outcome := domain.Failed("", "resolution failed")
		d.record(outcome)
		return nil, &outcome
	}
	if intent == nil {
		outcome := domain.Ignored()
		d.record(outcome)
		return nil, &outcome
	}
	return intent, nil
}

// Dispatch routes the intent to its user's shard and waits for the outcome.
func (d *DispatcherService) Dispatch(ctx context.Context, intent *domain.Intent) domain.Outcome {
	if intent == nil {
		return domain.Ignored()
	}
	result := make(chan domain.Outcome, 1)
	if outcome := d.submit(ctx, intent, func(o domain.Outcome) { result <- o }); outcome != nil {
		return *outcome
	}
	return <-result
}

// submit parks the intent on its user's shard. A non-nil return means the
// task was never queued and carries the reason.
func (d *DispatcherService) submit(ctx context.Context, intent *domain.Intent, done func(domain.Outcome)) *domain.Outcome {
	d.submitMu.RLock()
	defer d.submitMu.RUnlock()

	if d.stopped.Load() {
		outcome := domain.Failed(intent.Type, "dispatcher stopped")
		return &outcome
	}

	select {
	case d.shards[d.shardFor(intent.Actor)] <- dispatchTask{ctx: ctx, intent: intent, done: done}:
		return nil
	case <-ctx.Done():
		outcome := domain.Failed(intent.Type, "dispatch cancelled")
		return &outcome
	}
}

// Shutdown stops accepting intents and drains queued work. In-flight external
// calls finish under their own timeout.
func (d *DispatcherService) Shutdown() {
	d.submitMu.Lock()
	already := d.stopped.Swap(true)
	d.submitMu.Unlock()
	if already {
		return
	}
	for _, shard := range d.shards {
		close(shard)
	}
	d.workerWG.Wait()
}

func (d *DispatcherService) worker(id int) {
	defer d.workerWG.Done()
	for task := range d.shards[id] {
		outcome := d.process(task.ctx, task.intent)
		if task.done != nil {
			task.done(outcome)
		}
	}
}

func (d *DispatcherService) process(ctx context.Context, intent *domain.Intent) domain.Outcome {
	if timer, ok := d.metrics.(interface{ RecordDispatchDuration(time.Duration) }); ok {
		start := time.Now()
		defer func() { timer.RecordDispatchDuration(time.Since(start)) }()
	}

	// Callers come and go; a queue mutation in flight should not be torn
	// down by an ingestion disconnect.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.CallTimeout)
	defer cancel()

	var outcome domain.Outcome
	switch intent.Type {
	case domain.IntentCommand:
		outcome = d.handleCommand(callCtx, intent)
	case domain.IntentCustomAction:
		outcome = d.handleCustomAction(callCtx, intent)
	case domain.IntentVipTrigger:
		outcome = d.handleVipTrigger(callCtx, intent)
	case domain.IntentSongRequest:
		outcome = d.handleSongRequest(callCtx, intent)
	case domain.IntentSkipRequest:
		outcome = d.handleSkipRequest(callCtx, intent)
	default:
		outcome = domain.Ignored()
	}

	d.record(outcome)
	d.logger.Infow("intent dispatched",
		"intent", intent.Type,
		"user_id", intent.Actor,
		"status", outcome.Status,
		"reason", outcome.Reason,
	)
	return outcome
}

func (d *DispatcherService) throttled(intent *domain.Intent, trigger string, remaining time.Duration) domain.Outcome {
	if rec, ok := d.metrics.(interface{ RecordCooldownDenied(trigger string) }); ok {
		rec.RecordCooldownDenied(trigger)
	}
	return domain.Throttled(intent.Type, remaining)
}

func (d *DispatcherService) handleCommand(ctx context.Context, intent *domain.Intent) domain.Outcome {
	if !d.cfg.Components.CommandParser {
		return domain.Ignored()
	}

	spec, ok := d.commands.Lookup(intent.Command)
	if !ok {
		return domain.Ignored()
	}

	grant, err := d.guard.TryAcquire(ctx, intent.Actor, "command:"+intent.Command, d.cfg.Cooldowns.Command)
	if err != nil {
		return domain.Failed(intent.Type, "cooldown check failed")
	}
	if !grant.Granted {
		return d.throttled(intent, "command:"+intent.Command, grant.Remaining)
	}

	return d.runAction(ctx, intent.Type, spec.Action, spec.Scene, spec.File)
}

func (d *DispatcherService) handleCustomAction(ctx context.Context, intent *domain.Intent) domain.Outcome {
	if !d.cfg.Components.CustomActions {
		return domain.Ignored()
	}

	spec, ok := d.commands.CustomAction(intent.Actor)
	if !ok {
		return domain.Ignored()
	}

	grant, err := d.guard.TryAcquire(ctx, intent.Actor, "custom_action", d.cfg.Cooldowns.CustomAction)
	if err != nil {
		return domain.Failed(intent.Type, "cooldown check failed")
	}
	if !grant.Granted {
		return d.throttled(intent, "custom_action", grant.Remaining)
	}

	return d.runAction(ctx, intent.Type, spec.Action, spec.Scene, spec.File)
}

func (d *DispatcherService) handleVipTrigger(ctx context.Context, intent *domain.Intent) domain.Outcome {
	if !d.cfg.Components.VIPAudio {
		return domain.Ignored()
	}

	grant, err := d.guard.TryAcquire(ctx, intent.Actor, "vip_audio", d.cfg.Cooldowns.VIPAudio)
	if err != nil {
		return domain.Failed(intent.Type, "cooldown check failed")
	}
	if !grant.Granted {
		return d.throttled(intent, "vip_audio", grant.Remaining)
	}

	if err := d.audio.Play(ctx, intent.AudioFile); err != nil {
		d.logger.Errorw("vip audio playback failed",
			"user_id", intent.Actor,
			"file", intent.AudioFile,
			"error", err,
		)
		return domain.Failed(intent.Type, "audio playback failed")
	}
	return domain.Completed(intent.Type)
}

func (d *DispatcherService) handleSongRequest(ctx context.Context, intent *domain.Intent) domain.Outcome {
	if !d.cfg.Components.ChatAutoDJ {
		return domain.Ignored()
	}

	// A Pending entry on return means the request was deferred behind a
	// busy queue; that still counts as accepted.
	if _, err := d.dj.RequestSong(ctx, intent); err != nil {
		return d.outcomeFromError(intent.Type, err)
	}
	return domain.Completed(intent.Type)
}

func (d *DispatcherService) handleSkipRequest(ctx context.Context, intent *domain.Intent) domain.Outcome {
	if !d.cfg.Components.ChatAutoDJ {
		return domain.Ignored()
	}

	if err := d.dj.SkipSong(ctx, intent); err != nil {
		return d.outcomeFromError(intent.Type, err)
	}
	return domain.Completed(intent.Type)
}

// runAction executes a configured scene or audio action.
func (d *DispatcherService) runAction(ctx context.Context, intentType domain.IntentType, action CommandAction, scene, file string) domain.Outcome {
	switch action {
	case ActionScene:
		if !d.cfg.Components.OBSIntegration {
			return domain.Ignored()
		}
		if err := d.scenes.SwitchScene(ctx, scene); err != nil {
			d.logger.Errorw("scene switch failed", "scene", scene, "error", err)
			return domain.Failed(intentType, "scene switch failed")
		}
	case ActionAudio:
		if err := d.audio.Play(ctx, file); err != nil {
			d.logger.Errorw("audio playback failed", "file", file, "error", err)
			return domain.Failed(intentType, "audio playback failed")
		}
	default:
		return domain.Failed(intentType, "unknown action")
	}
	return domain.Completed(intentType)
}

func (d *DispatcherService) outcomeFromError(intentType domain.IntentType, err error) domain.Outcome {
	if apperrors.HasCode(err, apperrors.ErrCodeThrottled) {
		return domain.Throttled(intentType, apperrors.Remaining(err))
	}
	if app := apperrors.GetAppError(err); app != nil {
		return domain.Failed(intentType, string(app.Code))
	}
	return domain.Failed(intentType, err.Error())
}

func (d *DispatcherService) record(outcome domain.Outcome) {
	if d.metrics != nil {
		d.metrics.RecordOutcome(outcome)
	}
}

func (d *DispatcherService) shardFor(userID domain.UserID) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.shards)))
}
