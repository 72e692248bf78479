package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tipwire/internal/core/domain"
	"tipwire/internal/core/ports"
	apperrors "tipwire/pkg/errors"
	"tipwire/pkg/retry"
	"tipwire/pkg/utils"
)

// QueueResourceKey guards all mutations against the external music queue.
// There is a single active playback device, so one key covers both device
// selection and enqueue/skip calls.
const QueueResourceKey = "music:queue"

// DJConfig is the slice of configuration the queue manager needs.
type DJConfig struct {
	SongCost     int
	SkipCost     int
	Market       string
	SongCacheTTL time.Duration
	// PendingMax bounds the deferred-request list. Zero means unbounded.
	PendingMax int
	Retry      retry.Config
}

type deferredRequest struct {
	ctx     context.Context
	intent  *domain.Intent
	entryID string
}

// QueueMetrics receives queue lifecycle observations.
type QueueMetrics interface {
	RecordQueueEntry(status domain.EntryStatus, reason domain.RejectReason)
	SetDeferredPending(n int)
	RecordQueueLockContention()
}

// DJServiceImpl owns the logical song queue. It tracks every request through
// its lifecycle, serializes external queue mutations behind the guard's
// queue lock, and couples the balance debit with the Submitted transition in
// a single optimistic commit.
type DJServiceImpl struct {
	cfg     DJConfig
	users   ports.UserRepository
	cache   ports.SongCacheRepository
	music   ports.MusicService
	guard   ports.Guard
	logger  *zap.SugaredLogger
	metrics QueueMetrics

	mu       sync.Mutex
	entries  map[string]*domain.QueueEntry
	order    []string
	pending  []deferredRequest
	deviceID string
}

var _ ports.DJService = (*DJServiceImpl)(nil)

func NewDJService(cfg DJConfig, users ports.UserRepository, cache ports.SongCacheRepository, music ports.MusicService, guard ports.Guard, logger *zap.SugaredLogger) *DJServiceImpl {
	if cfg.SongCacheTTL <= 0 {
		cfg.SongCacheTTL = 24 * time.Hour
	}
	return &DJServiceImpl{
		cfg:     cfg,
		users:   users,
		cache:   cache,
		music:   music,
		guard:   guard,
		logger:  logger,
		entries: make(map[string]*domain.QueueEntry),
	}
}

// SetMetrics attaches a queue metrics sink. Call before the first request.
func (d *DJServiceImpl) SetMetrics(m QueueMetrics) {
	d.metrics = m
}

// RequestSong runs one song request through the full admission pipeline:
// balance precheck, track resolution through the cache, then the locked
// enqueue-and-debit section. The returned entry reflects the terminal status,
// or Pending when the request was deferred behind a busy queue.
func (d *DJServiceImpl) RequestSong(ctx context.Context, intent *domain.Intent) (*domain.QueueEntry, error) {
	entryID := d.newEntry(intent)

	if err := d.precheck(ctx, intent, entryID); err != nil {
		return d.entrySnapshot(entryID), err
	}

	d.mu.Lock()
	if !d.guard.TryLock(QueueResourceKey) {
		if d.cfg.PendingMax > 0 && len(d.pending) >= d.cfg.PendingMax {
			d.mu.Unlock()
			d.reject(entryID, domain.RejectQueueFull)
			return d.entrySnapshot(entryID), apperrors.NewUnavailableError("pending request list full")
		}
		// The caller's context is cancelled as soon as this call returns;
		// the replay must not inherit that cancellation.
		d.pending = append(d.pending, deferredRequest{ctx: context.WithoutCancel(ctx), intent: intent, entryID: entryID})
		depth := len(d.pending)
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.RecordQueueLockContention()
			d.metrics.SetDeferredPending(depth)
		}
		d.logger.Infow("queue busy, request deferred",
			"entry_id", entryID,
			"user_id", intent.Actor,
		)
		return d.entrySnapshot(entryID), nil
	}
	d.mu.Unlock()

	err := d.submit(ctx, intent, entryID)
	d.releaseAndDrain()
	return d.entrySnapshot(entryID), err
}

// SkipSong debits the skip cost and advances the external queue. A busy queue
// lock throttles the skip rather than deferring it.
func (d *DJServiceImpl) SkipSong(ctx context.Context, intent *domain.Intent) error {
	rec, err := d.users.Get(ctx, intent.Actor)
	if err != nil {
		return err
	}
	if rec.Balance < d.cfg.SkipCost {
		return apperrors.NewInsufficientFundsError(rec.Balance, d.cfg.SkipCost)
	}

	if !d.guard.TryLock(QueueResourceKey) {
		return apperrors.NewResourceBusyError("song queue")
	}
	defer d.releaseAndDrain()

	deviceID, err := d.activeDevice(ctx)
	if err != nil {
		return err
	}

	if err := retry.Do(ctx, d.cfg.Retry, func() error {
		return d.music.Skip(ctx, deviceID)
	}); err != nil {
		return apperrors.NewCollaboratorError(err, "music service")
	}

	if err := d.debit(ctx, intent.Actor, d.cfg.SkipCost); err != nil {
		// The skip already happened; the failed debit is an audit problem,
		// not a user-visible one.
		d.logger.Errorw("debit failed after skip", "user_id", intent.Actor, "error", err)
	}

	d.logger.Infow("song skipped", "user_id", intent.Actor, "device_id", deviceID)
	return nil
}

// Entries returns a snapshot of the request ledger in admission order.
func (d *DJServiceImpl) Entries() []domain.QueueEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.QueueEntry, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.entries[id])
	}
	return out
}

// MarkPlayed records an external completion report. Only a Submitted entry
// can transition to Played.
func (d *DJServiceImpl) MarkPlayed(entryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[entryID]
	if !ok {
		return apperrors.NewNotFoundError("queue entry")
	}
	if entry.Status != domain.EntrySubmitted {
		return apperrors.NewConflictError("entry is not submitted")
	}
	entry.Status = domain.EntryPlayed
	if d.metrics != nil {
		d.metrics.RecordQueueEntry(domain.EntryPlayed, "")
	}
	return nil
}

// ReportPosition stores the position the external service last reported for
// an entry. Advisory only.
func (d *DJServiceImpl) ReportPosition(entryID string, position int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.entries[entryID]; ok {
		entry.ReportedPosition = position
	}
}

func (d *DJServiceImpl) newEntry(intent *domain.Intent) string {
	entry := &domain.QueueEntry{
		ID:         utils.GenerateEntryID(),
		Requester:  intent.Actor,
		Query:      intent.Query,
		Status:     domain.EntryPending,
		EnqueuedAt: time.Now(),
	}
	d.mu.Lock()
	d.entries[entry.ID] = entry
	d.order = append(d.order, entry.ID)
	d.mu.Unlock()
	return entry.ID
}

// precheck rejects before any queue mutation: insufficient balance, unknown
// track, or a track the configured market cannot play. The resolved track ID
// is recorded on the entry for the locked section.
func (d *DJServiceImpl) precheck(ctx context.Context, intent *domain.Intent, entryID string) error {
	cost := d.requestCost(intent)

	rec, err := d.users.Get(ctx, intent.Actor)
	if err != nil {
		return err
	}
	if rec.Balance < cost {
		d.reject(entryID, domain.RejectInsufficientFunds)
		return apperrors.NewInsufficientFundsError(rec.Balance, cost)
	}

	cached, err := d.resolveTrack(ctx, intent.Query)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeNotFound) {
			d.reject(entryID, domain.RejectNotFound)
		} else {
			d.reject(entryID, domain.RejectSubmitFailed)
		}
		return err
	}
	if !cached.AvailableIn(d.cfg.Market) {
		d.reject(entryID, domain.RejectUnavailable)
		return apperrors.NewUnavailableError("track not available in market " + d.cfg.Market)
	}

	d.mu.Lock()
	d.entries[entryID].TrackID = cached.TrackID
	d.mu.Unlock()
	return nil
}

// resolveTrack reads through the song cache. A miss resolves against the
// music collaborator and caches the result, including market availability, so
// repeat requests for the same song skip both external calls.
func (d *DJServiceImpl) resolveTrack(ctx context.Context, query string) (*domain.SongCacheEntry, error) {
	key := utils.NormalizeQuery(query)

	if cached, err := d.cache.Get(ctx, key); err == nil {
		return cached, nil
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		d.logger.Warnw("song cache read failed", "key", key, "error", err)
	}

	track, err := d.music.ResolveTrack(ctx, query)
	if err != nil {
		if errors.Is(err, domain.ErrTrackNotFound) {
			return nil, apperrors.NewNotFoundError("track")
		}
		return nil, apperrors.NewCollaboratorError(err, "music service")
	}

	markets := track.Markets
	if len(markets) == 0 {
		ok, err := d.music.CheckAvailability(ctx, track.ID, d.cfg.Market)
		if err != nil {
			return nil, apperrors.NewCollaboratorError(err, "music service")
		}
		if ok {
			markets = []string{d.cfg.Market}
		}
	}

	cached := &domain.SongCacheEntry{
		Query:      query,
		TrackID:    track.ID,
		Title:      track.Title,
		Artist:     track.Artist,
		Markets:    markets,
		ResolvedAt: time.Now(),
	}
	if err := d.cache.Put(ctx, key, cached, d.cfg.SongCacheTTL); err != nil {
		d.logger.Warnw("song cache write failed", "key", key, "error", err)
	}
	return cached, nil
}

// submit runs the locked section: device selection, external enqueue, then
// the coupled debit-and-transition commit. Caller holds the queue lock.
func (d *DJServiceImpl) submit(ctx context.Context, intent *domain.Intent, entryID string) error {
	deviceID, err := d.activeDevice(ctx)
	if err != nil {
		d.reject(entryID, domain.RejectNoDevice)
		return err
	}

	entry := d.entrySnapshot(entryID)
	count := intent.RequestCount
	if count < 1 {
		count = 1
	}

	// One enqueue per purchased play, each with its own idempotency key.
	// A failure before the first success rejects without charge; a failure
	// after partial success charges only the plays that made it.
	submitted := 0
	for i := 0; i < count; i++ {
		idemKey := utils.GenerateIdempotencyKey()
		err := retry.Do(ctx, d.cfg.Retry, func() error {
			return d.music.Enqueue(ctx, entry.TrackID, deviceID, idemKey)
		})
		if err != nil {
			if submitted == 0 {
				d.reject(entryID, domain.RejectSubmitFailed)
				return apperrors.NewCollaboratorError(err, "music service")
			}
			d.logger.Warnw("partial enqueue, charging submitted plays only",
				"entry_id", entryID,
				"submitted", submitted,
				"requested", count,
				"error", err,
			)
			break
		}
		submitted++
	}

	cost := d.cfg.SongCost * submitted
	if err := d.debit(ctx, intent.Actor, cost); err != nil {
		// The track is already on the external queue. The debit conflict is
		// logged for reconciliation; the submission stands.
		d.logger.Errorw("debit failed after enqueue",
			"entry_id", entryID,
			"user_id", intent.Actor,
			"cost", cost,
			"error", err,
		)
	}

	d.mu.Lock()
	e := d.entries[entryID]
	e.Status = domain.EntrySubmitted
	e.CostPaid = cost
	e.SubmittedAt = time.Now()
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordQueueEntry(domain.EntrySubmitted, "")
	}

	d.logger.Infow("song request submitted",
		"entry_id", entryID,
		"user_id", intent.Actor,
		"track_id", entry.TrackID,
		"plays", submitted,
		"cost", cost,
	)
	return nil
}

// releaseAndDrain gives up the queue lock and replays deferred requests while
// the lock can be immediately reacquired. If another requester wins the lock
// in between, draining becomes their job.
func (d *DJServiceImpl) releaseAndDrain() {
	d.guard.Unlock(QueueResourceKey)
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return
		}
		if !d.guard.TryLock(QueueResourceKey) {
			d.mu.Unlock()
			return
		}
		next := d.pending[0]
		d.pending = d.pending[1:]
		depth := len(d.pending)
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.SetDeferredPending(depth)
		}

		if err := d.submit(next.ctx, next.intent, next.entryID); err != nil {
			d.logger.Warnw("deferred request failed",
				"entry_id", next.entryID,
				"user_id", next.intent.Actor,
				"error", err,
			)
		}
		d.guard.Unlock(QueueResourceKey)
	}
}

// debit subtracts cost from the user's balance with one conflict retry. The
// balance is re-read on each attempt, so a balance that dropped since the
// precheck is still never driven negative.
func (d *DJServiceImpl) debit(ctx context.Context, userID domain.UserID, cost int) error {
	if cost <= 0 {
		return nil
	}
	for attempt := 0; attempt < 2; attempt++ {
		rec, err := d.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if rec.Balance < cost {
			return apperrors.NewInsufficientFundsError(rec.Balance, cost)
		}
		updated := rec.Clone()
		updated.Balance -= cost
		err = d.users.Commit(ctx, &domain.UserTxn{Record: updated, ReadVersion: rec.Version})
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrCommitConflict) {
			return err
		}
	}
	return apperrors.NewConflictError("balance commit conflict")
}

// activeDevice returns the cached playback device or selects the first
// active one. Caller holds the queue lock.
func (d *DJServiceImpl) activeDevice(ctx context.Context) (string, error) {
	d.mu.Lock()
	cached := d.deviceID
	d.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	devices, err := d.music.ListDevices(ctx)
	if err != nil {
		return "", apperrors.NewCollaboratorError(err, "music service")
	}
	for _, dev := range devices {
		if dev.Active {
			d.mu.Lock()
			d.deviceID = dev.ID
			d.mu.Unlock()
			d.logger.Infow("playback device selected", "device_id", dev.ID, "device_name", dev.Name)
			return dev.ID, nil
		}
	}
	return "", apperrors.NewUnavailableError("no active playback device")
}

func (d *DJServiceImpl) reject(entryID string, reason domain.RejectReason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[entryID]
	if !ok || entry.Status != domain.EntryPending {
		return
	}
	entry.Status = domain.EntryRejected
	entry.Reason = reason
	if d.metrics != nil {
		d.metrics.RecordQueueEntry(domain.EntryRejected, reason)
	}
}

func (d *DJServiceImpl) entrySnapshot(entryID string) *domain.QueueEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.entries[entryID]; ok {
		copied := *entry
		return &copied
	}
	return nil
}

func (d *DJServiceImpl) requestCost(intent *domain.Intent) int {
	count := intent.RequestCount
	if count < 1 {
		count = 1
	}
	return d.cfg.SongCost * count
}
