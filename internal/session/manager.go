package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlive/backend/internal/cache"
	"github.com/emberlive/backend/internal/gate"
	"github.com/emberlive/backend/internal/models"
	"github.com/emberlive/backend/internal/tiers"
)

// Config tunes the manager's timers and caches.
type Config struct {
	TickInterval      time.Duration // elapsed / auto-end check cadence
	HeartbeatInterval time.Duration // creator liveness write cadence
	GateCacheTTL      time.Duration
	HistoryCacheTTL   time.Duration
	HistoryLimit      int // completion records consulted for gating
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Minute
	}
	if c.GateCacheTTL <= 0 {
		c.GateCacheTTL = 30 * time.Second
	}
	if c.HistoryCacheTTL <= 0 {
		c.HistoryCacheTTL = time.Minute
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 200
	}
	return c
}

// Deps are the manager's collaborators. Notifier, Purger and Broadcaster are
// optional.
type Deps struct {
	Store       Store
	Completions CompletionStore
	Attendance  AttendanceStore
	Creators    CreatorStore
	Presence    Presence
	Gate        *gate.Engine
	Notifier    Notifier
	Purger      Purger
	Broadcaster Broadcaster
	Logger      *zap.Logger
}

type gateKey struct {
	creator uuid.UUID
	tier    int
}

// liveSession is the manager's in-memory record of one running session. All
// field access goes through mu, making the manager the single writer for a
// given session.
type liveSession struct {
	mu      sync.Mutex
	s       *models.Session
	tier    tiers.Definition
	stop    chan struct{}
	done    chan struct{}
	stopped bool
	ending  bool
}

// Manager owns the live-session state machine per creator: start, run, end,
// crash-recovery adoption, viewer churn and extensions.
type Manager struct {
	store       Store
	completions CompletionStore
	attendance  AttendanceStore
	creators    CreatorStore
	presence    Presence
	gate        *gate.Engine
	notifier    Notifier
	purger      Purger
	broadcaster Broadcaster
	logger      *zap.Logger
	cfg         Config
	now         func() time.Time

	gateCache    *cache.TTL[gateKey, gate.Result]
	historyCache *cache.TTL[uuid.UUID, []models.CompletionRecord]

	mu   sync.Mutex
	live map[uuid.UUID]*liveSession // by creator
	byID map[uuid.UUID]*liveSession // by session
}

// NewManager creates a lifecycle manager.
func NewManager(deps Deps, cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	gateCache, err := cache.New[gateKey, gate.Result](1024)
	if err != nil {
		return nil, err
	}
	historyCache, err := cache.New[uuid.UUID, []models.CompletionRecord](512)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:        deps.Store,
		completions:  deps.Completions,
		attendance:   deps.Attendance,
		creators:     deps.Creators,
		presence:     deps.Presence,
		gate:         deps.Gate,
		notifier:     deps.Notifier,
		purger:       deps.Purger,
		broadcaster:  deps.Broadcaster,
		logger:       deps.Logger,
		cfg:          cfg,
		now:          time.Now,
		gateCache:    gateCache,
		historyCache: historyCache,
		live:         make(map[uuid.UUID]*liveSession),
		byID:         make(map[uuid.UUID]*liveSession),
	}, nil
}

// Start begins a live session for the creator at the given tier ordinal.
func (m *Manager) Start(ctx context.Context, creatorID uuid.UUID, tierOrdinal int) (*models.Session, error) {
	def, ok := tiers.ByOrdinal(tierOrdinal)
	if !ok {
		return nil, ErrUnknownTier
	}

	// Reserve the creator slot before any I/O so concurrent starts collide
	// here instead of racing the store.
	m.mu.Lock()
	if _, exists := m.live[creatorID]; exists {
		m.mu.Unlock()
		return nil, ErrAlreadyLive
	}
	ls := &liveSession{tier: def}
	m.live[creatorID] = ls
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.live, creatorID)
		m.mu.Unlock()
	}

	level, err := m.creators.CommunityLevel(ctx, creatorID)
	if err != nil {
		release()
		return nil, fmt.Errorf("resolve community level: %w", err)
	}
	history, err := m.history(ctx, creatorID)
	if err != nil {
		release()
		return nil, fmt.Errorf("load completion history: %w", err)
	}

	now := m.now()
	if !m.gate.Unlocked(level, history, def.Ordinal) {
		release()
		return nil, &TierLockedError{Result: m.gate.CheckGate(level, history, def)}
	}
	if remaining := m.gate.CooldownRemaining(history, now); remaining > 0 {
		release()
		return nil, &CooldownError{Remaining: remaining}
	}

	created, err := m.store.Create(ctx, &models.Session{
		CreatorID:          creatorID,
		Tier:               def.Ordinal,
		Status:             models.SessionLive,
		MaxDurationSeconds: def.BaseDurationSeconds(),
		StartedAt:          now,
		LastHeartbeatAt:    now,
	})
	if err != nil {
		// Roll back the reservation so a retried start is not rejected
		// with AlreadyLive.
		release()
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := m.presence.SetLive(ctx, creatorID, created.ID); err != nil {
		m.logger.Warn("set live flag failed", zap.Error(err), zap.String("session_id", created.ID.String()))
	}

	ls.mu.Lock()
	ls.s = created
	ls.stop = make(chan struct{})
	ls.done = make(chan struct{})
	stop, done := ls.stop, ls.done
	ls.mu.Unlock()
	m.mu.Lock()
	m.byID[created.ID] = ls
	m.mu.Unlock()
	go m.run(ls, stop, done)

	if m.notifier != nil {
		m.notifier.WentLive(ctx, created)
	}

	m.logger.Info("session started",
		zap.String("session_id", created.ID.String()),
		zap.String("creator_id", creatorID.String()),
		zap.String("tier", def.Name))
	return created, nil
}

// End finishes the creator's live session and returns the completion record.
func (m *Manager) End(ctx context.Context, creatorID uuid.UUID) (*models.CompletionRecord, error) {
	return m.end(ctx, creatorID, false)
}

func (m *Manager) end(ctx context.Context, creatorID uuid.UUID, fromLoop bool) (*models.CompletionRecord, error) {
	m.mu.Lock()
	ls := m.live[creatorID]
	m.mu.Unlock()
	if ls == nil {
		return nil, ErrNoActiveSession
	}

	// Transition to Ending: stop both timers before any store write so a
	// late tick cannot re-trigger auto-end after a manual end.
	ls.mu.Lock()
	if ls.s == nil || ls.ending {
		ls.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	ls.ending = true
	if !ls.stopped {
		close(ls.stop)
		ls.stopped = true
	}
	done := ls.done
	ls.mu.Unlock()
	if !fromLoop {
		<-done
	}

	// Viewer operations refuse once ending is set, so this snapshot is the
	// final word on the counters.
	now := m.now()
	ls.mu.Lock()
	snap := *ls.s
	ls.mu.Unlock()
	elapsedSeconds := int(now.Sub(snap.StartedAt).Seconds())

	// countsTowardGate is judged against the history as it stood before this
	// end writes its own record.
	history, err := m.history(ctx, creatorID)
	if err != nil {
		m.restartAfterFailedEnd(ls)
		return nil, fmt.Errorf("load completion history: %w", err)
	}

	rec := &models.CompletionRecord{
		CreatorID:        creatorID,
		SessionID:        snap.ID,
		Tier:             snap.Tier,
		DurationSeconds:  elapsedSeconds,
		IsFullCompletion: elapsedSeconds >= ls.tier.BaseDurationSeconds(),
		PeakViewerCount:  snap.PeakViewerCount,
		CoinsEarned:      snap.TotalCoinsSpent,
		CompletedAt:      now,
		CountsTowardGate: !m.gate.IsPastDailyCap(history, now),
	}
	created, err := m.completions.Create(ctx, rec)
	if err != nil {
		// The receipt is the consistency-critical write: roll back to Live so
		// a retried end can succeed.
		m.restartAfterFailedEnd(ls)
		return nil, fmt.Errorf("write completion record: %w", err)
	}

	if err := m.store.SetEnded(ctx, snap.ID, models.SessionEnded, now); err != nil {
		// The purge deletes the session row regardless; the receipt is
		// already durable.
		m.logger.Error("mark session ended failed", zap.Error(err), zap.String("session_id", snap.ID.String()))
	}
	ls.mu.Lock()
	ls.s.Status = models.SessionEnded
	ls.s.EndedAt = &now
	ls.mu.Unlock()

	if err := m.presence.ClearLive(ctx, creatorID); err != nil {
		m.logger.Warn("clear live flag failed", zap.Error(err), zap.String("creator_id", creatorID.String()))
	}

	m.historyCache.Invalidate(creatorID)
	for _, def := range tiers.Ladder {
		m.gateCache.Invalidate(gateKey{creator: creatorID, tier: def.Ordinal})
	}

	m.mu.Lock()
	delete(m.live, creatorID)
	delete(m.byID, snap.ID)
	m.mu.Unlock()

	if m.broadcaster != nil {
		m.broadcaster.Broadcast(snap.ID, "session_ended", map[string]interface{}{
			"session_id":         snap.ID.String(),
			"duration_seconds":   elapsedSeconds,
			"is_full_completion": created.IsFullCompletion,
		})
	}
	if m.purger != nil {
		m.purger.Purge(snap.ID)
	}

	m.logger.Info("session ended",
		zap.String("session_id", snap.ID.String()),
		zap.Int("duration_seconds", elapsedSeconds),
		zap.Bool("full_completion", created.IsFullCompletion))
	return created, nil
}

// restartAfterFailedEnd puts a session whose end could not be made durable
// back into the Live state, with fresh timers.
func (m *Manager) restartAfterFailedEnd(ls *liveSession) {
	ls.mu.Lock()
	ls.ending = false
	ls.stop = make(chan struct{})
	ls.done = make(chan struct{})
	ls.stopped = false
	stop, done := ls.stop, ls.done
	ls.mu.Unlock()
	go m.run(ls, stop, done)
}

// Adopt reattaches an already-durable live session, restoring its counters
// and timers. The recovery coordinator uses it both to resume a healthy
// session and to route a crashed one through the normal End path.
func (m *Manager) Adopt(s *models.Session) error {
	def, ok := tiers.ByOrdinal(s.Tier)
	if !ok {
		return ErrUnknownTier
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.live[s.CreatorID]; exists {
		return ErrAlreadyLive
	}
	ls := &liveSession{
		s:    s,
		tier: def,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.live[s.CreatorID] = ls
	m.byID[s.ID] = ls
	go m.run(ls, ls.stop, ls.done)
	return nil
}

// run is the session's single ambient goroutine. Timers only signal; all
// mutation happens in manager methods under the session lock.
func (m *Manager) run(ls *liveSession, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	tick := time.NewTicker(m.cfg.TickInterval)
	defer tick.Stop()
	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			if m.pastCeiling(ls) {
				if _, err := m.end(context.Background(), ls.s.CreatorID, true); err != nil && err != ErrNoActiveSession {
					m.logger.Error("auto-end failed", zap.Error(err), zap.String("session_id", ls.s.ID.String()))
				}
				return
			}
		case <-heartbeat.C:
			m.writeHeartbeat(ls)
		}
	}
}

func (m *Manager) pastCeiling(ls *liveSession) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.ending {
		return false
	}
	return int(m.now().Sub(ls.s.StartedAt).Seconds()) >= ls.s.MaxDurationSeconds
}

// writeHeartbeat proves the session is alive. Best-effort: a failed write is
// logged and dropped, never retried.
func (m *Manager) writeHeartbeat(ls *liveSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	now := m.now()
	ls.mu.Lock()
	id := ls.s.ID
	ls.s.LastHeartbeatAt = now
	ls.mu.Unlock()
	if err := m.store.Heartbeat(ctx, id, now); err != nil {
		m.logger.Warn("heartbeat write failed", zap.Error(err), zap.String("session_id", id.String()))
	}
}

// Join adds a participant: attendance upsert plus an atomic viewer-count
// increment in one durable batch. Core path; errors are surfaced.
func (m *Manager) Join(ctx context.Context, sessionID, participantID uuid.UUID) error {
	ls, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.ending {
		return ErrNoActiveSession
	}
	count, err := m.store.Join(ctx, sessionID, participantID)
	if err != nil {
		return err
	}
	ls.s.ViewerCount = count
	if count > ls.s.PeakViewerCount {
		ls.s.PeakViewerCount = count
		// Peak tracking is telemetry; the store guard keeps it monotonic.
		if err := m.store.UpdatePeak(ctx, sessionID, count); err != nil {
			m.logger.Warn("peak update failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		}
	}
	return nil
}

// Leave removes a participant with the mirrored atomic decrement.
func (m *Manager) Leave(ctx context.Context, sessionID, participantID uuid.UUID) error {
	ls, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.ending {
		return ErrNoActiveSession
	}
	count, err := m.store.Leave(ctx, sessionID, participantID)
	if err != nil {
		return err
	}
	ls.s.ViewerCount = count
	return nil
}

// ApplyExtension raises the session's duration ceiling.
func (m *Manager) ApplyExtension(ctx context.Context, sessionID uuid.UUID, seconds int) error {
	ls, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.ending {
		return ErrNoActiveSession
	}
	return m.extendLocked(ctx, ls, seconds)
}

func (m *Manager) extendLocked(ctx context.Context, ls *liveSession, seconds int) error {
	if err := m.store.AddExtension(ctx, ls.s.ID, seconds); err != nil {
		return fmt.Errorf("apply extension: %w", err)
	}
	ls.s.ExtensionSeconds += seconds
	ls.s.MaxDurationSeconds += seconds
	if m.broadcaster != nil {
		m.broadcaster.Broadcast(ls.s.ID, "extension_applied", map[string]interface{}{
			"seconds":              seconds,
			"max_duration_seconds": ls.s.MaxDurationSeconds,
		})
	}
	return nil
}

// RecordCoins adds a coin spend to the session total and applies any
// collective goals the new total crossed: a session extension, a temporary
// XP multiplier for everyone present, and a broadcast.
func (m *Manager) RecordCoins(ctx context.Context, sessionID, participantID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("coin amount must be positive")
	}
	ls, err := m.lookup(sessionID)
	if err != nil {
		return 0, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.ending {
		return 0, ErrNoActiveSession
	}
	before := ls.s.TotalCoinsSpent
	total, err := m.store.AddCoins(ctx, sessionID, amount)
	if err != nil {
		return 0, err
	}
	ls.s.TotalCoinsSpent = total

	for _, goal := range tiers.GoalsCrossed(before, total) {
		if err := m.extendLocked(ctx, ls, goal.ExtensionSeconds); err != nil {
			m.logger.Error("goal extension failed", zap.Error(err), zap.String("goal", goal.Name))
			continue
		}
		if err := m.attendance.SetMultiplierAll(ctx, sessionID, 2.0, 600); err != nil {
			m.logger.Warn("goal multiplier failed", zap.Error(err), zap.String("goal", goal.Name))
		}
		if m.broadcaster != nil {
			m.broadcaster.Broadcast(sessionID, "goal_reached", map[string]interface{}{
				"goal":           goal.Name,
				"coin_threshold": goal.CoinThreshold,
				"total_coins":    total,
			})
		}
		m.logger.Info("collective goal reached",
			zap.String("session_id", sessionID.String()),
			zap.String("goal", goal.Name))
	}
	return total, nil
}

// ApplyHypeFlush lands one hype-buffer flush: session total plus the
// participant's attendance counter, both atomic increments. Fire-and-forget.
func (m *Manager) ApplyHypeFlush(ctx context.Context, sessionID, participantID uuid.UUID, taps int) {
	if taps <= 0 {
		return
	}
	ls, err := m.lookup(sessionID)
	if err != nil {
		return
	}
	ls.mu.Lock()
	if ls.ending {
		ls.mu.Unlock()
		return
	}
	ls.s.TotalHypeEvents += int64(taps)
	ls.mu.Unlock()
	if err := m.store.AddHype(ctx, sessionID, taps); err != nil {
		m.logger.Warn("hype flush failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	if err := m.attendance.ApplyFlush(ctx, sessionID, participantID, taps, 0); err != nil {
		m.logger.Warn("attendance flush failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// ApplyWatchFlush lands one watch-time buffer flush. Fire-and-forget.
func (m *Manager) ApplyWatchFlush(ctx context.Context, sessionID, participantID uuid.UUID, interactions int, watchSeconds int64) {
	if interactions == 0 && watchSeconds == 0 {
		return
	}
	if err := m.attendance.ApplyFlush(ctx, sessionID, participantID, interactions, watchSeconds); err != nil {
		m.logger.Warn("attendance flush failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}

// CheckGate returns the cached unlock snapshot for (creator, tier), enforcing
// sequential ladder order.
func (m *Manager) CheckGate(ctx context.Context, creatorID uuid.UUID, tierOrdinal int) (gate.Result, error) {
	def, ok := tiers.ByOrdinal(tierOrdinal)
	if !ok {
		return gate.Result{}, ErrUnknownTier
	}
	key := gateKey{creator: creatorID, tier: tierOrdinal}
	if r, ok := m.gateCache.Get(key); ok {
		return r, nil
	}
	level, err := m.creators.CommunityLevel(ctx, creatorID)
	if err != nil {
		return gate.Result{}, fmt.Errorf("resolve community level: %w", err)
	}
	history, err := m.history(ctx, creatorID)
	if err != nil {
		return gate.Result{}, fmt.Errorf("load completion history: %w", err)
	}
	r := m.gate.CheckGate(level, history, def)
	r.Unlocked = r.Unlocked && m.gate.Unlocked(level, history, def.Ordinal)
	m.gateCache.Put(key, r, m.cfg.GateCacheTTL)
	return r, nil
}

// DailyStatus returns the creator's completion-cap snapshot.
func (m *Manager) DailyStatus(ctx context.Context, creatorID uuid.UUID) (gate.DailyStatus, error) {
	history, err := m.history(ctx, creatorID)
	if err != nil {
		return gate.DailyStatus{}, fmt.Errorf("load completion history: %w", err)
	}
	return m.gate.DailyStatus(history, m.now()), nil
}

// Live returns a copy of the creator's in-memory live session, if any.
func (m *Manager) Live(creatorID uuid.UUID) (models.Session, bool) {
	m.mu.Lock()
	ls := m.live[creatorID]
	m.mu.Unlock()
	if ls == nil || ls.s == nil {
		return models.Session{}, false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return *ls.s, true
}

// GetSession returns a session by id, preferring in-memory state.
func (m *Manager) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	ls := m.byID[sessionID]
	m.mu.Unlock()
	if ls != nil && ls.s != nil {
		ls.mu.Lock()
		copied := *ls.s
		ls.mu.Unlock()
		return &copied, nil
	}
	return m.store.Get(ctx, sessionID)
}

func (m *Manager) lookup(sessionID uuid.UUID) (*liveSession, error) {
	m.mu.Lock()
	ls := m.byID[sessionID]
	m.mu.Unlock()
	if ls == nil || ls.s == nil {
		return nil, ErrNoActiveSession
	}
	return ls, nil
}

// history is a read-through cache over the creator's completion records,
// newest first.
func (m *Manager) history(ctx context.Context, creatorID uuid.UUID) ([]models.CompletionRecord, error) {
	if h, ok := m.historyCache.Get(creatorID); ok {
		return h, nil
	}
	h, err := m.completions.ListByCreator(ctx, creatorID, m.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	m.historyCache.Put(creatorID, h, m.cfg.HistoryCacheTTL)
	return h, nil
}
