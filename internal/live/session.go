package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase is the session state machine state.
type Phase string

const (
	PhaseIdle   Phase = "idle"   // no presenter
	PhaseLive   Phase = "live"   // presenter connected, auto-advance on
	PhasePaused Phase = "paused" // presenter connected, auto-advance suspended
)

// State is the canonical session state, mutated only by presenter commands.
type State struct {
	Position       Position `json:"position"`
	ContentVersion string   `json:"content_version"`
	AutoPlay       bool     `json:"auto_play"`
}

// Resolver checks that a navigation position maps to real content.
type Resolver interface {
	ResolvePosition(ctx context.Context, moduleID uuid.UUID, submoduleIndex int) (bool, error)
}

// Config holds session tuning. All thresholds are configurable rather than
// fixed constants.
type Config struct {
	HeartbeatTimeout time.Duration // connection swept after this much silence
	SweepInterval    time.Duration // fixed sweep period
	DriftGrace       time.Duration // how long a participant may lag before a targeted resend
	MoodWindow       time.Duration // maximum mood aggregation window
	DepartureGrace   time.Duration // in-flight mood tolerance after disconnect
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.DriftGrace <= 0 {
		c.DriftGrace = 10 * time.Second
	}
	if c.MoodWindow <= 0 {
		c.MoodWindow = 5 * time.Minute
	}
	if c.DepartureGrace <= 0 {
		c.DepartureGrace = 10 * time.Second
	}
	return c
}

// DepartureHandler is called when a connection leaves (explicit close or sweep),
// e.g. to enqueue an attendance record.
type DepartureHandler func(sessionID uuid.UUID, conn Connection, leftAt time.Time)

// TallyArchiver is called with the tally snapshot when the presenter dismisses
// feedback for a module, before the tally is cleared.
type TallyArchiver func(sessionID uuid.UUID, moduleID uuid.UUID, tally Tally)

// AudienceChangeHandler is called when the participant count changes
// (e.g. for peak tracking).
type AudienceChangeHandler func(sessionID uuid.UUID, count int)

// Session is the authoritative state machine for one running presentation. A
// single mutex serializes every state-mutating operation; broadcasts go
// through the non-blocking Sender, so a slow connection never stalls a
// transition. Delivery is best-effort: reliability comes from heartbeat-driven
// reconciliation, not the transport.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu       sync.RWMutex
	state    State
	registry *Registry
	moods    *MoodAggregator

	resolver Resolver
	sender   Sender
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time

	onDeparture DepartureHandler
	onTally     TallyArchiver
	onAudience  AudienceChangeHandler
}

// NewSession creates a session in the IDLE phase.
func NewSession(id uuid.UUID, resolver Resolver, sender Sender, cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		state:     State{ContentVersion: "0"},
		registry:  NewRegistry(),
		moods:     NewMoodAggregator(cfg.MoodWindow),
		resolver:  resolver,
		sender:    sender,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Register adds a connection with the given role and sends it the full
// canonical state, so a late joiner converges immediately instead of showing
// stale default state. A presenter registration first sweeps expired
// connections, so a reconnecting presenter tab can take over a dead one.
// The id is assigned by the transport at connect time.
func (s *Session) Register(id string, role Role) (Connection, error) {
	s.mu.Lock()
	now := s.now()
	if role == RolePresenter {
		s.sweepLocked(now)
	}
	conn, err := s.registry.Register(id, role, now)
	if err != nil {
		s.mu.Unlock()
		return Connection{}, err
	}
	conn.Position = s.state.Position
	if role == RolePresenter {
		s.state.AutoPlay = true
	}
	out := *conn
	payload := RegisteredPayload{
		ConnectionID: id,
		Role:         role,
		StatePayload: s.statePayloadLocked(),
	}
	// Sent under the lock so the state in the payload cannot be superseded by
	// an earlier-delivered broadcast on the same connection.
	s.sender.Send(s.ID, id, Event{Type: EventRegistered, Data: payload})
	count := len(s.registry.ListByRole(RoleParticipant))
	onAudience := s.onAudience
	s.mu.Unlock()

	if onAudience != nil && role == RoleParticipant {
		onAudience(s.ID, count)
	}
	s.logger.Debug("connection registered",
		zap.String("session_id", s.ID.String()),
		zap.String("conn_id", id),
		zap.String("role", string(role)))
	return out, nil
}

// Unregister removes a connection on explicit close. Idempotent.
func (s *Session) Unregister(connID string) {
	s.mu.Lock()
	now := s.now()
	conn := s.registry.Unregister(connID, now)
	if conn == nil {
		s.mu.Unlock()
		return
	}
	s.handleDeparturesLocked([]*Connection{conn}, now)
	s.mu.Unlock()
}

// ClaimPresenter promotes an existing connection to presenter. While a fresh
// presenter exists the claim fails with ErrDuplicatePresenter; an expired one
// is swept first, so takeover after a timeout needs no manual intervention.
// Claiming by the current presenter is a no-op.
func (s *Session) ClaimPresenter(connID string) error {
	s.mu.Lock()
	now := s.now()
	s.sweepLocked(now)

	conn, ok := s.registry.Get(connID)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownConnection
	}
	if p := s.registry.Presenter(); p != nil {
		s.mu.Unlock()
		if p.ID == connID {
			return nil
		}
		return ErrDuplicatePresenter
	}
	conn.Role = RolePresenter
	conn.LastSeenAt = now
	s.state.AutoPlay = true
	targets, payload := s.stateBroadcastLocked()
	s.broadcast(targets, Event{Type: EventSyncState, Data: payload})
	s.mu.Unlock()

	s.logger.Info("presenter claimed",
		zap.String("session_id", s.ID.String()),
		zap.String("conn_id", connID))
	return nil
}

// Navigate validates and applies a presenter navigation command, then
// broadcasts position:changed to every participant and observer. Per-connection
// ordering is preserved because the broadcast happens while holding the
// session lock and each connection's buffer is FIFO.
func (s *Session) Navigate(ctx context.Context, connID string, pos Position) error {
	s.mu.Lock()
	if err := s.requirePresenterLocked(connID); err != nil {
		s.mu.Unlock()
		return err
	}
	ok, err := s.resolver.ResolvePosition(ctx, pos.ModuleID, pos.SubmoduleIndex)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !ok {
		s.mu.Unlock()
		return ErrInvalidPosition
	}
	s.state.Position = pos
	payload := PositionPayload{Position: pos, ContentVersion: s.state.ContentVersion}
	targets := s.idsByRoleLocked(RoleParticipant, RoleObserver)
	s.broadcast(targets, Event{Type: EventPositionChange, Data: payload})
	s.mu.Unlock()

	s.logger.Debug("position changed",
		zap.String("session_id", s.ID.String()),
		zap.String("module_id", pos.ModuleID.String()),
		zap.Int("submodule_index", pos.SubmoduleIndex))
	return nil
}

// SetAutoPlay toggles the presenter's auto-advance timer (LIVE <-> PAUSED) and
// rebroadcasts full state.
func (s *Session) SetAutoPlay(connID string, on bool) error {
	s.mu.Lock()
	if err := s.requirePresenterLocked(connID); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state.AutoPlay = on
	targets, payload := s.stateBroadcastLocked()
	s.broadcast(targets, Event{Type: EventSyncState, Data: payload})
	s.mu.Unlock()
	return nil
}

// SubmitMood records a participant feedback event and broadcasts the updated
// module tally to observers only. Participants never see each other's moods.
// Events from a participant that disconnected within the departure grace are
// still accepted.
func (s *Session) SubmitMood(participantID string, mood Mood, moduleID uuid.UUID) error {
	s.mu.Lock()
	now := s.now()
	if !s.registry.KnownParticipant(participantID, now, s.cfg.DepartureGrace) {
		s.mu.Unlock()
		return ErrUnknownParticipant
	}
	s.moods.Record(MoodEvent{ParticipantID: participantID, Mood: mood, ModuleID: moduleID, At: now})
	tally := s.moods.SnapshotModule(now, s.cfg.MoodWindow, moduleID)
	targets := s.idsByRoleLocked(RoleObserver)
	s.broadcast(targets, Event{Type: EventMoodTally, Data: TallyPayload{ModuleID: moduleID, Tally: tally}})
	s.mu.Unlock()
	return nil
}

// ResetMood clears the tally for one module after the presenter dismisses
// feedback. The pre-reset snapshot is handed to the archiver before clearing.
func (s *Session) ResetMood(connID string, moduleID uuid.UUID) error {
	s.mu.Lock()
	if err := s.requirePresenterLocked(connID); err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.now()
	tally := s.moods.SnapshotModule(now, s.cfg.MoodWindow, moduleID)
	onTally := s.onTally
	s.moods.Reset(moduleID)
	targets := s.idsByRoleLocked(RoleObserver)
	s.broadcast(targets, Event{Type: EventMoodTally, Data: TallyPayload{ModuleID: moduleID, Tally: Tally{}}})
	s.mu.Unlock()

	if onTally != nil && len(tally) > 0 {
		onTally(s.ID, moduleID, tally)
	}
	return nil
}

// MoodSnapshot returns per-module tallies over the given window.
func (s *Session) MoodSnapshot(window time.Duration) map[uuid.UUID]Tally {
	return s.moods.Snapshot(s.now(), window)
}

// ForceResync rebroadcasts the full canonical state to every connection. It is
// the authoritative recovery path after drift or partition: always safe,
// idempotent, presenter-only.
func (s *Session) ForceResync(connID string) error {
	s.mu.Lock()
	if err := s.requirePresenterLocked(connID); err != nil {
		s.mu.Unlock()
		return err
	}
	targets, payload := s.stateBroadcastLocked()
	s.broadcast(targets, Event{Type: EventSyncState, Data: payload})
	s.mu.Unlock()
	return nil
}

// Heartbeat refreshes a connection's liveness and performs drift correction:
// when a participant keeps reporting a position that diverges from the
// canonical one for longer than the drift grace, position:changed is re-sent
// to that one connection. This bounds convergence after a dropped broadcast
// without client-side polling.
func (s *Session) Heartbeat(connID string, observed Position) error {
	s.mu.Lock()
	now := s.now()
	if err := s.registry.Heartbeat(connID, now); err != nil {
		s.mu.Unlock()
		return err
	}
	conn, _ := s.registry.Get(connID)
	conn.Position = observed

	if conn.Role != RolePresenter && observed != s.state.Position {
		if conn.divergedSince.IsZero() {
			conn.divergedSince = now
		} else if now.Sub(conn.divergedSince) >= s.cfg.DriftGrace {
			payload := PositionPayload{Position: s.state.Position, ContentVersion: s.state.ContentVersion}
			s.sender.Send(s.ID, connID, Event{Type: EventPositionChange, Data: payload})
			conn.divergedSince = now
		}
	} else {
		conn.divergedSince = time.Time{}
	}
	s.mu.Unlock()
	return nil
}

// SetContentVersion announces a new content version, as when the content store
// changes underneath an active session. The full state is rebroadcast so
// clients can invalidate caches. Announcing the current version is a no-op.
func (s *Session) SetContentVersion(version string) {
	s.mu.Lock()
	if version == s.state.ContentVersion {
		s.mu.Unlock()
		return
	}
	s.state.ContentVersion = version
	targets, payload := s.stateBroadcastLocked()
	s.broadcast(targets, Event{Type: EventSyncState, Data: payload})
	s.mu.Unlock()

	s.logger.Info("content version announced",
		zap.String("session_id", s.ID.String()),
		zap.String("version", version))
}

// Sweep removes connections whose heartbeat is older than the configured
// timeout and notifies observers of departures. When the presenter is swept
// the session falls back to IDLE and presenter:lost goes out to everyone, so
// clients degrade to cached content instead of waiting for updates.
func (s *Session) Sweep() []Connection {
	s.mu.Lock()
	now := s.now()
	removed := s.sweepLocked(now)
	out := make([]Connection, 0, len(removed))
	for _, c := range removed {
		out = append(out, *c)
	}
	s.mu.Unlock()
	return out
}

// sweepLocked runs the registry sweep and all resulting notifications.
func (s *Session) sweepLocked(now time.Time) []*Connection {
	removed := s.registry.Sweep(now, s.cfg.HeartbeatTimeout)
	s.registry.PruneDeparted(now, s.cfg.DepartureGrace)
	if len(removed) > 0 {
		s.handleDeparturesLocked(removed, now)
	}
	return removed
}

// handleDeparturesLocked emits departure notifications and, when the presenter
// left, the presenter:lost transition.
func (s *Session) handleDeparturesLocked(removed []*Connection, now time.Time) {
	presenterLost := false
	observers := s.idsByRoleLocked(RoleObserver)
	for _, c := range removed {
		if c.Role == RolePresenter {
			presenterLost = true
		}
		s.broadcast(observers, Event{Type: EventConnectionLeft, Data: LeftPayload{ConnectionID: c.ID, Role: c.Role}})
		if s.onDeparture != nil {
			go s.onDeparture(s.ID, *c, now)
		}
	}
	if presenterLost {
		s.state.AutoPlay = false
		all := s.idsByRoleLocked(RolePresenter, RoleParticipant, RoleObserver)
		s.broadcast(all, Event{Type: EventPresenterLost})
		s.logger.Info("presenter lost", zap.String("session_id", s.ID.String()))
	}
	if s.onAudience != nil {
		count := len(s.registry.ListByRole(RoleParticipant))
		go s.onAudience(s.ID, count)
	}
}

// Phase derives the state machine phase from presenter presence and autoplay.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phaseLocked()
}

func (s *Session) phaseLocked() Phase {
	if s.registry.Presenter() == nil {
		return PhaseIdle
	}
	if s.state.AutoPlay {
		return PhaseLive
	}
	return PhasePaused
}

// Snapshot returns a consistent copy of the canonical state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Connections returns a copy of the live connection set.
func (s *Session) Connections() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.List()
}

// ConnectionsByRole returns a copy of connections with the given role.
func (s *Session) ConnectionsByRole(role Role) []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry.ListByRole(role)
}

func (s *Session) requirePresenterLocked(connID string) error {
	c, ok := s.registry.Get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	if c.Role != RolePresenter {
		return ErrNotPresenter
	}
	return nil
}

func (s *Session) statePayloadLocked() StatePayload {
	return StatePayload{
		Position:       s.state.Position,
		ContentVersion: s.state.ContentVersion,
		AutoPlay:       s.state.AutoPlay,
		Phase:          s.phaseLocked(),
	}
}

func (s *Session) stateBroadcastLocked() ([]string, StatePayload) {
	return s.idsByRoleLocked(RolePresenter, RoleParticipant, RoleObserver), s.statePayloadLocked()
}

func (s *Session) idsByRoleLocked(roles ...Role) []string {
	var ids []string
	for _, role := range roles {
		for _, c := range s.registry.ListByRole(role) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// broadcast fans an event out to the given connections. The sender is
// non-blocking, so this is safe to call while holding the session lock, which
// is what preserves per-connection causal ordering.
func (s *Session) broadcast(connIDs []string, ev Event) {
	for _, id := range connIDs {
		s.sender.Send(s.ID, id, ev)
	}
}
