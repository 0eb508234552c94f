package live

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns the set of concurrently running sessions. Sessions are explicit
// objects with their own lifecycle, created and torn down through the manager,
// never a process-wide singleton.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	resolver Resolver
	sender   Sender
	cfg      Config
	logger   *zap.Logger

	onDeparture DepartureHandler
	onTally     TallyArchiver
	onAudience  AudienceChangeHandler
}

// NewManager creates an empty session manager.
func NewManager(resolver Resolver, sender Sender, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		resolver: resolver,
		sender:   sender,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// SetDepartureHandler installs the departure hook for all future sessions.
func (m *Manager) SetDepartureHandler(fn DepartureHandler) { m.onDeparture = fn }

// SetTallyArchiver installs the tally archive hook for all future sessions.
func (m *Manager) SetTallyArchiver(fn TallyArchiver) { m.onTally = fn }

// SetAudienceChangeHandler installs the audience count hook for all future sessions.
func (m *Manager) SetAudienceChangeHandler(fn AudienceChangeHandler) { m.onAudience = fn }

// Create starts a new session.
func (m *Manager) Create() *Session {
	s := NewSession(uuid.New(), m.resolver, m.sender, m.cfg, m.logger)
	s.onDeparture = m.onDeparture
	s.onTally = m.onTally
	s.onAudience = m.onAudience

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("session created", zap.String("session_id", s.ID.String()))
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns a snapshot of all sessions.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Remove tears a session down and returns it, or nil if absent.
func (m *Manager) Remove(id uuid.UUID) *Session {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if s != nil {
		m.logger.Info("session removed", zap.String("session_id", id.String()))
	}
	return s
}

// AnnounceVersion pushes a new content version to every session.
func (m *Manager) AnnounceVersion(version string) {
	for _, s := range m.List() {
		s.SetContentVersion(version)
	}
}

// RunSweeper sweeps every session on the configured fixed interval until ctx
// is done. Silent disconnects are detected only here.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			for _, s := range m.List() {
				if removed := s.Sweep(); len(removed) > 0 {
					m.logger.Debug("swept connections",
						zap.String("session_id", s.ID.String()),
						zap.Int("count", len(removed)))
				}
			}
		}
	}
}
