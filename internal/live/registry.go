package live

import (
	"time"

	"github.com/google/uuid"
)

// Role classifies a live connection.
type Role string

const (
	RolePresenter   Role = "presenter"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// ParseRole validates a role string from the wire.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePresenter, RoleParticipant, RoleObserver:
		return Role(s), nil
	}
	return "", ErrInvalidRole
}

// Position is a navigation position within the module sequence.
type Position struct {
	ModuleID       uuid.UUID `json:"module_id"`
	SubmoduleIndex int       `json:"submodule_index"`
}

// Connection is one live connection and its last-known navigation position.
type Connection struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Position    Position  `json:"position"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`

	// divergedSince is non-zero while the reported position differs from the
	// canonical one; used for drift correction.
	divergedSince time.Time
}

// Registry tracks live connections for one session. It is not safe for
// concurrent use on its own: the owning Session serializes all access.
type Registry struct {
	conns    map[string]*Connection
	departed map[string]time.Time // participant id -> unregistered at
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		departed: make(map[string]time.Time),
	}
}

// Register adds a connection. Registering a second presenter while a live one
// exists fails with ErrDuplicatePresenter.
func (r *Registry) Register(id string, role Role, now time.Time) (*Connection, error) {
	if role == RolePresenter && r.Presenter() != nil {
		return nil, ErrDuplicatePresenter
	}
	c := &Connection{
		ID:          id,
		Role:        role,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	r.conns[id] = c
	delete(r.departed, id)
	return c, nil
}

// Heartbeat refreshes a connection's liveness timestamp.
func (r *Registry) Heartbeat(id string, now time.Time) error {
	c, ok := r.conns[id]
	if !ok {
		return ErrUnknownConnection
	}
	c.LastSeenAt = now
	return nil
}

// Unregister removes a connection. Removing an absent id is a no-op.
func (r *Registry) Unregister(id string, now time.Time) *Connection {
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	r.departed[id] = now
	return c
}

// Sweep removes every connection whose heartbeat is older than timeout and
// returns the removed set. This is the only detection path for silent
// disconnects.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []*Connection {
	var removed []*Connection
	for id, c := range r.conns {
		if now.Sub(c.LastSeenAt) > timeout {
			delete(r.conns, id)
			r.departed[id] = now
			removed = append(removed, c)
		}
	}
	return removed
}

// PruneDeparted drops departure records older than grace.
func (r *Registry) PruneDeparted(now time.Time, grace time.Duration) {
	for id, at := range r.departed {
		if now.Sub(at) > grace {
			delete(r.departed, id)
		}
	}
}

// Get returns the connection with the given id.
func (r *Registry) Get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Presenter returns the current presenter connection, or nil.
func (r *Registry) Presenter() *Connection {
	for _, c := range r.conns {
		if c.Role == RolePresenter {
			return c
		}
	}
	return nil
}

// ListByRole returns a copy of all connections with the given role.
func (r *Registry) ListByRole(role Role) []Connection {
	var out []Connection
	for _, c := range r.conns {
		if c.Role == role {
			out = append(out, *c)
		}
	}
	return out
}

// List returns a copy of all connections.
func (r *Registry) List() []Connection {
	out := make([]Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int { return len(r.conns) }

// KnownParticipant reports whether id is a registered participant, or one that
// departed within grace. The grace window tolerates in-flight mood events from
// a connection that just dropped.
func (r *Registry) KnownParticipant(id string, now time.Time, grace time.Duration) bool {
	if c, ok := r.conns[id]; ok {
		return c.Role == RoleParticipant
	}
	at, ok := r.departed[id]
	return ok && now.Sub(at) <= grace
}
