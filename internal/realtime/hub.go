package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presenta-live/backend/internal/live"
)

const (
	// PingInterval and PongWait are used for transport-level heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// WSMessage is the WebSocket message envelope in both directions.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub tracks session_id -> set of WebSocket clients and delivers session
// events to them. It implements live.Sender: sends are buffered per client and
// dropped when the buffer is full, so a dead connection never blocks a session
// state transition.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]map[string]*Client
	logger   *zap.Logger
}

// NewHub creates a WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		logger:   logger,
	}
}

// add attaches a client to its session.
func (h *Hub) add(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
	}
	h.sessions[c.SessionID][c.ConnID] = c
	h.mu.Unlock()
	h.logger.Debug("client attached",
		zap.String("conn_id", c.ConnID),
		zap.String("session_id", c.SessionID.String()))
}

// remove detaches a client.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ConnID)
		if len(m) == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client detached",
		zap.String("conn_id", c.ConnID),
		zap.String("session_id", c.SessionID.String()))
}

// Send delivers one session event to one connection. Non-blocking: the frame
// is dropped if the client's buffer is full; heartbeat reconciliation repairs
// any resulting drift.
func (h *Hub) Send(sessionID uuid.UUID, connID string, ev live.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	msg := WSMessage{Event: string(ev.Type), Data: data}

	// The lock is held through the push: a client's send channel is only
	// closed after remove() has taken the write lock, so a frame can never hit
	// a closed channel.
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.sessions[sessionID][connID]
	if c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
		// buffer full, drop
	}
}

// CloseSession closes every client attached to a session, used on teardown.
// Closing the underlying connection unwinds each client's read loop, which
// performs the usual cleanup.
func (h *Hub) CloseSession(sessionID uuid.UUID) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
}
