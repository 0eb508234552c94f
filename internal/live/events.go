package live

import "github.com/google/uuid"

// EventType identifies a server-to-client event on the live transport.
type EventType string

const (
	EventRegistered     EventType = "connection:registered"
	EventPositionChange EventType = "position:changed"
	EventMoodTally      EventType = "mood:tally"
	EventSyncState      EventType = "sync:state"
	EventPresenterLost  EventType = "presenter:lost"
	EventConnectionLeft EventType = "connection:left"
)

// Event is a single outbound event for one connection. The transport layer is
// responsible for encoding and delivery; delivery is best-effort per send.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Sender delivers events to individual connections. Implementations must not
// block: sends to slow or dead connections are buffered and dropped on
// overflow, never awaited.
type Sender interface {
	Send(sessionID uuid.UUID, connID string, ev Event)
}

// RegisteredPayload is sent to a connection right after it registers. It
// carries the full canonical state so late joiners converge immediately.
type RegisteredPayload struct {
	ConnectionID string `json:"connection_id"`
	Role         Role   `json:"role"`
	StatePayload
}

// PositionPayload is the position:changed event body.
type PositionPayload struct {
	Position       Position `json:"position"`
	ContentVersion string   `json:"content_version"`
}

// StatePayload is the full canonical state, sent on sync:state and on register.
type StatePayload struct {
	Position       Position `json:"position"`
	ContentVersion string   `json:"content_version"`
	AutoPlay       bool     `json:"auto_play"`
	Phase          Phase    `json:"phase"`
}

// TallyPayload is the mood:tally event body, sent to observers.
type TallyPayload struct {
	ModuleID uuid.UUID `json:"module_id"`
	Tally    Tally     `json:"tally"`
}

// LeftPayload notifies observers of a departed connection.
type LeftPayload struct {
	ConnectionID string `json:"connection_id"`
	Role         Role   `json:"role"`
}
