package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/presenta-live/backend/internal/live"
)

func newTestClient(hub *Hub, sessionID uuid.UUID, connID string, buffer int) *Client {
	c := &Client{
		ConnID:    connID,
		SessionID: sessionID,
		send:      make(chan WSMessage, buffer),
		logger:    zap.NewNop(),
	}
	hub.add(c)
	return c
}

func TestHubSendEncodesEvent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sessionID := uuid.New()
	c := newTestClient(hub, sessionID, "p1", 4)

	pos := live.Position{ModuleID: uuid.New(), SubmoduleIndex: 2}
	hub.Send(sessionID, "p1", live.Event{
		Type: live.EventPositionChange,
		Data: live.PositionPayload{Position: pos, ContentVersion: "7"},
	})

	var msg WSMessage
	select {
	case msg = <-c.send:
	default:
		t.Fatal("no frame delivered")
	}
	if msg.Event != string(live.EventPositionChange) {
		t.Fatalf("event = %q, want position:changed", msg.Event)
	}
	var body live.PositionPayload
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if body.Position != pos || body.ContentVersion != "7" {
		t.Fatalf("body = %+v, want position %+v at version 7", body, pos)
	}
}

func TestHubSendTargetsOneConnection(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sessionID := uuid.New()
	a := newTestClient(hub, sessionID, "a", 4)
	b := newTestClient(hub, sessionID, "b", 4)

	hub.Send(sessionID, "a", live.Event{Type: live.EventSyncState, Data: live.StatePayload{ContentVersion: "1"}})

	if len(a.send) != 1 {
		t.Fatalf("target received %d frames, want 1", len(a.send))
	}
	if len(b.send) != 0 {
		t.Fatalf("other connection received %d frames, want 0", len(b.send))
	}
	// Unknown connections and sessions are silent no-ops.
	hub.Send(sessionID, "missing", live.Event{Type: live.EventSyncState})
	hub.Send(uuid.New(), "a", live.Event{Type: live.EventSyncState})
	if len(a.send) != 1 {
		t.Fatal("send to a different session reached this connection")
	}
}

func TestHubSendDropsOnFullBuffer(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sessionID := uuid.New()
	c := newTestClient(hub, sessionID, "slow", 1)

	hub.Send(sessionID, "slow", live.Event{Type: live.EventMoodTally, Data: live.TallyPayload{}})
	// The buffer is full now; this send must neither block nor panic.
	hub.Send(sessionID, "slow", live.Event{Type: live.EventMoodTally, Data: live.TallyPayload{}})

	if len(c.send) != 1 {
		t.Fatalf("buffered frames = %d, want 1 after overflow drop", len(c.send))
	}
}

func TestWritePumpDrainsBeforeClose(t *testing.T) {
	pumpDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := &Client{conn: conn, send: make(chan WSMessage, 4), logger: zap.NewNop()}
		data, _ := json.Marshal(errorBody{Code: "DUPLICATE_PRESENTER", Message: "presenter already connected"})
		c.send <- WSMessage{Event: "error", Data: data}
		// A closed send channel flushes what is buffered, then ends the
		// connection with a close frame.
		close(c.send)
		c.writePump()
		close(pumpDone)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read buffered frame: %v", err)
	}
	if msg.Event != "error" {
		t.Fatalf("event = %q, want error", msg.Event)
	}
	var body errorBody
	if err := json.Unmarshal(msg.Data, &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Code != "DUPLICATE_PRESENTER" {
		t.Fatalf("code = %q, want DUPLICATE_PRESENTER", body.Code)
	}

	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		t.Fatalf("after drain: %v, want close frame", err)
	}
	<-pumpDone
}
