package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/presenta-live/backend/internal/live"
	"github.com/presenta-live/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client represents a single WebSocket connection attached to a session.
type Client struct {
	ConnID    string
	SessionID uuid.UUID
	Role      live.Role
	hub       *Hub
	session   *live.Session
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// positionBody carries a navigation position on the wire.
type positionBody struct {
	ModuleID       uuid.UUID `json:"module_id"`
	SubmoduleIndex int       `json:"submodule_index"`
}

// moodBody is the mood:submit request body.
type moodBody struct {
	Mood     string    `json:"mood"`
	ModuleID uuid.UUID `json:"module_id"`
}

// autoPlayBody is the autoplay:set request body.
type autoPlayBody struct {
	Enabled bool `json:"enabled"`
}

// errorBody is the error frame written back for rejected commands.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errCode maps session validation errors to wire error codes.
func errCode(err error) string {
	switch {
	case errors.Is(err, live.ErrDuplicatePresenter):
		return "DUPLICATE_PRESENTER"
	case errors.Is(err, live.ErrNotPresenter):
		return "NOT_PRESENTER"
	case errors.Is(err, live.ErrUnknownConnection):
		return "UNKNOWN_CONNECTION"
	case errors.Is(err, live.ErrUnknownParticipant):
		return "UNKNOWN_PARTICIPANT"
	case errors.Is(err, live.ErrInvalidPosition):
		return "INVALID_POSITION"
	case errors.Is(err, live.ErrInvalidRole):
		return "INVALID_ROLE"
	case errors.Is(err, live.ErrInvalidMood):
		return "INVALID_MOOD"
	}
	return "INTERNAL"
}

// ServeWs handles the WebSocket upgrade, registers the connection with its
// session, and runs the client loops.
func ServeWs(hub *Hub, manager *live.Manager, logger *zap.Logger, sendBuffer int) gin.HandlerFunc {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return func(c *gin.Context) {
		sessionID, err := uuid.Parse(c.Query("session_id"))
		if err != nil {
			response.BadRequest(c, "invalid session_id")
			return
		}
		role, err := live.ParseRole(c.Query("role"))
		if err != nil {
			response.BadRequest(c, "role must be presenter, participant or observer")
			return
		}
		session, ok := manager.Get(sessionID)
		if !ok {
			response.NotFound(c, "session not found")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ConnID:    uuid.New().String(),
			SessionID: sessionID,
			Role:      role,
			hub:       hub,
			session:   session,
			conn:      conn,
			send:      make(chan WSMessage, sendBuffer),
			logger:    logger,
		}
		hub.add(client)
		go client.writePump()

		if _, err := session.Register(client.ConnID, role); err != nil {
			// Validation failures (e.g. a live presenter already exists) are
			// reported to the caller, then the connection is closed. Closing the
			// send channel lets the write pump flush the error frame before it
			// writes the close frame.
			client.sendError(err)
			hub.remove(client)
			close(client.send)
			return
		}
		client.readPump()
	}
}

func (c *Client) sendError(err error) {
	data, _ := json.Marshal(errorBody{Code: errCode(err), Message: err.Error()})
	select {
	case c.send <- WSMessage{Event: "error", Data: data}:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.session.Unregister(c.ConnID)
		c.hub.remove(c)
		close(c.send)
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handle(msg)
	}
}

// handle dispatches one inbound command to the session.
func (c *Client) handle(msg WSMessage) {
	var err error
	switch msg.Event {
	case "heartbeat":
		var body positionBody
		if err = json.Unmarshal(msg.Data, &body); err == nil {
			err = c.session.Heartbeat(c.ConnID, live.Position{ModuleID: body.ModuleID, SubmoduleIndex: body.SubmoduleIndex})
		}
	case "navigate":
		var body positionBody
		if err = json.Unmarshal(msg.Data, &body); err == nil {
			err = c.session.Navigate(context.Background(), c.ConnID, live.Position{ModuleID: body.ModuleID, SubmoduleIndex: body.SubmoduleIndex})
		}
	case "mood:submit":
		var body moodBody
		if err = json.Unmarshal(msg.Data, &body); err == nil {
			var mood live.Mood
			if mood, err = live.ParseMood(body.Mood); err == nil {
				err = c.session.SubmitMood(c.ConnID, mood, body.ModuleID)
			}
		}
	case "mood:reset":
		var body moodBody
		if err = json.Unmarshal(msg.Data, &body); err == nil {
			err = c.session.ResetMood(c.ConnID, body.ModuleID)
		}
	case "sync:force":
		err = c.session.ForceResync(c.ConnID)
	case "presenter:claim":
		err = c.session.ClaimPresenter(c.ConnID)
	case "autoplay:set":
		var body autoPlayBody
		if err = json.Unmarshal(msg.Data, &body); err == nil {
			err = c.session.SetAutoPlay(c.ConnID, body.Enabled)
		}
	default:
		// ignore
	}
	if err != nil {
		c.sendError(err)
		c.logger.Debug("command rejected",
			zap.String("conn_id", c.ConnID),
			zap.String("event", msg.Event),
			zap.Error(err))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
