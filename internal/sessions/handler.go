package sessions

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/presenta-live/backend/internal/live"
	"github.com/presenta-live/backend/pkg/response"
)

// SessionCloser tears down transport resources for a session, implemented by
// the realtime hub.
type SessionCloser interface {
	CloseSession(sessionID uuid.UUID)
}

// Handler handles session lifecycle HTTP endpoints.
type Handler struct {
	manager *live.Manager
	closer  SessionCloser
}

// NewHandler creates a sessions handler.
func NewHandler(manager *live.Manager, closer SessionCloser) *Handler {
	return &Handler{manager: manager, closer: closer}
}

// sessionView is the REST representation of a running session.
type sessionView struct {
	ID           uuid.UUID  `json:"id"`
	Phase        live.Phase `json:"phase"`
	State        live.State `json:"state"`
	Presenters   int        `json:"presenters"`
	Participants int        `json:"participants"`
	Observers    int        `json:"observers"`
	CreatedAt    time.Time  `json:"created_at"`
}

func viewOf(s *live.Session) sessionView {
	return sessionView{
		ID:           s.ID,
		Phase:        s.Phase(),
		State:        s.Snapshot(),
		Presenters:   len(s.ConnectionsByRole(live.RolePresenter)),
		Participants: len(s.ConnectionsByRole(live.RoleParticipant)),
		Observers:    len(s.ConnectionsByRole(live.RoleObserver)),
		CreatedAt:    s.CreatedAt,
	}
}

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	s := h.manager.Create()
	response.Created(c, viewOf(s))
}

// List handles GET /sessions.
func (h *Handler) List(c *gin.Context) {
	sessions := h.manager.List()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	response.OK(c, views)
}

// Get handles GET /sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, ok := h.manager.Get(id)
	if !ok {
		response.NotFound(c, "session not found")
		return
	}
	response.OK(c, viewOf(s))
}

// Delete handles DELETE /sessions/:id: tears the session down and closes all
// attached connections.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if s := h.manager.Remove(id); s == nil {
		response.NotFound(c, "session not found")
		return
	}
	if h.closer != nil {
		h.closer.CloseSession(id)
	}
	response.NoContent(c)
}

// Mood handles GET /sessions/:id/mood?window_seconds=: the current tally
// snapshot over the requested window.
func (h *Handler) Mood(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, ok := h.manager.Get(id)
	if !ok {
		response.NotFound(c, "session not found")
		return
	}
	var window time.Duration
	if raw := c.Query("window_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			response.BadRequest(c, "invalid window_seconds")
			return
		}
		window = time.Duration(secs) * time.Second
	}
	response.OK(c, s.MoodSnapshot(window))
}
