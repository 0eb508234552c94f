package history

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/presenta-live/backend/pkg/response"
)

// Handler serves archived session history.
type Handler struct {
	repo *Repository
}

// NewHandler creates a history handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// GetBySession handles GET /sessions/:id/history.
func (h *Handler) GetBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ctx := c.Request.Context()
	attendance, err := h.repo.ListAttendance(ctx, sessionID)
	if err != nil {
		response.Internal(c, "failed to list attendance")
		return
	}
	tallies, err := h.repo.ListArchivedTallies(ctx, sessionID)
	if err != nil {
		response.Internal(c, "failed to list archived tallies")
		return
	}
	stats, err := h.repo.GetStats(ctx, sessionID)
	if err != nil {
		response.Internal(c, "failed to read session stats")
		return
	}
	response.OK(c, gin.H{
		"attendance": attendance,
		"tallies":    tallies,
		"stats":      stats,
	})
}
