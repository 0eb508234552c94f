package content

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presenta-live/backend/internal/models"
	"github.com/presenta-live/backend/pkg/response"
	"github.com/presenta-live/backend/pkg/storage"
)

// VersionNotifier is told whenever the content version changes, so active
// sessions can rebroadcast state and clients can invalidate caches.
type VersionNotifier interface {
	VersionChanged(version string)
}

// Handler handles content store HTTP endpoints.
type Handler struct {
	repo     *Repository
	s3       *storage.S3
	notifier VersionNotifier
	logger   *zap.Logger
}

// NewHandler creates a content handler. s3 may be nil when asset storage is
// not configured; notifier may be nil in tests.
func NewHandler(repo *Repository, s3 *storage.S3, notifier VersionNotifier, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, s3: s3, notifier: notifier, logger: logger}
}

// bump increments the content version after a mutation and announces it.
func (h *Handler) bump(c *gin.Context) {
	version, err := h.repo.BumpVersion(c.Request.Context())
	if err != nil {
		h.logger.Error("bump content version", zap.Error(err))
		return
	}
	if h.notifier != nil {
		h.notifier.VersionChanged(version)
	}
}

// ModuleRequest is the body for module create/update.
type ModuleRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

// SubmoduleRequest is the body for submodule create/update.
type SubmoduleRequest struct {
	Index    int             `json:"index"`
	Title    string          `json:"title" binding:"required"`
	Kind     string          `json:"kind" binding:"required"`
	Body     json.RawMessage `json:"body"`
	AssetKey *string         `json:"asset_key"`
}

// CreateModule handles POST /modules.
func (h *Handler) CreateModule(c *gin.Context) {
	var req ModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m := &models.Module{Title: req.Title, Description: req.Description, Position: req.Position}
	if err := h.repo.CreateModule(c.Request.Context(), m); err != nil {
		response.Internal(c, "failed to create module")
		return
	}
	h.bump(c)
	response.Created(c, m)
}

// ListModules handles GET /modules.
func (h *Handler) ListModules(c *gin.Context) {
	modules, err := h.repo.ListModules(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list modules")
		return
	}
	response.OK(c, modules)
}

// GetModule handles GET /modules/:id, including its submodules.
func (h *Handler) GetModule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid module id")
		return
	}
	m, err := h.repo.GetModule(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "module not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to get module")
		return
	}
	subs, err := h.repo.ListSubmodules(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to list submodules")
		return
	}
	response.OK(c, gin.H{"module": m, "submodules": subs})
}

// UpdateModule handles PATCH /modules/:id.
func (h *Handler) UpdateModule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid module id")
		return
	}
	var req ModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m := &models.Module{ID: id, Title: req.Title, Description: req.Description, Position: req.Position}
	err = h.repo.UpdateModule(c.Request.Context(), m)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "module not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to update module")
		return
	}
	h.bump(c)
	response.OK(c, m)
}

// DeleteModule handles DELETE /modules/:id.
func (h *Handler) DeleteModule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid module id")
		return
	}
	err = h.repo.DeleteModule(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "module not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to delete module")
		return
	}
	h.bump(c)
	response.NoContent(c)
}

// CreateSubmodule handles POST /modules/:id/submodules.
func (h *Handler) CreateSubmodule(c *gin.Context) {
	moduleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid module id")
		return
	}
	var req SubmoduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s := &models.Submodule{
		ModuleID: moduleID,
		Index:    req.Index,
		Title:    req.Title,
		Kind:     req.Kind,
		Body:     req.Body,
		AssetKey: req.AssetKey,
	}
	if err := h.repo.CreateSubmodule(c.Request.Context(), s); err != nil {
		response.Internal(c, "failed to create submodule")
		return
	}
	h.bump(c)
	response.Created(c, s)
}

// UpdateSubmodule handles PATCH /submodules/:id.
func (h *Handler) UpdateSubmodule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid submodule id")
		return
	}
	var req SubmoduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s := &models.Submodule{
		ID:       id,
		Index:    req.Index,
		Title:    req.Title,
		Kind:     req.Kind,
		Body:     req.Body,
		AssetKey: req.AssetKey,
	}
	err = h.repo.UpdateSubmodule(c.Request.Context(), s)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "submodule not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to update submodule")
		return
	}
	h.bump(c)
	response.OK(c, s)
}

// DeleteSubmodule handles DELETE /submodules/:id.
func (h *Handler) DeleteSubmodule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid submodule id")
		return
	}
	err = h.repo.DeleteSubmodule(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "submodule not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to delete submodule")
		return
	}
	h.bump(c)
	response.NoContent(c)
}

// Resolve handles GET /resolve?module_id=&index= and returns the content
// descriptor at a position. This is the lookup participants use to load the
// content they were navigated to.
func (h *Handler) Resolve(c *gin.Context) {
	moduleID, err := uuid.Parse(c.Query("module_id"))
	if err != nil {
		response.BadRequest(c, "invalid module_id")
		return
	}
	index, err := strconv.Atoi(c.Query("index"))
	if err != nil {
		response.BadRequest(c, "invalid index")
		return
	}
	d, err := h.repo.Describe(c.Request.Context(), moduleID, index)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "position does not resolve")
		return
	}
	if err != nil {
		response.Internal(c, "failed to resolve position")
		return
	}
	response.OK(c, d)
}

// Version handles GET /version.
func (h *Handler) Version(c *gin.Context) {
	v, err := h.repo.CurrentVersion(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to read content version")
		return
	}
	response.OK(c, gin.H{"version": v})
}

// UploadURLRequest is the body for POST /modules/:id/assets/upload-url.
type UploadURLRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

// GenerateUploadURL handles POST /modules/:id/assets/upload-url: returns a
// presigned PUT URL for direct asset upload plus the object key to record on
// the submodule.
func (h *Handler) GenerateUploadURL(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "asset storage not configured")
		return
	}
	moduleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid module id")
		return
	}
	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !storage.ValidateAssetFileType(req.ContentType, req.Filename) {
		response.BadRequest(c, "unsupported asset type")
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(req.Filename)
	}
	key := storage.AssetKey(moduleID.String(), req.Filename)
	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), h.s3.AssetsBucket(), key, contentType, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign upload", zap.Error(err))
		response.Internal(c, "failed to generate upload url")
		return
	}
	response.OK(c, gin.H{"upload_url": url, "key": key})
}

// GenerateDownloadURL handles GET /assets/download-url?key=.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "asset storage not configured")
		return
	}
	key := c.Query("key")
	if key == "" {
		response.BadRequest(c, "key required")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), h.s3.AssetsBucket(), key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign download", zap.Error(err))
		response.Internal(c, "failed to generate download url")
		return
	}
	response.OK(c, gin.H{"download_url": url})
}
