// Package recordings stores session recordings delivered by the video
// platforms and serves their download links.
package recordings

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/pkg/response"
)

// Presigner signs download links for stored recordings.
type Presigner interface {
	PresignRecordingDownload(ctx context.Context, key string) (string, time.Duration, error)
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	repo    Store
	presign Presigner
	logger  *zap.Logger
}

// NewHandler creates a recordings handler. presign may be nil when S3 is not configured.
func NewHandler(repo Store, presign Presigner, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, presign: presign, logger: logger}
}

// ListBySession handles GET /sessions/:id/recordings.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list recordings failed", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to list recordings")
		return
	}
	response.OK(c, list)
}

// GenerateDownloadURL handles GET /recordings/:id/download-url.
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	recordingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid recording id")
		return
	}
	if h.presign == nil {
		response.ServiceUnavailable(c, "recording storage not configured")
		return
	}
	rec, err := h.repo.GetByID(c.Request.Context(), recordingID)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "recording not found")
		return
	}
	if err != nil {
		h.logger.Error("load recording failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to load recording")
		return
	}
	if rec.Status != models.RecordingStatusCompleted || rec.S3Key == "" {
		response.BadRequest(c, "recording not ready for download")
		return
	}
	url, expires, err := h.presign.PresignRecordingDownload(c.Request.Context(), rec.S3Key)
	if err != nil {
		h.logger.Error("presign recording download failed", zap.Error(err), zap.String("recording_id", recordingID.String()))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url, "expires_in": int(expires.Seconds())})
}
