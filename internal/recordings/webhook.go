package recordings

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/store"
	"github.com/aura-learning/backend/pkg/queue"
	"github.com/aura-learning/backend/pkg/response"
)

// SignatureHeader carries "sha256=<hex HMAC of the body>" when a webhook secret is configured.
const SignatureHeader = "X-Webhook-Signature"

// RecordingReadyPayload is the body of the platform's recording-ready callback.
type RecordingReadyPayload struct {
	SessionID           string `json:"session_id"`
	RecordingID         string `json:"recording_id"`
	ProviderRecordingID string `json:"provider_recording_id"`
	FileURL             string `json:"file_url" binding:"required,url"`
	Duration            int    `json:"duration" binding:"min=0"`
	FileSize            int64  `json:"file_size" binding:"min=0"`
}

// Enqueuer schedules the S3 copy of a recording.
type Enqueuer interface {
	EnqueueRecordingUpload(ctx context.Context, payload queue.RecordingUploadPayload) error
}

// SessionLookup resolves the session a recording belongs to.
type SessionLookup interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// WebhookHandler handles recording callbacks from the video platforms.
type WebhookHandler struct {
	repo     Store
	sessions SessionLookup
	queue    Enqueuer
	secret   []byte
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables signature checks.
func NewWebhookHandler(repo Store, sessions SessionLookup, q Enqueuer, secret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{repo: repo, sessions: sessions, queue: q, secret: []byte(secret), logger: logger}
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	if len(h.secret) == 0 {
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// RecordingReady handles POST /webhooks/recording-ready: it records the file
// location and enqueues the S3 upload.
func (h *WebhookHandler) RecordingReady(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	if !h.validSignature(c.GetHeader(SignatureHeader), raw) {
		response.Unauthorized(c, "invalid signature")
		return
	}
	var body RecordingReadyPayload
	if err := binding.JSON.BindBody(raw, &body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()

	rec, err := h.resolve(ctx, body)
	if err != nil {
		h.fail(c, body, err)
		return
	}
	if rec.Status == models.RecordingStatusCompleted {
		response.OK(c, gin.H{"recording_id": rec.ID, "status": rec.Status})
		return
	}
	if rec.OriginalURL != body.FileURL {
		if err := h.repo.UpdateOriginalURL(ctx, rec.ID, body.FileURL); err != nil {
			h.fail(c, body, err)
			return
		}
	}
	if err := h.queue.EnqueueRecordingUpload(ctx, queue.RecordingUploadPayload{
		RecordingID: rec.ID,
		SessionID:   rec.SessionID,
		OriginalURL: body.FileURL,
	}); err != nil {
		h.logger.Error("enqueue recording upload failed", zap.Error(err), zap.String("recording_id", rec.ID.String()))
		response.Internal(c, "failed to enqueue upload")
		return
	}

	h.logger.Info("recording_ready webhook processed",
		zap.String("recording_id", rec.ID.String()),
		zap.String("session_id", rec.SessionID.String()))
	response.OK(c, gin.H{"recording_id": rec.ID, "status": models.RecordingStatusProcessing})
}

var (
	errUnidentified  = errors.New("provide recording_id, or session_id with provider_recording_id")
	errBadIdentifier = errors.New("invalid identifier")
)

// resolve finds the recording the callback refers to, creating it when the
// platform only knows the session.
func (h *WebhookHandler) resolve(ctx context.Context, body RecordingReadyPayload) (*models.Recording, error) {
	if body.ProviderRecordingID != "" {
		rec, err := h.repo.GetByProviderID(ctx, body.ProviderRecordingID)
		if !errors.Is(err, ErrNotFound) {
			return rec, err
		}
	}
	if body.RecordingID != "" {
		id, err := uuid.Parse(body.RecordingID)
		if err != nil {
			return nil, errBadIdentifier
		}
		return h.repo.GetByID(ctx, id)
	}
	if body.SessionID == "" {
		return nil, errUnidentified
	}
	sessionID, err := uuid.Parse(body.SessionID)
	if err != nil {
		return nil, errBadIdentifier
	}
	if _, err := h.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rec := &models.Recording{
		SessionID:           sessionID,
		ProviderRecordingID: body.ProviderRecordingID,
		OriginalURL:         body.FileURL,
		Duration:            body.Duration,
		FileSize:            body.FileSize,
		Status:              models.RecordingStatusProcessing,
	}
	err = h.repo.Create(ctx, rec)
	if errors.Is(err, ErrDuplicate) {
		return h.repo.GetByProviderID(ctx, body.ProviderRecordingID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (h *WebhookHandler) fail(c *gin.Context, body RecordingReadyPayload, err error) {
	switch {
	case errors.Is(err, errUnidentified), errors.Is(err, errBadIdentifier):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "recording not found")
	case errors.Is(err, store.ErrNotFound):
		response.NotFound(c, "session not found")
	default:
		h.logger.Error("recording webhook failed", zap.Error(err),
			zap.String("session_id", body.SessionID),
			zap.String("recording_id", body.RecordingID))
		response.Internal(c, "failed to record recording")
	}
}
