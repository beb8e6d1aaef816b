package recordings_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/recordings"
	"github.com/aura-learning/backend/internal/recordings/recordingstest"
	"github.com/aura-learning/backend/internal/store"
	"github.com/aura-learning/backend/pkg/queue"
)

type sessionSet map[uuid.UUID]bool

func (s sessionSet) GetSession(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	if !s[id] {
		return nil, store.ErrNotFound
	}
	return &models.LiveSession{ID: id}, nil
}

type enqueued struct {
	mu   sync.Mutex
	jobs []queue.RecordingUploadPayload
	err  error
}

func (e *enqueued) EnqueueRecordingUpload(_ context.Context, p queue.RecordingUploadPayload) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, p)
	return nil
}

type webhookFixture struct {
	repo    *recordingstest.Memory
	queue   *enqueued
	session uuid.UUID
	router  *gin.Engine
}

func newWebhookFixture(t *testing.T, secret string) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &webhookFixture{repo: recordingstest.New(), queue: &enqueued{}, session: uuid.New()}
	h := recordings.NewWebhookHandler(f.repo, sessionSet{f.session: true}, f.queue, secret, zaptest.NewLogger(t))
	f.router = gin.New()
	f.router.POST("/webhooks/recording-ready", h.RecordingReady)
	return f
}

func (f *webhookFixture) post(t *testing.T, body any, signature string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/recording-ready", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(recordings.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func sign(secret string, body any) string {
	raw, _ := json.Marshal(body)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestRecordingReadyCreatesAndEnqueues(t *testing.T) {
	f := newWebhookFixture(t, "")
	body := gin.H{
		"session_id":            f.session.String(),
		"provider_recording_id": "sid-1",
		"file_url":              "https://cdn.example.com/a.mp4",
		"duration":              3600,
		"file_size":             1024,
	}

	w := f.post(t, body, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rec, err := f.repo.GetByProviderID(context.Background(), "sid-1")
	require.NoError(t, err)
	assert.Equal(t, f.session, rec.SessionID)
	assert.Equal(t, models.RecordingStatusProcessing, rec.Status)
	assert.Equal(t, 3600, rec.Duration)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, queue.RecordingUploadPayload{RecordingID: rec.ID, SessionID: f.session, OriginalURL: "https://cdn.example.com/a.mp4"}, f.queue.jobs[0])

	// A redelivery with a new URL updates the same row.
	body["file_url"] = "https://cdn.example.com/b.mp4"
	require.Equal(t, http.StatusOK, f.post(t, body, "").Code)
	list, err := f.repo.ListBySession(context.Background(), f.session)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "https://cdn.example.com/b.mp4", list[0].OriginalURL)
	assert.Len(t, f.queue.jobs, 2)
}

func TestRecordingReadySkipsCompleted(t *testing.T) {
	f := newWebhookFixture(t, "")
	ctx := context.Background()
	rec := &models.Recording{SessionID: f.session, OriginalURL: "https://cdn.example.com/a.mp4"}
	require.NoError(t, f.repo.Create(ctx, rec))
	require.NoError(t, f.repo.MarkCompleted(ctx, rec.ID, "https://s3/a", "k", 10))

	w := f.post(t, gin.H{"recording_id": rec.ID.String(), "file_url": "https://cdn.example.com/a.mp4"}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"completed"`)
	assert.Empty(t, f.queue.jobs)
}

func TestRecordingReadyRejections(t *testing.T) {
	f := newWebhookFixture(t, "")
	url := "https://cdn.example.com/a.mp4"
	cases := []struct {
		name string
		body gin.H
		code int
	}{
		{"missing file url", gin.H{"session_id": f.session.String()}, http.StatusBadRequest},
		{"no identifiers", gin.H{"file_url": url}, http.StatusBadRequest},
		{"bad session id", gin.H{"session_id": "nope", "file_url": url}, http.StatusBadRequest},
		{"unknown session", gin.H{"session_id": uuid.NewString(), "file_url": url}, http.StatusNotFound},
		{"unknown recording", gin.H{"recording_id": uuid.NewString(), "file_url": url}, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, f.post(t, tc.body, "").Code)
		})
	}
	assert.Empty(t, f.queue.jobs)
}

func TestRecordingReadyEnqueueFailure(t *testing.T) {
	f := newWebhookFixture(t, "")
	f.queue.err = errors.New("redis down")
	w := f.post(t, gin.H{"session_id": f.session.String(), "file_url": "https://cdn.example.com/a.mp4"}, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRecordingReadySignature(t *testing.T) {
	const secret = "hook-secret"
	f := newWebhookFixture(t, secret)
	body := gin.H{"session_id": f.session.String(), "file_url": "https://cdn.example.com/a.mp4"}

	assert.Equal(t, http.StatusUnauthorized, f.post(t, body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.post(t, body, sign("other", body)).Code)
	assert.Equal(t, http.StatusUnauthorized, f.post(t, body, "sha256=zz").Code)
	assert.Empty(t, f.queue.jobs)

	assert.Equal(t, http.StatusOK, f.post(t, body, sign(secret, body)).Code)
	assert.Len(t, f.queue.jobs, 1)
}
