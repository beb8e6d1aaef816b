package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/recordings/recordingstest"
	"github.com/aura-learning/backend/pkg/queue"
)

type memUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (u *memUploader) UploadRecording(_ context.Context, key, contentType string, body io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[key] = data
	u.types[key] = contentType
	return "https://bucket.test/" + key, nil
}

// memJobs hands out queued jobs once and dead-letters at queue.MaxRetries.
type memJobs struct {
	mu      sync.Mutex
	pending []*queue.Job
	dead    []*queue.Job
}

func (j *memJobs) Dequeue(ctx context.Context) (*queue.Job, error) {
	j.mu.Lock()
	if len(j.pending) > 0 {
		job := j.pending[0]
		j.pending = j.pending[1:]
		j.mu.Unlock()
		return job, nil
	}
	j.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (j *memJobs) Retry(_ context.Context, job *queue.Job) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job.Attempt++
	if job.Attempt >= queue.MaxRetries {
		j.dead = append(j.dead, job)
		return true, nil
	}
	j.pending = append(j.pending, job)
	return false, nil
}

func uploadJob(t *testing.T, rec *models.Recording, url string) *queue.Job {
	t.Helper()
	body, err := json.Marshal(queue.RecordingUploadPayload{RecordingID: rec.ID, SessionID: rec.SessionID, OriginalURL: url})
	require.NoError(t, err)
	return &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeRecordingUpload, Payload: body}
}

type fixture struct {
	store    *recordingstest.Memory
	uploads  *memUploader
	jobs     *memJobs
	proc     *RecordingProcessor
	provider *httptest.Server
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	provider := httptest.NewServer(handler)
	t.Cleanup(provider.Close)
	f := &fixture{
		store:    recordingstest.New(),
		uploads:  &memUploader{objects: map[string][]byte{}, types: map[string]string{}},
		jobs:     &memJobs{},
		provider: provider,
	}
	f.proc = NewRecordingProcessor(f.store, f.uploads, f.jobs, provider.Client(), zaptest.NewLogger(t))
	f.proc.backoff = time.Millisecond
	return f
}

func (f *fixture) recording(t *testing.T) *models.Recording {
	t.Helper()
	rec := &models.Recording{SessionID: uuid.New(), OriginalURL: f.provider.URL + "/rec.mp4"}
	require.NoError(t, f.store.Create(context.Background(), rec))
	return rec
}

func TestProcessCopiesRecordingToStorage(t *testing.T) {
	video := bytes.Repeat([]byte("frame"), 100)
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/webm")
		_, _ = w.Write(video)
	})
	rec := f.recording(t)

	require.NoError(t, f.proc.Process(context.Background(), uploadJob(t, rec, rec.OriginalURL)))

	key := "recordings/" + rec.SessionID.String() + "/" + rec.ID.String() + ".mp4"
	assert.Equal(t, video, f.uploads.objects[key])
	assert.Equal(t, "video/webm", f.uploads.types[key])

	stored, err := f.store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusCompleted, stored.Status)
	assert.Equal(t, key, stored.S3Key)
	assert.Equal(t, int64(len(video)), stored.FileSize)
}

func TestProcessSkipsCompletedRecording(t *testing.T) {
	calls := 0
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) { calls++ })
	rec := f.recording(t)
	require.NoError(t, f.store.MarkCompleted(context.Background(), rec.ID, "u", "k", 1))

	require.NoError(t, f.proc.Process(context.Background(), uploadJob(t, rec, rec.OriginalURL)))
	assert.Zero(t, calls)
}

func TestProcessRejectsBadJobs(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	rec := f.recording(t)
	ctx := context.Background()

	assert.Error(t, f.proc.Process(ctx, &queue.Job{Type: "email"}))
	assert.Error(t, f.proc.Process(ctx, uploadJob(t, &models.Recording{ID: uuid.New()}, rec.OriginalURL)))
	assert.ErrorContains(t, f.proc.Process(ctx, uploadJob(t, rec, rec.OriginalURL)), "download status: 404")
}

func TestRunRetriesThenMarksFailed(t *testing.T) {
	var (
		mu       sync.Mutex
		attempts int
	)
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	})
	rec := f.recording(t)
	f.jobs.pending = append(f.jobs.pending, uploadJob(t, rec, rec.OriginalURL))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.proc.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		stored, err := f.store.GetByID(context.Background(), rec.ID)
		return err == nil && stored.Status == models.RecordingStatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, queue.MaxRetries, attempts)
	assert.Len(t, f.jobs.dead, 1)
}
