// Package worker runs background jobs: copying platform recordings into S3.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/recordings"
	"github.com/aura-learning/backend/pkg/queue"
	"github.com/aura-learning/backend/pkg/storage"
)

// Jobs is the queue the processor drains.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (deadLettered bool, err error)
}

// Uploader stores a recording object and returns its URL.
type Uploader interface {
	UploadRecording(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// RecordingProcessor downloads provider recordings and uploads them to S3.
type RecordingProcessor struct {
	store   recordings.Store
	uploads Uploader
	jobs    Jobs
	client  *http.Client
	backoff time.Duration
	logger  *zap.Logger
}

// NewRecordingProcessor creates a recording upload processor. client may be nil.
func NewRecordingProcessor(store recordings.Store, uploads Uploader, jobs Jobs, client *http.Client, logger *zap.Logger) *RecordingProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &RecordingProcessor{
		store:   store,
		uploads: uploads,
		jobs:    jobs,
		client:  client,
		backoff: queue.RetryBackoff,
		logger:  logger,
	}
}

// Process executes one recording upload job.
func (p *RecordingProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeRecordingUpload {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.RecordingUploadPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.store.GetByID(ctx, payload.RecordingID)
	if err != nil {
		return fmt.Errorf("load recording %s: %w", payload.RecordingID, err)
	}
	if rec.Status == models.RecordingStatusCompleted {
		p.logger.Info("recording already completed", zap.String("recording_id", rec.ID.String()))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.OriginalURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download status: %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	key := storage.RecordingKey(payload.SessionID.String(), payload.RecordingID.String())
	s3URL, err := p.uploads.UploadRecording(ctx, key, contentType, resp.Body, resp.ContentLength)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	if err := p.store.MarkCompleted(ctx, payload.RecordingID, s3URL, key, resp.ContentLength); err != nil {
		return fmt.Errorf("update recording: %w", err)
	}

	p.logger.Info("recording upload completed",
		zap.String("recording_id", payload.RecordingID.String()),
		zap.String("session_id", payload.SessionID.String()),
		zap.String("s3_key", key))
	return nil
}

// handle processes job and schedules a retry when it fails. A recording whose
// job is dead-lettered is marked failed.
func (p *RecordingProcessor) handle(ctx context.Context, job *queue.Job) error {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		return nil
	}
	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	dead, reErr := p.jobs.Retry(context.WithoutCancel(ctx), job)
	if reErr != nil {
		p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
		return err
	}
	if !dead {
		return err
	}
	var payload queue.RecordingUploadPayload
	if json.Unmarshal(job.Payload, &payload) != nil {
		return err
	}
	if markErr := p.store.MarkFailed(context.WithoutCancel(ctx), payload.RecordingID); markErr != nil && !errors.Is(markErr, recordings.ErrNotFound) {
		p.logger.Error("mark recording failed", zap.String("recording_id", payload.RecordingID.String()), zap.Error(markErr))
	}
	return err
}

// Run drains the queue until ctx is done.
func (p *RecordingProcessor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			p.logger.Info("recording worker stopping")
			return
		}
		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("dequeue error", zap.Error(err))
				p.sleep(ctx)
			}
			continue
		}
		if job == nil {
			continue
		}
		if err := p.handle(ctx, job); err != nil {
			p.sleep(ctx)
		}
	}
}

func (p *RecordingProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
