// Package recordingstest provides an in-memory recordings store for tests.
package recordingstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/recordings"
)

// Memory is a recordings.Store backed by a map.
type Memory struct {
	mu   sync.Mutex
	recs map[uuid.UUID]models.Recording
}

func New() *Memory {
	return &Memory{recs: make(map[uuid.UUID]models.Recording)}
}

func (m *Memory) Create(_ context.Context, rec *models.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ProviderRecordingID != "" {
		for _, r := range m.recs {
			if r.ProviderRecordingID == rec.ProviderRecordingID {
				return recordings.ErrDuplicate
			}
		}
	}
	now := time.Now().UTC()
	rec.ID = uuid.New()
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.Status == "" {
		rec.Status = models.RecordingStatusProcessing
	}
	m.recs[rec.ID] = *rec
	return nil
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, recordings.ErrNotFound
	}
	return &rec, nil
}

func (m *Memory) GetByProviderID(_ context.Context, providerID string) (*models.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.ProviderRecordingID == providerID {
			return &rec, nil
		}
	}
	return nil, recordings.ErrNotFound
}

func (m *Memory) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []models.Recording{}
	for _, rec := range m.recs {
		if rec.SessionID == sessionID {
			list = append(list, rec)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (m *Memory) update(id uuid.UUID, fn func(rec *models.Recording)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return recordings.ErrNotFound
	}
	fn(&rec)
	rec.UpdatedAt = time.Now().UTC()
	m.recs[id] = rec
	return nil
}

func (m *Memory) UpdateOriginalURL(_ context.Context, id uuid.UUID, originalURL string) error {
	return m.update(id, func(rec *models.Recording) {
		rec.OriginalURL = originalURL
		rec.Status = models.RecordingStatusProcessing
	})
}

func (m *Memory) MarkCompleted(_ context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64) error {
	return m.update(id, func(rec *models.Recording) {
		rec.S3URL, rec.S3Key = s3URL, s3Key
		if fileSize > rec.FileSize {
			rec.FileSize = fileSize
		}
		rec.Status = models.RecordingStatusCompleted
	})
}

func (m *Memory) MarkFailed(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(rec *models.Recording) {
		rec.Status = models.RecordingStatusFailed
	})
}

var _ recordings.Store = (*Memory)(nil)
