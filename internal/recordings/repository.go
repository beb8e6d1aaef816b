package recordings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-learning/backend/internal/models"
)

var (
	// ErrNotFound is returned when a recording does not exist.
	ErrNotFound = errors.New("recording not found")
	// ErrDuplicate is returned when the provider recording id is already stored.
	ErrDuplicate = errors.New("recording already exists")
)

// Store is the recording persistence used by the webhook, handler and worker.
type Store interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	GetByProviderID(ctx context.Context, providerID string) (*models.Recording, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error)
	UpdateOriginalURL(ctx context.Context, id uuid.UUID, originalURL string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

// Repository handles recording persistence in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a recordings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const recordingColumns = `id, session_id, COALESCE(provider_recording_id,''), COALESCE(original_url,''), COALESCE(s3_url,''), COALESCE(s3_key,''), duration, file_size, status, created_at, updated_at`

func scanRecording(row pgx.Row) (*models.Recording, error) {
	var rec models.Recording
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.ProviderRecordingID, &rec.OriginalURL, &rec.S3URL, &rec.S3Key,
		&rec.Duration, &rec.FileSize, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create inserts rec with status processing and fills its id and timestamps.
func (r *Repository) Create(ctx context.Context, rec *models.Recording) error {
	const q = `INSERT INTO recordings (session_id, provider_recording_id, original_url, duration, file_size, status)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	if rec.Status == "" {
		rec.Status = models.RecordingStatusProcessing
	}
	err := r.pool.QueryRow(ctx, q, rec.SessionID, rec.ProviderRecordingID, rec.OriginalURL, rec.Duration, rec.FileSize, rec.Status).
		Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	return nil
}

// GetByID returns a recording by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	return scanRecording(r.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE id = $1`, id))
}

// GetByProviderID returns a recording by the platform's recording id.
func (r *Repository) GetByProviderID(ctx context.Context, providerID string) (*models.Recording, error) {
	return scanRecording(r.pool.QueryRow(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE provider_recording_id = $1`, providerID))
}

// ListBySession returns a session's recordings, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Recording, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordingColumns+` FROM recordings WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	list := []models.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

func (r *Repository) exec(ctx context.Context, op, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOriginalURL records a new provider file location and resets the status to processing.
func (r *Repository) UpdateOriginalURL(ctx context.Context, id uuid.UUID, originalURL string) error {
	return r.exec(ctx, "update original url",
		`UPDATE recordings SET original_url = $1, status = $2, updated_at = NOW() WHERE id = $3`,
		originalURL, models.RecordingStatusProcessing, id)
}

// MarkCompleted stores the S3 location of an uploaded recording.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, s3URL, s3Key string, fileSize int64) error {
	return r.exec(ctx, "mark recording completed",
		`UPDATE recordings SET s3_url = $1, s3_key = $2, file_size = GREATEST(file_size, $3), status = $4, updated_at = NOW() WHERE id = $5`,
		s3URL, s3Key, fileSize, models.RecordingStatusCompleted, id)
}

// MarkFailed flags a recording whose upload was dead-lettered.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "mark recording failed",
		`UPDATE recordings SET status = $1, updated_at = NOW() WHERE id = $2`,
		models.RecordingStatusFailed, id)
}

var _ Store = (*Repository)(nil)
