package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/store"
)

const participantColumns = `id, session_id, identity, role, joined_at, left_at, is_muted, is_camera_on, created_at, updated_at`

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var p models.Participant
	var role string
	var joinedAt, createdAt, updatedAt int64
	var leftAt sql.NullInt64
	if err := row.Scan(&p.ID, &p.SessionID, &p.Identity, &role, &joinedAt, &leftAt, &p.IsMuted, &p.IsCameraOn, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Role = models.ParticipantRole(role)
	p.JoinedAt = fromMillis(joinedAt)
	p.LeftAt = fromNullMillis(leftAt)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func queryParticipant(ctx context.Context, q querier, where string, args ...any) (*models.Participant, error) {
	p, err := scanParticipant(q.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM live_session_participants WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func queryParticipants(ctx context.Context, q querier, query string, args ...any) ([]models.Participant, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	list := []models.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func (s *Store) ListParticipants(ctx context.Context, sessionID uuid.UUID, presentOnly bool) ([]models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM live_session_participants WHERE session_id = ?`
	if presentOnly {
		query += ` AND left_at IS NULL`
	}
	return queryParticipants(ctx, s.db, query+` ORDER BY joined_at ASC, id ASC`, sessionID)
}

func (s *Store) GetParticipantByIdentity(ctx context.Context, sessionID uuid.UUID, identity string) (*models.Participant, error) {
	return queryParticipant(ctx, s.db, `session_id = ? AND identity = ?`, sessionID, identity)
}

func (t *tx) ParticipantByIdentity(ctx context.Context, sessionID uuid.UUID, identity string) (*models.Participant, error) {
	return queryParticipant(ctx, t.q, `session_id = ? AND identity = ?`, sessionID, identity)
}

func (t *tx) ParticipantByID(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	return queryParticipant(ctx, t.q, `id = ?`, id)
}

func (t *tx) InsertParticipant(ctx context.Context, p *models.Participant) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO live_session_participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Identity, string(p.Role), toMillis(p.JoinedAt), nullMillis(p.LeftAt),
		p.IsMuted, p.IsCameraOn, toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func (t *tx) RejoinParticipant(ctx context.Context, p *models.Participant) (bool, error) {
	res, err := t.q.ExecContext(ctx, `UPDATE live_session_participants
		SET role = ?, joined_at = ?, left_at = NULL, is_muted = ?, is_camera_on = ?, updated_at = ?
		WHERE id = ? AND left_at IS NOT NULL`,
		string(p.Role), toMillis(p.JoinedAt), p.IsMuted, p.IsCameraOn, toMillis(p.UpdatedAt), p.ID)
	if err != nil {
		return false, fmt.Errorf("rejoin participant: %w", err)
	}
	return affectedOne(res)
}

func (t *tx) MarkLeft(ctx context.Context, participantID uuid.UUID, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE live_session_participants SET left_at = ?, is_muted = 1, updated_at = ? WHERE id = ? AND left_at IS NULL`,
		toMillis(at), toMillis(at), participantID)
	if err != nil {
		return false, fmt.Errorf("mark left: %w", err)
	}
	return affectedOne(res)
}

// MarkAllLeft sets left_at on every present participant, closes their microphones
// and returns the rows it changed.
func (t *tx) MarkAllLeft(ctx context.Context, sessionID uuid.UUID, at time.Time) ([]models.Participant, error) {
	present, err := queryParticipants(ctx, t.q,
		`SELECT `+participantColumns+` FROM live_session_participants WHERE session_id = ? AND left_at IS NULL ORDER BY joined_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	if len(present) == 0 {
		return present, nil
	}
	if _, err := t.q.ExecContext(ctx,
		`UPDATE live_session_participants SET left_at = ?, is_muted = 1, updated_at = ? WHERE session_id = ? AND left_at IS NULL`,
		toMillis(at), toMillis(at), sessionID); err != nil {
		return nil, fmt.Errorf("mark all left: %w", err)
	}
	for i := range present {
		left := at.UTC()
		present[i].LeftAt = &left
		present[i].IsMuted = true
		present[i].UpdatedAt = left
	}
	return present, nil
}

func (t *tx) SetMuted(ctx context.Context, participantID uuid.UUID, muted bool, at time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE live_session_participants SET is_muted = ?, updated_at = ? WHERE id = ?`,
		muted, toMillis(at), participantID)
	if err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return nil
}

func (t *tx) SetCameraOn(ctx context.Context, participantID uuid.UUID, on bool, at time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE live_session_participants SET is_camera_on = ?, updated_at = ? WHERE id = ?`,
		on, toMillis(at), participantID)
	if err != nil {
		return fmt.Errorf("set camera: %w", err)
	}
	return nil
}

func (t *tx) UnmutedStudents(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	return queryParticipants(ctx, t.q,
		`SELECT `+participantColumns+` FROM live_session_participants
		WHERE session_id = ? AND role = ? AND left_at IS NULL AND is_muted = 0
		ORDER BY joined_at ASC, id ASC`,
		sessionID, string(models.RoleStudent))
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
