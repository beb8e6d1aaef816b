package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-learning/backend/internal/models"
)

const participantColumns = `id, session_id, identity, role, joined_at, left_at, is_muted, is_camera_on, created_at, updated_at`

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	if err := row.Scan(&p.ID, &p.SessionID, &p.Identity, &p.Role, &p.JoinedAt, &p.LeftAt, &p.IsMuted, &p.IsCameraOn, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func queryParticipants(ctx context.Context, q querier, query string, args ...any) ([]models.Participant, error) {
	rows, err := q.Query(ctx, query, args...)
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
	query := `SELECT ` + participantColumns + ` FROM live_session_participants WHERE session_id = $1`
	if presentOnly {
		query += ` AND left_at IS NULL`
	}
	return queryParticipants(ctx, s.pool, query+` ORDER BY joined_at ASC, id ASC`, sessionID)
}

func (s *Store) GetParticipantByIdentity(ctx context.Context, sessionID uuid.UUID, identity string) (*models.Participant, error) {
	return participantByIdentity(ctx, s.pool, sessionID, identity)
}

func participantByIdentity(ctx context.Context, q querier, sessionID uuid.UUID, identity string) (*models.Participant, error) {
	p, err := scanParticipant(q.QueryRow(ctx,
		`SELECT `+participantColumns+` FROM live_session_participants WHERE session_id = $1 AND identity = $2`, sessionID, identity))
	if err != nil {
		return nil, translate("get participant", err)
	}
	return p, nil
}

func (t *tx) ParticipantByIdentity(ctx context.Context, sessionID uuid.UUID, identity string) (*models.Participant, error) {
	return participantByIdentity(ctx, t.q, sessionID, identity)
}

func (t *tx) ParticipantByID(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	p, err := scanParticipant(t.q.QueryRow(ctx, `SELECT `+participantColumns+` FROM live_session_participants WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get participant", err)
	}
	return p, nil
}

func (t *tx) InsertParticipant(ctx context.Context, p *models.Participant) error {
	_, err := t.q.Exec(ctx, `INSERT INTO live_session_participants (`+participantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.SessionID, p.Identity, string(p.Role), p.JoinedAt, p.LeftAt, p.IsMuted, p.IsCameraOn, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return translate("insert participant", err)
	}
	return nil
}

func (t *tx) RejoinParticipant(ctx context.Context, p *models.Participant) (bool, error) {
	tag, err := t.q.Exec(ctx, `UPDATE live_session_participants
		SET role = $1, joined_at = $2, left_at = NULL, is_muted = $3, is_camera_on = $4, updated_at = $5
		WHERE id = $6 AND left_at IS NOT NULL`,
		string(p.Role), p.JoinedAt, p.IsMuted, p.IsCameraOn, p.UpdatedAt, p.ID)
	if err != nil {
		return false, fmt.Errorf("rejoin participant: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) MarkLeft(ctx context.Context, participantID uuid.UUID, at time.Time) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`UPDATE live_session_participants SET left_at = $1, is_muted = TRUE, updated_at = $1 WHERE id = $2 AND left_at IS NULL`,
		at, participantID)
	if err != nil {
		return false, fmt.Errorf("mark left: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAllLeft sets left_at on every present participant, closes their microphones
// and returns the updated rows.
func (t *tx) MarkAllLeft(ctx context.Context, sessionID uuid.UUID, at time.Time) ([]models.Participant, error) {
	return queryParticipants(ctx, t.q, `UPDATE live_session_participants
		SET left_at = $1, is_muted = TRUE, updated_at = $1
		WHERE session_id = $2 AND left_at IS NULL
		RETURNING `+participantColumns, at, sessionID)
}

func (t *tx) SetMuted(ctx context.Context, participantID uuid.UUID, muted bool, at time.Time) error {
	if _, err := t.q.Exec(ctx,
		`UPDATE live_session_participants SET is_muted = $1, updated_at = $2 WHERE id = $3`,
		muted, at, participantID); err != nil {
		return fmt.Errorf("set muted: %w", err)
	}
	return nil
}

func (t *tx) SetCameraOn(ctx context.Context, participantID uuid.UUID, on bool, at time.Time) error {
	if _, err := t.q.Exec(ctx,
		`UPDATE live_session_participants SET is_camera_on = $1, updated_at = $2 WHERE id = $3`,
		on, at, participantID); err != nil {
		return fmt.Errorf("set camera: %w", err)
	}
	return nil
}

func (t *tx) UnmutedStudents(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	return queryParticipants(ctx, t.q, `SELECT `+participantColumns+` FROM live_session_participants
		WHERE session_id = $1 AND role = $2 AND left_at IS NULL AND NOT is_muted
		ORDER BY joined_at ASC, id ASC`,
		sessionID, string(models.RoleStudent))
}
