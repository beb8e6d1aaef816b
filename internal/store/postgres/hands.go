package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-learning/backend/internal/models"
)

const handColumns = `id, session_id, participant_id, raised_at, status, responded_at, addressed_at`

func scanHand(row pgx.Row) (*models.HandRaise, error) {
	var h models.HandRaise
	if err := row.Scan(&h.ID, &h.SessionID, &h.ParticipantID, &h.RaisedAt, &h.Status, &h.RespondedAt, &h.AddressedAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func queryHands(ctx context.Context, q querier, query string, args ...any) ([]models.HandRaise, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list hand raises: %w", err)
	}
	defer rows.Close()
	list := []models.HandRaise{}
	for rows.Next() {
		h, err := scanHand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hand raise: %w", err)
		}
		list = append(list, *h)
	}
	return list, rows.Err()
}

func (s *Store) ListOpenHands(ctx context.Context, sessionID uuid.UUID) ([]models.HandRaise, error) {
	return queryHands(ctx, s.pool, `SELECT `+handColumns+` FROM live_session_hand_raises
		WHERE session_id = $1 AND status IN ('pending', 'accepted')
		ORDER BY raised_at ASC, id ASC`, sessionID)
}

func (s *Store) ListParticipantHands(ctx context.Context, participantID uuid.UUID) ([]models.HandRaise, error) {
	return queryHands(ctx, s.pool,
		`SELECT `+handColumns+` FROM live_session_hand_raises WHERE participant_id = $1 ORDER BY raised_at ASC, id ASC`,
		participantID)
}

// InsertHand relies on the partial unique index to reject a second pending request.
func (t *tx) InsertHand(ctx context.Context, h *models.HandRaise) error {
	_, err := t.q.Exec(ctx, `INSERT INTO live_session_hand_raises (`+handColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.SessionID, h.ParticipantID, h.RaisedAt, string(h.Status), h.RespondedAt, h.AddressedAt)
	if err != nil {
		return translate("insert hand raise", err)
	}
	return nil
}

func (t *tx) HandByID(ctx context.Context, id uuid.UUID) (*models.HandRaise, error) {
	h, err := scanHand(t.q.QueryRow(ctx, `SELECT `+handColumns+` FROM live_session_hand_raises WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get hand raise", err)
	}
	return h, nil
}

func (t *tx) UpdateHandStatus(ctx context.Context, id uuid.UUID, from, to models.HandStatus, at time.Time) (bool, error) {
	column := "responded_at"
	if to == models.HandAddressed {
		column = "addressed_at"
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE live_session_hand_raises SET status = $1, `+column+` = $2 WHERE id = $3 AND status = $4`,
		string(to), at, id, string(from))
	if err != nil {
		return false, translate("update hand raise", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *tx) OpenHandsForParticipant(ctx context.Context, participantID uuid.UUID) ([]models.HandRaise, error) {
	return queryHands(ctx, t.q, `SELECT `+handColumns+` FROM live_session_hand_raises
		WHERE participant_id = $1 AND status IN ('pending', 'accepted')
		ORDER BY raised_at ASC, id ASC FOR UPDATE`, participantID)
}
