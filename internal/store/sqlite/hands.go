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

const handColumns = `id, session_id, participant_id, raised_at, status, responded_at, addressed_at`

func scanHand(row rowScanner) (*models.HandRaise, error) {
	var h models.HandRaise
	var status string
	var raisedAt int64
	var respondedAt, addressedAt sql.NullInt64
	if err := row.Scan(&h.ID, &h.SessionID, &h.ParticipantID, &raisedAt, &status, &respondedAt, &addressedAt); err != nil {
		return nil, err
	}
	h.Status = models.HandStatus(status)
	h.RaisedAt = fromMillis(raisedAt)
	h.RespondedAt = fromNullMillis(respondedAt)
	h.AddressedAt = fromNullMillis(addressedAt)
	return &h, nil
}

func queryHands(ctx context.Context, q querier, query string, args ...any) ([]models.HandRaise, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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

// ListOpenHands returns pending and accepted requests in raise order.
func (s *Store) ListOpenHands(ctx context.Context, sessionID uuid.UUID) ([]models.HandRaise, error) {
	return queryHands(ctx, s.db,
		`SELECT `+handColumns+` FROM live_session_hand_raises
		WHERE session_id = ? AND status IN ('pending', 'accepted')
		ORDER BY raised_at ASC, id ASC`, sessionID)
}

func (s *Store) ListParticipantHands(ctx context.Context, participantID uuid.UUID) ([]models.HandRaise, error) {
	return queryHands(ctx, s.db,
		`SELECT `+handColumns+` FROM live_session_hand_raises WHERE participant_id = ? ORDER BY raised_at ASC, id ASC`,
		participantID)
}

func (t *tx) InsertHand(ctx context.Context, h *models.HandRaise) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO live_session_hand_raises (`+handColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.SessionID, h.ParticipantID, toMillis(h.RaisedAt), string(h.Status), nullMillis(h.RespondedAt), nullMillis(h.AddressedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert hand raise: %w", err)
	}
	return nil
}

func (t *tx) HandByID(ctx context.Context, id uuid.UUID) (*models.HandRaise, error) {
	h, err := scanHand(t.q.QueryRowContext(ctx, `SELECT `+handColumns+` FROM live_session_hand_raises WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get hand raise: %w", err)
	}
	return h, nil
}

func (t *tx) UpdateHandStatus(ctx context.Context, id uuid.UUID, from, to models.HandStatus, at time.Time) (bool, error) {
	column := "responded_at"
	if to == models.HandAddressed {
		column = "addressed_at"
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE live_session_hand_raises SET status = ?, `+column+` = ? WHERE id = ? AND status = ?`,
		string(to), toMillis(at), id, string(from))
	if err != nil {
		if isUniqueViolation(err) {
			return false, store.ErrConflict
		}
		return false, fmt.Errorf("update hand raise: %w", err)
	}
	return affectedOne(res)
}

func (t *tx) OpenHandsForParticipant(ctx context.Context, participantID uuid.UUID) ([]models.HandRaise, error) {
	return queryHands(ctx, t.q,
		`SELECT `+handColumns+` FROM live_session_hand_raises
		WHERE participant_id = ? AND status IN ('pending', 'accepted')
		ORDER BY raised_at ASC, id ASC`, participantID)
}
