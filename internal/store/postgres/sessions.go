package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/store"
)

const sessionColumns = `id, course_id, cohort_id, title, kind, starts_at, ends_at, duration_minutes, timezone,
	platform, platform_session_id, join_url, host_url, state, peak_viewers, created_by,
	started_at, ended_at, created_at, updated_at`

func scanSession(row pgx.Row) (*models.LiveSession, error) {
	var s models.LiveSession
	err := row.Scan(&s.ID, &s.CourseID, &s.CohortID, &s.Title, &s.Kind, &s.StartsAt, &s.EndsAt, &s.DurationMinutes, &s.Timezone,
		&s.Platform, &s.PlatformSessionID, &s.JoinURL, &s.HostURL, &s.State, &s.PeakViewers, &s.CreatedBy,
		&s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, translate("get session", err)
	}
	return sess, nil
}

// ListSessions returns sessions matching f ordered by start time.
func (s *Store) ListSessions(ctx context.Context, f store.SessionFilter) ([]models.LiveSession, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CourseID != nil {
		add("course_id = $%d", *f.CourseID)
	}
	if f.CohortID != nil {
		add("cohort_id = $%d", *f.CohortID)
	}
	if f.State != "" {
		add("state = $%d", string(f.State))
	}
	if f.Platform != "" {
		add("platform = $%d", string(f.Platform))
	}
	if f.From != nil {
		add("starts_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("starts_at < $%d", *f.To)
	}
	query := `SELECT ` + sessionColumns + ` FROM live_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.NormalizedLimit(), max(f.Offset, 0))
	query += fmt.Sprintf(" ORDER BY starts_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	list := []models.LiveSession{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		list = append(list, *sess)
	}
	return list, rows.Err()
}

func (s *Store) RaisePeakViewers(ctx context.Context, sessionID uuid.UUID, count int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE live_sessions SET peak_viewers = $1, updated_at = NOW() WHERE id = $2 AND peak_viewers < $1`,
		count, sessionID)
	if err != nil {
		return fmt.Errorf("raise peak viewers: %w", err)
	}
	return nil
}

// LockSession reads the session row FOR UPDATE.
func (t *tx) LockSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	sess, err := scanSession(t.q.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, translate("lock session", err)
	}
	return sess, nil
}

func (t *tx) InsertSession(ctx context.Context, s *models.LiveSession) error {
	_, err := t.q.Exec(ctx, `INSERT INTO live_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		s.ID, s.CourseID, s.CohortID, s.Title, string(s.Kind), s.StartsAt, s.EndsAt, s.DurationMinutes, s.Timezone,
		string(s.Platform), s.PlatformSessionID, s.JoinURL, s.HostURL, string(s.State), s.PeakViewers, s.CreatedBy,
		s.StartedAt, s.EndedAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return translate("insert session", err)
	}
	return nil
}

func (t *tx) TransitionSession(ctx context.Context, id uuid.UUID, from, to models.SessionState, at time.Time) (bool, error) {
	var column string
	switch to {
	case models.SessionActive:
		column = "started_at"
	case models.SessionEnded:
		column = "ended_at"
	default:
		return false, fmt.Errorf("transition session: unsupported target state %q", to)
	}
	tag, err := t.q.Exec(ctx,
		`UPDATE live_sessions SET state = $1, `+column+` = $2, updated_at = $2 WHERE id = $3 AND state = $4`,
		string(to), at, id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
