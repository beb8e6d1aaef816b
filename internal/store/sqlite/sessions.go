package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/store"
)

const sessionColumns = `id, course_id, cohort_id, title, kind, starts_at, ends_at, duration_minutes, timezone,
	platform, platform_session_id, join_url, host_url, state, peak_viewers, created_by,
	started_at, ended_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.LiveSession, error) {
	var s models.LiveSession
	var startsAt, endsAt, createdAt, updated int64
	var startedAt, endedAt sql.NullInt64
	var kind, platform, state string
	if err := row.Scan(&s.ID, &s.CourseID, &s.CohortID, &s.Title, &kind, &startsAt, &endsAt, &s.DurationMinutes, &s.Timezone,
		&platform, &s.PlatformSessionID, &s.JoinURL, &s.HostURL, &state, &s.PeakViewers, &s.CreatedBy,
		&startedAt, &endedAt, &createdAt, &updated); err != nil {
		return nil, err
	}
	s.Kind = models.SessionKind(kind)
	s.Platform = models.Platform(platform)
	s.State = models.SessionState(state)
	s.StartsAt = fromMillis(startsAt)
	s.EndsAt = fromMillis(endsAt)
	s.StartedAt = fromNullMillis(startedAt)
	s.EndedAt = fromNullMillis(endedAt)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updated)
	return &s, nil
}

func getSession(ctx context.Context, q querier, id uuid.UUID) (*models.LiveSession, error) {
	s, err := scanSession(q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return getSession(ctx, s.db, id)
}

// ListSessions returns sessions matching f ordered by start time.
func (s *Store) ListSessions(ctx context.Context, f store.SessionFilter) ([]models.LiveSession, error) {
	var (
		where []string
		args  []any
	)
	if f.CourseID != nil {
		where = append(where, "course_id = ?")
		args = append(args, *f.CourseID)
	}
	if f.CohortID != nil {
		where = append(where, "cohort_id = ?")
		args = append(args, *f.CohortID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	if f.Platform != "" {
		where = append(where, "platform = ?")
		args = append(args, string(f.Platform))
	}
	if f.From != nil {
		where = append(where, "starts_at >= ?")
		args = append(args, toMillis(*f.From))
	}
	if f.To != nil {
		where = append(where, "starts_at < ?")
		args = append(args, toMillis(*f.To))
	}
	query := `SELECT ` + sessionColumns + ` FROM live_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY starts_at ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, f.NormalizedLimit(), max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	list := []models.LiveSession{}
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		list = append(list, *item)
	}
	return list, rows.Err()
}

// RaisePeakViewers stores count when it exceeds the recorded peak.
func (s *Store) RaisePeakViewers(ctx context.Context, sessionID uuid.UUID, count int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE live_sessions SET peak_viewers = ?, updated_at = ? WHERE id = ? AND peak_viewers < ?`,
		count, toMillis(time.Now()), sessionID, count)
	if err != nil {
		return fmt.Errorf("raise peak viewers: %w", err)
	}
	return nil
}

// LockSession reads the session inside the transaction. The immediate
// transaction already holds the write lock.
func (t *tx) LockSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	return getSession(ctx, t.q, id)
}

func (t *tx) InsertSession(ctx context.Context, s *models.LiveSession) error {
	_, err := t.q.ExecContext(ctx, `INSERT INTO live_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CourseID, s.CohortID, s.Title, string(s.Kind), toMillis(s.StartsAt), toMillis(s.EndsAt), s.DurationMinutes, s.Timezone,
		string(s.Platform), s.PlatformSessionID, s.JoinURL, s.HostURL, string(s.State), s.PeakViewers, s.CreatedBy,
		nullMillis(s.StartedAt), nullMillis(s.EndedAt), toMillis(s.CreatedAt), toMillis(s.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (t *tx) TransitionSession(ctx context.Context, id uuid.UUID, from, to models.SessionState, at time.Time) (bool, error) {
	query := `UPDATE live_sessions SET state = ?, updated_at = ?`
	switch to {
	case models.SessionActive:
		query += `, started_at = ?`
	case models.SessionEnded:
		query += `, ended_at = ?`
	default:
		return false, fmt.Errorf("transition session: unsupported target state %q", to)
	}
	query += ` WHERE id = ? AND state = ?`
	res, err := t.q.ExecContext(ctx, query, string(to), toMillis(at), toMillis(at), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	return n == 1, nil
}
