package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSession(t *testing.T, s *Store) *models.LiveSession {
	t.Helper()
	ctx := context.Background()
	courseID, cohortID := uuid.New(), uuid.New()
	require.NoError(t, s.CreateCourse(ctx, courseID, "Algebra"))
	require.NoError(t, s.CreateCohort(ctx, courseID, cohortID, "Spring"))

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	sess := &models.LiveSession{
		ID:                uuid.New(),
		CourseID:          courseID,
		CohortID:          cohortID,
		Title:             "Vectors",
		Kind:              models.SessionKindLive,
		StartsAt:          now,
		EndsAt:            now.Add(time.Hour),
		DurationMinutes:   60,
		Timezone:          "UTC",
		Platform:          models.PlatformAgora,
		PlatformSessionID: "room-1",
		State:             models.SessionScheduled,
		CreatedBy:         "prof-1",
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertSession(ctx, sess)
	}))
	return sess
}

func newParticipant(sessionID uuid.UUID, identity string, role models.ParticipantRole, at time.Time) *models.Participant {
	p := &models.Participant{ID: uuid.New(), SessionID: sessionID, Identity: identity, CreatedAt: at}
	p.ResetPresence(role, at)
	return p
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestCatalogExistence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	courseID, cohortID := uuid.New(), uuid.New()
	require.NoError(t, s.CreateCourse(ctx, courseID, "Algebra"))
	require.NoError(t, s.CreateCohort(ctx, courseID, cohortID, "Spring"))

	ok, err := s.CourseExists(ctx, courseID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CohortExists(ctx, courseID, cohortID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CohortExists(ctx, uuid.New(), cohortID)
	require.NoError(t, err)
	assert.False(t, ok, "cohort belongs to another course")

	assert.ErrorIs(t, s.CreateCourse(ctx, courseID, "dup"), store.ErrConflict)
}

func TestSessionRoundTripAndTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Title, got.Title)
	assert.True(t, sess.StartsAt.Equal(got.StartsAt))
	assert.Equal(t, models.SessionScheduled, got.State)
	assert.Nil(t, got.StartedAt)

	startedAt := sess.StartsAt.Add(time.Minute)
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.TransitionSession(ctx, sess.ID, models.SessionScheduled, models.SessionActive, startedAt)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.TransitionSession(ctx, sess.ID, models.SessionScheduled, models.SessionActive, startedAt)
		require.NoError(t, err)
		assert.False(t, ok, "second transition from scheduled must not match")
		return nil
	}))

	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.State)
	require.NotNil(t, got.StartedAt)
	assert.True(t, startedAt.Equal(*got.StartedAt))

	_, err = s.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.TransitionSession(ctx, sess.ID, models.SessionScheduled, models.SessionActive, time.Now())
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionScheduled, got.State)
}

func TestListSessionsFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first := seedSession(t, s)
	second := seedSession(t, s)

	all, err := s.ListSessions(ctx, store.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byCourse, err := s.ListSessions(ctx, store.SessionFilter{CourseID: &second.CourseID})
	require.NoError(t, err)
	require.Len(t, byCourse, 1)
	assert.Equal(t, second.ID, byCourse[0].ID)

	none, err := s.ListSessions(ctx, store.SessionFilter{State: models.SessionEnded})
	require.NoError(t, err)
	assert.Empty(t, none)

	to := first.StartsAt
	before, err := s.ListSessions(ctx, store.SessionFilter{To: &to})
	require.NoError(t, err)
	assert.Empty(t, before)

	paged, err := s.ListSessions(ctx, store.SessionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func TestParticipantUniquenessAndRejoin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)
	at := time.Date(2026, 3, 4, 10, 5, 0, 0, time.UTC)
	p := newParticipant(sess.ID, "42", models.RoleStudent, at)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertParticipant(ctx, p) }))
	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertParticipant(ctx, newParticipant(sess.ID, "42", models.RoleStudent, at))
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.RejoinParticipant(ctx, p)
		require.NoError(t, err)
		assert.False(t, ok, "present participant cannot rejoin")

		ok, err = tx.MarkLeft(ctx, p.ID, at.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.MarkLeft(ctx, p.ID, at.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "leave is a single transition")

		p.ResetPresence(models.RoleStudent, at.Add(3*time.Minute))
		ok, err = tx.RejoinParticipant(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	list, err := s.ListParticipants(ctx, sess.ID, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ID)
	assert.True(t, list[0].Present())
	assert.True(t, list[0].IsMuted)
}

func TestUnmutedStudentsAndMarkAllLeft(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)
	at := time.Date(2026, 3, 4, 10, 5, 0, 0, time.UTC)
	instructor := newParticipant(sess.ID, "1", models.RoleInstructor, at)
	talker := newParticipant(sess.ID, "2", models.RoleStudent, at)
	quiet := newParticipant(sess.ID, "3", models.RoleStudent, at)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for _, p := range []*models.Participant{instructor, talker, quiet} {
			require.NoError(t, tx.InsertParticipant(ctx, p))
		}
		require.NoError(t, tx.SetMuted(ctx, talker.ID, false, at))
		require.NoError(t, tx.SetCameraOn(ctx, talker.ID, true, at))

		unmuted, err := tx.UnmutedStudents(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, unmuted, 1)
		assert.Equal(t, talker.ID, unmuted[0].ID)
		assert.True(t, unmuted[0].IsCameraOn)

		left, err := tx.MarkAllLeft(ctx, sess.ID, at.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, left, 3)
		for _, p := range left {
			assert.True(t, p.IsMuted, p.Identity)
		}
		return nil
	}))

	present, err := s.ListParticipants(ctx, sess.ID, true)
	require.NoError(t, err)
	assert.Empty(t, present)
	all, err := s.ListParticipants(ctx, sess.ID, false)
	require.NoError(t, err)
	for _, p := range all {
		assert.True(t, p.IsMuted, "left participant %s keeps an open mic", p.Identity)
	}
}

func TestOnePendingHandPerParticipant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)
	at := time.Date(2026, 3, 4, 10, 5, 0, 0, time.UTC)
	p := newParticipant(sess.ID, "2", models.RoleStudent, at)
	first := &models.HandRaise{ID: uuid.New(), SessionID: sess.ID, ParticipantID: p.ID, RaisedAt: at, Status: models.HandPending}

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.InsertParticipant(ctx, p))
		return tx.InsertHand(ctx, first)
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertHand(ctx, &models.HandRaise{ID: uuid.New(), SessionID: sess.ID, ParticipantID: p.ID, RaisedAt: at, Status: models.HandPending})
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.UpdateHandStatus(ctx, first.ID, models.HandPending, models.HandAccepted, at.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.UpdateHandStatus(ctx, first.ID, models.HandPending, models.HandRejected, at.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		open, err := tx.OpenHandsForParticipant(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, models.HandAccepted, open[0].Status)
		require.NotNil(t, open[0].RespondedAt)

		// An accepted request frees the pending slot.
		return tx.InsertHand(ctx, &models.HandRaise{ID: uuid.New(), SessionID: sess.ID, ParticipantID: p.ID, RaisedAt: at.Add(2 * time.Minute), Status: models.HandPending})
	}))

	open, err := s.ListOpenHands(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	hands, err := s.ListParticipantHands(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, hands, 2)
}

func TestRaisePeakViewersIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	require.NoError(t, s.RaisePeakViewers(ctx, sess.ID, 7))
	require.NoError(t, s.RaisePeakViewers(ctx, sess.ID, 3))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.PeakViewers)
}
