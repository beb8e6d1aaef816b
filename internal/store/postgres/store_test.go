package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/store"
	"github.com/aura-learning/backend/pkg/database"
)

// openTestStore connects to TEST_DATABASE_URL and skips when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolOptions{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))
	return New(pool)
}

func seedSession(t *testing.T, s *Store) *models.LiveSession {
	t.Helper()
	ctx := context.Background()
	courseID, cohortID := uuid.New(), uuid.New()
	_, err := s.pool.Exec(ctx, `INSERT INTO courses (id, title) VALUES ($1, 'Algebra')`, courseID)
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `INSERT INTO cohorts (id, course_id, name) VALUES ($1, $2, 'Spring')`, cohortID, courseID)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	sess := &models.LiveSession{
		ID: uuid.New(), CourseID: courseID, CohortID: cohortID, Title: "Vectors", Kind: models.SessionKindLive,
		StartsAt: now, EndsAt: now.Add(time.Hour), DurationMinutes: 60, Timezone: "UTC",
		Platform: models.PlatformZego, PlatformSessionID: "room", State: models.SessionActive,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertSession(ctx, sess) }))
	return sess
}

func TestCatalogAndSessionLookup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)

	ok, err := s.CohortExists(ctx, sess.CourseID, sess.CohortID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.State)

	_, err = s.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentRaisesLeaveOnePending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)
	now := time.Now().UTC()
	p := &models.Participant{ID: uuid.New(), SessionID: sess.ID, Identity: "7", CreatedAt: now}
	p.ResetPresence(models.RoleStudent, now)
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertParticipant(ctx, p) }))

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.WithTx(ctx, func(tx store.Tx) error {
				if _, err := tx.LockSession(ctx, sess.ID); err != nil {
					return err
				}
				return tx.InsertHand(ctx, &models.HandRaise{ID: uuid.New(), SessionID: sess.ID, ParticipantID: p.ID, RaisedAt: now, Status: models.HandPending})
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	open, err := s.ListOpenHands(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestMarkAllLeftReturnsChangedRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s)
	now := time.Now().UTC()

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for _, id := range []string{"1", "2"} {
			p := &models.Participant{ID: uuid.New(), SessionID: sess.ID, Identity: id, CreatedAt: now}
			p.ResetPresence(models.RoleStudent, now)
			require.NoError(t, tx.InsertParticipant(ctx, p))
			require.NoError(t, tx.SetMuted(ctx, p.ID, false, now))
		}
		left, err := tx.MarkAllLeft(ctx, sess.ID, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Len(t, left, 2)
		for _, p := range left {
			assert.False(t, p.Present())
			assert.True(t, p.IsMuted)
		}
		return nil
	}))
}
