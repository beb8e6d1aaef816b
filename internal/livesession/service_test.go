package livesession

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-learning/backend/internal/fanout"
	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
	"github.com/aura-learning/backend/internal/platform/platformtest"
	"github.com/aura-learning/backend/internal/store/sqlite"
)

// capture records published events in order.
type capture struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (c *capture) Publish(_ context.Context, ev fanout.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capture) types() []fanout.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]fanout.EventType, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

func (c *capture) last() fanout.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func (c *capture) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type harness struct {
	svc      *Service
	store    *sqlite.Store
	agora    *platformtest.Fake
	zego     *platformtest.Fake
	events   *capture
	courseID uuid.UUID
	cohortID uuid.UUID
	now      time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		store:    st,
		agora:    platformtest.New(models.PlatformAgora, platform.ServerEnforced),
		zego:     platformtest.New(models.PlatformZego, platform.ClientEnforced),
		events:   &capture{},
		courseID: uuid.New(),
		cohortID: uuid.New(),
		now:      time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()
	require.NoError(t, st.CreateCourse(ctx, h.courseID, "Physics"))
	require.NoError(t, st.CreateCohort(ctx, h.courseID, h.cohortID, "Morning"))

	if opts.Now == nil {
		opts.Now = func() time.Time { return h.now }
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = time.Second
	}
	h.svc = NewService(st, st, platform.NewRegistry(h.agora, h.zego), h.events, zaptest.NewLogger(t), opts)
	return h
}

func (h *harness) input(p models.Platform) CreateSessionInput {
	return CreateSessionInput{
		CourseID:  h.courseID,
		CohortID:  h.cohortID,
		Title:     "Kinematics",
		Date:      "2026-05-01",
		StartTime: "09:00",
		EndTime:   "10:30",
		Timezone:  "UTC",
		Platform:  p,
		CreatedBy: "instructor-1",
	}
}

// activeSession creates and starts a session on p.
func (h *harness) activeSession(t *testing.T, p models.Platform) *models.LiveSession {
	t.Helper()
	ctx := context.Background()
	sess, err := h.svc.CreateSession(ctx, h.input(p))
	require.NoError(t, err)
	sess, err = h.svc.StartSession(ctx, sess.ID)
	require.NoError(t, err)
	h.events.reset()
	return sess
}

func (h *harness) join(t *testing.T, sessionID uuid.UUID, identity string, role models.ParticipantRole) *models.Participant {
	t.Helper()
	res, err := h.svc.JoinSession(context.Background(), sessionID, identity, role)
	require.NoError(t, err)
	return res.Participant
}

func (h *harness) participant(t *testing.T, sessionID uuid.UUID, identity string) *models.Participant {
	t.Helper()
	p, err := h.store.GetParticipantByIdentity(context.Background(), sessionID, identity)
	require.NoError(t, err)
	return p
}
