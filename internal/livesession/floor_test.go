package livesession

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-learning/backend/internal/apperr"
	"github.com/aura-learning/backend/internal/fanout"
	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
)

func unmutedStudents(t *testing.T, h *harness, sessionID uuid.UUID) []string {
	t.Helper()
	present, err := h.store.ListParticipants(context.Background(), sessionID, true)
	require.NoError(t, err)
	var out []string
	for _, p := range present {
		if p.Role == models.RoleStudent && !p.IsMuted {
			out = append(out, p.Identity)
		}
	}
	return out
}

func TestAcceptGivesFloorAndMutesOthers(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	h.join(t, sess.ID, "prof", models.RoleInstructor)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	h.join(t, sess.ID, "bob", models.RoleStudent)
	h.join(t, sess.ID, "cat", models.RoleStudent)
	_, err := h.svc.SetMic(ctx, sess.ID, "bob", true)
	require.NoError(t, err)
	h.events.reset()

	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HandPending, hand.Status)

	res, err := h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.HandAccepted, res.Hand.Status)
	require.NotNil(t, res.Hand.RespondedAt)
	require.Len(t, res.Updated, 2)
	assert.Equal(t, "amy", res.Updated[0].Identity)
	assert.False(t, res.Updated[0].IsMuted)
	assert.Equal(t, "bob", res.Updated[1].Identity)
	assert.True(t, res.Updated[1].IsMuted)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, []string{"amy"}, unmutedStudents(t, h, sess.ID))
	assert.False(t, h.participant(t, sess.ID, "prof").IsMuted)

	mutes := map[string]bool{}
	for _, c := range h.agora.Calls(platform.OpSetParticipantMute) {
		mutes[c.Identity] = c.Muted
	}
	assert.Equal(t, false, mutes["amy"])
	assert.Equal(t, true, mutes["bob"])
	assert.NotContains(t, mutes, "cat")

	assert.Equal(t, []fanout.EventType{
		fanout.HandRaised, fanout.HandResponded, fanout.MediaUpdated, fanout.MediaUpdated,
	}, h.events.types())
}

func TestRejectLeavesMediaAlone(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)

	res, err := h.svc.RespondToHand(ctx, sess.ID, hand.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.HandRejected, res.Hand.Status)
	assert.Empty(t, res.Updated)
	assert.True(t, h.participant(t, sess.ID, "amy").IsMuted)
	assert.Empty(t, h.agora.Calls(platform.OpSetParticipantMute))

	_, err = h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	again, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	assert.NotEqual(t, hand.ID, again.ID)
}

func TestRaiseHandRules(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	prof := h.join(t, sess.ID, "prof", models.RoleInstructor)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	bob := h.join(t, sess.ID, "bob", models.RoleStudent)
	_, err := h.svc.LeaveSession(ctx, sess.ID, "bob")
	require.NoError(t, err)

	_, err = h.svc.RaiseHand(ctx, sess.ID, prof.ID)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.RaiseHand(ctx, sess.ID, bob.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = h.svc.RaiseHand(ctx, sess.ID, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	_, err = h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRaiseHandInAnotherSessionIsNotFound(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	first := h.activeSession(t, models.PlatformAgora)
	second := h.activeSession(t, models.PlatformZego)
	amy := h.join(t, first.ID, "amy", models.RoleStudent)
	hand, err := h.svc.RaiseHand(ctx, first.ID, amy.ID)
	require.NoError(t, err)

	_, err = h.svc.RaiseHand(ctx, second.ID, amy.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = h.svc.RespondToHand(ctx, second.ID, hand.ID, true)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAcceptedHandFreesPendingSlot(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	_, err = h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
	require.NoError(t, err)

	_, err = h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
}

func TestAcceptLeavesOtherPendingHandsAndPassesFloor(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	bob := h.join(t, sess.ID, "bob", models.RoleStudent)
	h.join(t, sess.ID, "cat", models.RoleStudent)

	amyHand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	bobHand, err := h.svc.RaiseHand(ctx, sess.ID, bob.ID)
	require.NoError(t, err)

	res, err := h.svc.RespondToHand(ctx, sess.ID, amyHand.ID, true)
	require.NoError(t, err)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, []string{"amy"}, unmutedStudents(t, h, sess.ID))

	details, err := h.svc.GetSessionDetails(ctx, sess.ID)
	require.NoError(t, err)
	statuses := map[uuid.UUID]models.HandStatus{}
	for _, hr := range details.OpenHands {
		statuses[hr.ID] = hr.Status
	}
	assert.Equal(t, models.HandPending, statuses[bobHand.ID])

	h.events.reset()
	res, err = h.svc.RespondToHand(ctx, sess.ID, bobHand.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, unmutedStudents(t, h, sess.ID))
	require.Len(t, res.Updated, 2)
	assert.Equal(t, []fanout.EventType{
		fanout.HandResponded, fanout.MediaUpdated, fanout.MediaUpdated,
	}, h.events.types())
}

func TestEndHandInteractionReturnsFloor(t *testing.T) {
	h := newHarness(t, Options{EndInteractionDisablesCamera: true})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformZego)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)

	_, err = h.svc.EndHandInteraction(ctx, sess.ID, hand.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
	require.NoError(t, err)
	_, err = h.svc.SetCamera(ctx, sess.ID, "amy", true)
	require.NoError(t, err)
	h.events.reset()

	res, err := h.svc.EndHandInteraction(ctx, sess.ID, hand.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HandAddressed, res.Hand.Status)
	require.NotNil(t, res.Hand.AddressedAt)
	require.Len(t, res.Updated, 1)

	amyNow := h.participant(t, sess.ID, "amy")
	assert.True(t, amyNow.IsMuted)
	assert.False(t, amyNow.IsCameraOn)
	cams := h.zego.Calls(platform.OpSetParticipantCamera)
	require.NotEmpty(t, cams)
	assert.False(t, cams[len(cams)-1].Enabled)

	assert.Equal(t, []fanout.EventType{fanout.HandInteractionEnded, fanout.MediaUpdated}, h.events.types())

	_, err = h.svc.EndHandInteraction(ctx, sess.ID, hand.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestEndHandInteractionKeepsCameraByDefault(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	_, err = h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
	require.NoError(t, err)
	_, err = h.svc.SetCamera(ctx, sess.ID, "amy", true)
	require.NoError(t, err)

	_, err = h.svc.EndHandInteraction(ctx, sess.ID, hand.ID)
	require.NoError(t, err)
	assert.True(t, h.participant(t, sess.ID, "amy").IsCameraOn)
	assert.True(t, h.participant(t, sess.ID, "amy").IsMuted)
}

func TestAcceptWithPlatformFailuresCommits(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	h.join(t, sess.ID, "bob", models.RoleStudent)
	_, err := h.svc.SetMic(ctx, sess.ID, "bob", true)
	require.NoError(t, err)
	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	h.agora.Fail(platform.OpSetParticipantMute, errors.New("rate limited"))

	res, err := h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 2)
	assert.Equal(t, []string{"amy"}, unmutedStudents(t, h, sess.ID))
}

func TestLeavingResolvesOpenHands(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	bob := h.join(t, sess.ID, "bob", models.RoleStudent)
	amyHand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	bobHand, err := h.svc.RaiseHand(ctx, sess.ID, bob.ID)
	require.NoError(t, err)
	_, err = h.svc.RespondToHand(ctx, sess.ID, bobHand.ID, true)
	require.NoError(t, err)

	amyLeft, err := h.svc.LeaveSession(ctx, sess.ID, "amy")
	require.NoError(t, err)
	require.Len(t, amyLeft.ResolvedHands, 1)
	assert.Equal(t, amyHand.ID, amyLeft.ResolvedHands[0].ID)
	assert.Equal(t, models.HandRejected, amyLeft.ResolvedHands[0].Status)

	bobLeft, err := h.svc.LeaveSession(ctx, sess.ID, "bob")
	require.NoError(t, err)
	require.Len(t, bobLeft.ResolvedHands, 1)
	assert.Equal(t, models.HandAddressed, bobLeft.ResolvedHands[0].Status)

	open, err := h.store.ListOpenHands(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func allUnmutedStudents(t *testing.T, h *harness, sessionID uuid.UUID) []string {
	t.Helper()
	all, err := h.store.ListParticipants(context.Background(), sessionID, false)
	require.NoError(t, err)
	var out []string
	for _, p := range all {
		if p.Role == models.RoleStudent && !p.IsMuted {
			out = append(out, p.Identity)
		}
	}
	return out
}

func TestSpeakerLeavingClosesMicBeforeNextAccept(t *testing.T) {
	leave := map[string]func(h *harness, sessionID uuid.UUID) (*LeaveResult, error){
		"leave": func(h *harness, sessionID uuid.UUID) (*LeaveResult, error) {
			return h.svc.LeaveSession(context.Background(), sessionID, "amy")
		},
		"remove": func(h *harness, sessionID uuid.UUID) (*LeaveResult, error) {
			return h.svc.RemoveParticipant(context.Background(), sessionID, "amy")
		},
	}
	for name, fn := range leave {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Options{})
			ctx := context.Background()
			sess := h.activeSession(t, models.PlatformAgora)
			amy := h.join(t, sess.ID, "amy", models.RoleStudent)
			bob := h.join(t, sess.ID, "bob", models.RoleStudent)

			hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
			require.NoError(t, err)
			_, err = h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
			require.NoError(t, err)
			require.Equal(t, []string{"amy"}, allUnmutedStudents(t, h, sess.ID))

			left, err := fn(h, sess.ID)
			require.NoError(t, err)
			assert.True(t, left.Participant.IsMuted)
			assert.Empty(t, allUnmutedStudents(t, h, sess.ID))

			hand, err = h.svc.RaiseHand(ctx, sess.ID, bob.ID)
			require.NoError(t, err)
			_, err = h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
			require.NoError(t, err)
			assert.Equal(t, []string{"bob"}, allUnmutedStudents(t, h, sess.ID))
			assert.True(t, h.participant(t, sess.ID, "amy").IsMuted)
		})
	}
}

func TestEndSessionClosesSpeakerMic(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	_, err = h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
	require.NoError(t, err)

	_, err = h.svc.EndSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, allUnmutedStudents(t, h, sess.ID))
}

func TestFloorOperationsRequireActiveSession(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)
	_, err = h.svc.EndSession(ctx, sess.ID)
	require.NoError(t, err)

	_, err = h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = h.svc.RespondToHand(ctx, sess.ID, hand.ID, true)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestConcurrentRaisesKeepOnePending(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)

	var (
		wg        sync.WaitGroup
		raised    atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
			switch {
			case err == nil:
				raised.Add(1)
			case errors.Is(err, apperr.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), raised.Load())
	assert.Equal(t, int32(7), conflicts.Load())
}

func TestConcurrentAcceptsLeaveOneStudentUnmuted(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	h.join(t, sess.ID, "prof", models.RoleInstructor)

	var hands []uuid.UUID
	for _, name := range []string{"amy", "bob", "cat", "dan"} {
		p := h.join(t, sess.ID, name, models.RoleStudent)
		hand, err := h.svc.RaiseHand(ctx, sess.ID, p.ID)
		require.NoError(t, err)
		hands = append(hands, hand.ID)
	}

	var wg sync.WaitGroup
	for _, id := range hands {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := h.svc.RespondToHand(ctx, sess.ID, id, true)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Len(t, unmutedStudents(t, h, sess.ID), 1)
	assert.False(t, h.participant(t, sess.ID, "prof").IsMuted)
}

func TestConcurrentRespondsAnswerOnce(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	sess := h.activeSession(t, models.PlatformAgora)
	amy := h.join(t, sess.ID, "amy", models.RoleStudent)
	hand, err := h.svc.RaiseHand(ctx, sess.ID, amy.ID)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		answered atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(accept bool) {
			defer wg.Done()
			_, err := h.svc.RespondToHand(ctx, sess.ID, hand.ID, accept)
			if err == nil {
				answered.Add(1)
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInvalidState)
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, int32(1), answered.Load())
}
