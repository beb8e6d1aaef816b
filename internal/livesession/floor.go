package livesession

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aura-learning/backend/internal/apperr"
	"github.com/aura-learning/backend/internal/fanout"
	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
	"github.com/aura-learning/backend/internal/store"
)

// FloorResult reports a floor decision and every participant whose media flags it changed.
type FloorResult struct {
	Hand     *models.HandRaise    `json:"hand"`
	Updated  []models.Participant `json:"updated_participants"`
	Warnings []platform.Warning   `json:"-"`
}

// RaiseHand files a pending floor request for a present participant.
func (s *Service) RaiseHand(ctx context.Context, sessionID, participantID uuid.UUID) (_ *models.HandRaise, err error) {
	ctx, span := s.startSpan(ctx, "RaiseHand", sessionAttr(sessionID), attribute.String("participant.id", participantID.String()))
	defer func() { endSpan(span, err) }()

	now := s.clock()
	hand := &models.HandRaise{ID: uuid.New(), SessionID: sessionID, ParticipantID: participantID, RaisedAt: now, Status: models.HandPending}
	var p *models.Participant
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		sess, err := lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireActive(sess); err != nil {
			return err
		}
		p, err = tx.ParticipantByID(ctx, participantID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && p.SessionID != sessionID) {
			return apperr.NotFound("participant %s not found in session", participantID)
		}
		if err != nil {
			return err
		}
		if !p.Present() {
			return apperr.NotFound("participant %s is not in the session", participantID)
		}
		if p.Role == models.RoleInstructor {
			return apperr.Validation("instructors hold the floor and cannot raise a hand")
		}
		if err := tx.InsertHand(ctx, hand); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Conflict("participant %s already has a pending request", participantID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("hand raised",
		zap.String("session_id", sessionID.String()),
		zap.String("participant_id", participantID.String()),
		zap.String("hand_id", hand.ID.String()))
	s.publish(ctx, sessionID, fanout.HandRaised, now, HandEventData{Hand: *hand, Identity: p.Identity})
	return hand, nil
}

// RespondToHand accepts or rejects a pending request. Accepting gives the
// requester the floor: they are unmuted and every other unmuted student is
// muted in the same transaction.
func (s *Service) RespondToHand(ctx context.Context, sessionID, handID uuid.UUID, accept bool) (_ *FloorResult, err error) {
	ctx, span := s.startSpan(ctx, "RespondToHand", sessionAttr(sessionID),
		attribute.String("hand.id", handID.String()), attribute.Bool("accept", accept))
	defer func() { endSpan(span, err) }()

	now := s.clock()
	res := &FloorResult{}
	var (
		sess   *models.LiveSession
		target *models.Participant
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		sess, err = lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		hand, err := handInSession(ctx, tx, sessionID, handID)
		if err != nil {
			return err
		}
		if err := requireActive(sess); err != nil {
			return err
		}
		if hand.Status != models.HandPending {
			return apperr.InvalidState("hand raise is %s, only pending requests can be answered", hand.Status)
		}
		to := models.HandRejected
		if accept {
			to = models.HandAccepted
		}
		ok, err := tx.UpdateHandStatus(ctx, handID, models.HandPending, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("hand raise is no longer pending")
		}
		hand.Status = to
		hand.RespondedAt = &now
		res.Hand = hand

		target, err = tx.ParticipantByID(ctx, hand.ParticipantID)
		if err != nil {
			return err
		}
		if !accept {
			return nil
		}
		if !target.Present() {
			return apperr.InvalidState("participant %s has left the session", target.ID)
		}
		res.Updated, err = giveFloor(ctx, tx, sessionID, target, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if accept {
		res.Warnings = s.applyMutes(ctx, sess, res.Updated)
	}
	s.logger.Info("hand answered",
		zap.String("session_id", sessionID.String()),
		zap.String("hand_id", handID.String()),
		zap.String("status", string(res.Hand.Status)),
		zap.Int("media_changes", len(res.Updated)))
	s.publish(ctx, sessionID, fanout.HandResponded, now, HandEventData{Hand: *res.Hand, Identity: target.Identity})
	for _, p := range res.Updated {
		s.publish(ctx, sessionID, fanout.MediaUpdated, now, mediaData(p))
	}
	return res, nil
}

// giveFloor unmutes target and mutes every other present student whose mic is
// open. Instructors and moderators keep their state. It returns the participants
// whose flags changed, target first.
func giveFloor(ctx context.Context, tx store.Tx, sessionID uuid.UUID, target *models.Participant, now time.Time) ([]models.Participant, error) {
	var changed []models.Participant
	if target.IsMuted {
		if err := tx.SetMuted(ctx, target.ID, false, now); err != nil {
			return nil, err
		}
		target.IsMuted = false
		target.UpdatedAt = now
		changed = append(changed, *target)
	}
	open, err := tx.UnmutedStudents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, p := range open {
		if p.ID == target.ID {
			continue
		}
		if err := tx.SetMuted(ctx, p.ID, true, now); err != nil {
			return nil, err
		}
		p.IsMuted = true
		p.UpdatedAt = now
		changed = append(changed, p)
	}
	return changed, nil
}

// EndHandInteraction closes an accepted request and returns the floor: the
// speaker is muted again, and their camera is switched off when configured.
func (s *Service) EndHandInteraction(ctx context.Context, sessionID, handID uuid.UUID) (_ *FloorResult, err error) {
	ctx, span := s.startSpan(ctx, "EndHandInteraction", sessionAttr(sessionID), attribute.String("hand.id", handID.String()))
	defer func() { endSpan(span, err) }()

	now := s.clock()
	res := &FloorResult{}
	var (
		sess          *models.LiveSession
		speaker       *models.Participant
		cameraChanged bool
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		sess, err = lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		hand, err := handInSession(ctx, tx, sessionID, handID)
		if err != nil {
			return err
		}
		if err := requireActive(sess); err != nil {
			return err
		}
		if hand.Status != models.HandAccepted {
			return apperr.InvalidState("hand raise is %s, only accepted requests can end", hand.Status)
		}
		ok, err := tx.UpdateHandStatus(ctx, handID, models.HandAccepted, models.HandAddressed, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("hand raise is no longer accepted")
		}
		hand.Status = models.HandAddressed
		hand.AddressedAt = &now
		res.Hand = hand

		speaker, err = tx.ParticipantByID(ctx, hand.ParticipantID)
		if err != nil || !speaker.Present() {
			return err
		}
		changed := false
		if !speaker.IsMuted {
			if err := tx.SetMuted(ctx, speaker.ID, true, now); err != nil {
				return err
			}
			speaker.IsMuted = true
			changed = true
		}
		if s.opts.EndInteractionDisablesCamera && speaker.IsCameraOn {
			if err := tx.SetCameraOn(ctx, speaker.ID, false, now); err != nil {
				return err
			}
			speaker.IsCameraOn = false
			changed = true
			cameraChanged = true
		}
		if changed {
			speaker.UpdatedAt = now
			res.Updated = append(res.Updated, *speaker)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(res.Updated) > 0 {
		res.Warnings = s.applyMutes(ctx, sess, res.Updated)
		if cameraChanged {
			res.Warnings = append(res.Warnings, s.applyCameraOff(ctx, sess, speaker.Identity)...)
		}
	}
	s.logger.Info("hand interaction ended",
		zap.String("session_id", sessionID.String()),
		zap.String("hand_id", handID.String()))
	s.publish(ctx, sessionID, fanout.HandInteractionEnded, now, HandEventData{Hand: *res.Hand, Identity: speaker.Identity})
	for _, p := range res.Updated {
		s.publish(ctx, sessionID, fanout.MediaUpdated, now, mediaData(p))
	}
	return res, nil
}

// applyMutes pushes the committed mic state of each participant to the platform.
func (s *Service) applyMutes(ctx context.Context, sess *models.LiveSession, participants []models.Participant) []platform.Warning {
	if len(participants) == 0 {
		return nil
	}
	adapter, err := s.adapterFor(sess.Platform)
	if err != nil {
		return []platform.Warning{{Platform: sess.Platform, Op: platform.OpSetParticipantMute, Err: err}}
	}
	calls := make([]mediaCall, 0, len(participants))
	for _, p := range participants {
		identity, muted := p.Identity, p.IsMuted
		calls = append(calls, mediaCall{
			op:       platform.OpSetParticipantMute,
			identity: identity,
			fn: func(ctx context.Context) error {
				return adapter.SetParticipantMute(ctx, sess.PlatformSessionID, identity, muted)
			},
		})
	}
	return s.fanOutCalls(ctx, adapter, calls)
}

func (s *Service) applyCameraOff(ctx context.Context, sess *models.LiveSession, identity string) []platform.Warning {
	adapter, err := s.adapterFor(sess.Platform)
	if err != nil {
		return []platform.Warning{{Platform: sess.Platform, Op: platform.OpSetParticipantCamera, Identity: identity, Err: err}}
	}
	if w := s.bestEffort(ctx, adapter, platform.OpSetParticipantCamera, identity, func(ctx context.Context) error {
		return adapter.SetParticipantCamera(ctx, sess.PlatformSessionID, identity, false)
	}); w != nil {
		return []platform.Warning{*w}
	}
	return nil
}

func handInSession(ctx context.Context, tx store.Tx, sessionID, handID uuid.UUID) (*models.HandRaise, error) {
	hand, err := tx.HandByID(ctx, handID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && hand.SessionID != sessionID) {
		return nil, apperr.NotFound("hand raise %s not found in session", handID)
	}
	return hand, err
}
