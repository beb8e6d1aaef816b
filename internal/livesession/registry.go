package livesession

import (
	"context"
	"errors"
	"strings"
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

// JoinResult carries the platform credential for a joined participant.
type JoinResult struct {
	Credential  platform.Credential `json:"credential"`
	Participant *models.Participant `json:"participant"`
	Rejoined    bool                `json:"rejoined"`
}

// LeaveResult reports a departure. Changed is false when the participant had already left.
type LeaveResult struct {
	Participant   *models.Participant `json:"participant"`
	Changed       bool                `json:"changed"`
	ResolvedHands []models.HandRaise  `json:"resolved_hands,omitempty"`
	Warnings      []platform.Warning  `json:"-"`
}

// MediaResult reports a mic or camera change.
type MediaResult struct {
	Participant *models.Participant `json:"participant"`
	Changed     bool                `json:"changed"`
	Warnings    []platform.Warning  `json:"-"`
}

// JoinSession admits identity to an active session. The credential is minted
// before anything is written, so a minting failure leaves no participant row.
func (s *Service) JoinSession(ctx context.Context, sessionID uuid.UUID, identity string, role models.ParticipantRole) (_ *JoinResult, err error) {
	ctx, span := s.startSpan(ctx, "JoinSession", sessionAttr(sessionID), attribute.String("participant.role", string(role)))
	defer func() { endSpan(span, err) }()

	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, apperr.Validation("identity is required")
	}
	if !role.Valid() {
		return nil, apperr.Validation("role must be instructor, moderator or student")
	}
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sess); err != nil {
		return nil, err
	}
	existing, err := s.store.GetParticipantByIdentity(ctx, sessionID, identity)
	switch {
	case err == nil && existing.Present():
		return nil, apperr.Conflict("%s is already in the session", identity)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	adapter, err := s.adapterFor(sess.Platform)
	if err != nil {
		return nil, err
	}
	var cred platform.Credential
	if err := s.call(ctx, func(ctx context.Context) error {
		var callErr error
		cred, callErr = adapter.MintJoinCredential(ctx, sess.PlatformSessionID, identity, platformRole(role, false), s.opts.CredentialTTL)
		return callErr
	}); err != nil {
		return nil, apperr.Platform(err, "mint %s credential", sess.Platform)
	}

	now := s.clock()
	var (
		p        *models.Participant
		rejoined bool
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireActive(locked); err != nil {
			return err
		}
		p, err = tx.ParticipantByIdentity(ctx, sessionID, identity)
		switch {
		case errors.Is(err, store.ErrNotFound):
			p = &models.Participant{ID: uuid.New(), SessionID: sessionID, Identity: identity, CreatedAt: now}
			p.ResetPresence(role, now)
			if err := tx.InsertParticipant(ctx, p); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return apperr.Conflict("%s is already in the session", identity)
				}
				return err
			}
			return nil
		case err != nil:
			return err
		case p.Present():
			return apperr.Conflict("%s is already in the session", identity)
		}
		p.ResetPresence(role, now)
		ok, err := tx.RejoinParticipant(ctx, p)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("%s is already in the session", identity)
		}
		rejoined = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("participant joined",
		zap.String("session_id", sessionID.String()),
		zap.String("participant_id", p.ID.String()),
		zap.String("role", string(role)),
		zap.Bool("rejoined", rejoined))
	s.publish(ctx, sessionID, fanout.ParticipantJoined, now, ParticipantEventData{Participant: *p, Rejoined: rejoined})
	return &JoinResult{Credential: cred, Participant: p, Rejoined: rejoined}, nil
}

// LeaveSession records identity leaving. Leaving twice is a no-op.
func (s *Service) LeaveSession(ctx context.Context, sessionID uuid.UUID, identity string) (_ *LeaveResult, err error) {
	ctx, span := s.startSpan(ctx, "LeaveSession", sessionAttr(sessionID))
	defer func() { endSpan(span, err) }()

	now := s.clock()
	res := &LeaveResult{}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := lockSession(ctx, tx, sessionID); err != nil {
			return err
		}
		p, err := participantByIdentity(ctx, tx, sessionID, identity)
		if err != nil {
			return err
		}
		res.Participant = p
		if !p.Present() {
			return nil
		}
		ok, err := tx.MarkLeft(ctx, p.ID, now)
		if err != nil || !ok {
			return err
		}
		res.Changed = true
		p.LeftAt = &now
		p.IsMuted = true
		p.UpdatedAt = now
		res.ResolvedHands, err = resolveOpenHands(ctx, tx, p.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !res.Changed {
		return res, nil
	}

	s.logger.Info("participant left",
		zap.String("session_id", sessionID.String()),
		zap.String("participant_id", res.Participant.ID.String()),
		zap.Int("resolved_hands", len(res.ResolvedHands)))
	s.publish(ctx, sessionID, fanout.ParticipantLeft, now, ParticipantEventData{Participant: *res.Participant, ResolvedHands: res.ResolvedHands})
	return res, nil
}

// SetMic opens or closes a participant's microphone.
func (s *Service) SetMic(ctx context.Context, sessionID uuid.UUID, identity string, unmute bool) (_ *MediaResult, err error) {
	ctx, span := s.startSpan(ctx, "SetMic", sessionAttr(sessionID), attribute.Bool("unmute", unmute))
	defer func() { endSpan(span, err) }()

	return s.setMedia(ctx, sessionID, identity, platform.OpSetParticipantMute,
		func(ctx context.Context, a platform.Adapter, roomID string) error {
			return a.SetParticipantMute(ctx, roomID, identity, !unmute)
		},
		func(ctx context.Context, tx store.Tx, p *models.Participant, at time.Time) (bool, error) {
			if p.IsMuted == !unmute {
				return false, nil
			}
			p.IsMuted = !unmute
			return true, tx.SetMuted(ctx, p.ID, p.IsMuted, at)
		})
}

// SetCamera switches a participant's camera.
func (s *Service) SetCamera(ctx context.Context, sessionID uuid.UUID, identity string, enable bool) (_ *MediaResult, err error) {
	ctx, span := s.startSpan(ctx, "SetCamera", sessionAttr(sessionID), attribute.Bool("enable", enable))
	defer func() { endSpan(span, err) }()

	return s.setMedia(ctx, sessionID, identity, platform.OpSetParticipantCamera,
		func(ctx context.Context, a platform.Adapter, roomID string) error {
			return a.SetParticipantCamera(ctx, roomID, identity, enable)
		},
		func(ctx context.Context, tx store.Tx, p *models.Participant, at time.Time) (bool, error) {
			if p.IsCameraOn == enable {
				return false, nil
			}
			p.IsCameraOn = enable
			return true, tx.SetCameraOn(ctx, p.ID, enable, at)
		})
}

// setMedia applies the platform call before persisting the flag; a platform
// failure is reported as a warning.
func (s *Service) setMedia(
	ctx context.Context,
	sessionID uuid.UUID,
	identity, op string,
	apply func(ctx context.Context, a platform.Adapter, roomID string) error,
	persist func(ctx context.Context, tx store.Tx, p *models.Participant, at time.Time) (bool, error),
) (*MediaResult, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sess); err != nil {
		return nil, err
	}
	if _, err := s.presentParticipant(ctx, sessionID, identity); err != nil {
		return nil, err
	}
	adapter, err := s.adapterFor(sess.Platform)
	if err != nil {
		return nil, err
	}
	res := &MediaResult{}
	if w := s.bestEffort(ctx, adapter, op, identity, func(ctx context.Context) error {
		return apply(ctx, adapter, sess.PlatformSessionID)
	}); w != nil {
		res.Warnings = append(res.Warnings, *w)
	}

	now := s.clock()
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireActive(locked); err != nil {
			return err
		}
		p, err := participantByIdentity(ctx, tx, sessionID, identity)
		if err != nil {
			return err
		}
		if !p.Present() {
			return apperr.NotFound("%s is not in the session", identity)
		}
		res.Participant = p
		res.Changed, err = persist(ctx, tx, p, now)
		if res.Changed {
			p.UpdatedAt = now
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if res.Changed {
		s.logger.Info("media updated",
			zap.String("session_id", sessionID.String()),
			zap.String("participant_id", res.Participant.ID.String()),
			zap.String("op", op))
		s.publish(ctx, sessionID, fanout.MediaUpdated, now, mediaData(*res.Participant))
	}
	return res, nil
}

// RemoveParticipant ejects a present participant.
func (s *Service) RemoveParticipant(ctx context.Context, sessionID uuid.UUID, identity string) (_ *LeaveResult, err error) {
	ctx, span := s.startSpan(ctx, "RemoveParticipant", sessionAttr(sessionID))
	defer func() { endSpan(span, err) }()

	now := s.clock()
	var sess *models.LiveSession
	res := &LeaveResult{Changed: true}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		sess, err = lockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := requireActive(sess); err != nil {
			return err
		}
		p, err := participantByIdentity(ctx, tx, sessionID, identity)
		if err != nil {
			return err
		}
		if !p.Present() {
			return apperr.InvalidState("%s already left", identity)
		}
		ok, err := tx.MarkLeft(ctx, p.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("%s already left", identity)
		}
		p.LeftAt = &now
		p.IsMuted = true
		p.UpdatedAt = now
		res.Participant = p
		res.ResolvedHands, err = resolveOpenHands(ctx, tx, p.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if adapter, err := s.adapterFor(sess.Platform); err == nil {
		if w := s.bestEffort(ctx, adapter, platform.OpRemoveParticipant, identity, func(ctx context.Context) error {
			return adapter.RemoveParticipant(ctx, sess.PlatformSessionID, identity)
		}); w != nil {
			res.Warnings = append(res.Warnings, *w)
		}
	} else {
		res.Warnings = append(res.Warnings, platform.Warning{Platform: sess.Platform, Op: platform.OpRemoveParticipant, Identity: identity, Err: err})
	}

	s.logger.Info("participant removed",
		zap.String("session_id", sessionID.String()),
		zap.String("participant_id", res.Participant.ID.String()))
	s.publish(ctx, sessionID, fanout.ParticipantRemoved, now, ParticipantEventData{Participant: *res.Participant, ResolvedHands: res.ResolvedHands})
	return res, nil
}

// RefreshCredential mints a fresh credential for a present participant. A
// student holding the floor gets publish rights.
func (s *Service) RefreshCredential(ctx context.Context, sessionID uuid.UUID, identity string) (_ *platform.Credential, err error) {
	ctx, span := s.startSpan(ctx, "RefreshCredential", sessionAttr(sessionID))
	defer func() { endSpan(span, err) }()

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := requireActive(sess); err != nil {
		return nil, err
	}
	p, err := s.presentParticipant(ctx, sessionID, identity)
	if err != nil {
		return nil, err
	}
	holdsFloor := false
	if p.Role == models.RoleStudent && !p.IsMuted {
		hands, err := s.store.ListParticipantHands(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, h := range hands {
			if h.Status == models.HandAccepted {
				holdsFloor = true
				break
			}
		}
	}
	adapter, err := s.adapterFor(sess.Platform)
	if err != nil {
		return nil, err
	}
	var cred platform.Credential
	if err := s.call(ctx, func(ctx context.Context) error {
		var callErr error
		cred, callErr = adapter.MintJoinCredential(ctx, sess.PlatformSessionID, identity, platformRole(p.Role, holdsFloor), s.opts.CredentialTTL)
		return callErr
	}); err != nil {
		return nil, apperr.Platform(err, "mint %s credential", sess.Platform)
	}
	return &cred, nil
}

func (s *Service) presentParticipant(ctx context.Context, sessionID uuid.UUID, identity string) (*models.Participant, error) {
	p, err := s.store.GetParticipantByIdentity(ctx, sessionID, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("%s has not joined the session", identity)
	}
	if err != nil {
		return nil, err
	}
	if !p.Present() {
		return nil, apperr.NotFound("%s is not in the session", identity)
	}
	return p, nil
}

func participantByIdentity(ctx context.Context, tx store.Tx, sessionID uuid.UUID, identity string) (*models.Participant, error) {
	p, err := tx.ParticipantByIdentity(ctx, sessionID, identity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("%s has not joined the session", identity)
	}
	return p, err
}

// resolveOpenHands closes the requests of a departing participant: pending
// becomes rejected and accepted becomes addressed.
func resolveOpenHands(ctx context.Context, tx store.Tx, participantID uuid.UUID, at time.Time) ([]models.HandRaise, error) {
	open, err := tx.OpenHandsForParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	var resolved []models.HandRaise
	for _, h := range open {
		to := models.HandRejected
		if h.Status == models.HandAccepted {
			to = models.HandAddressed
		}
		ok, err := tx.UpdateHandStatus(ctx, h.ID, h.Status, to, at)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		stamp := at
		if to == models.HandAddressed {
			h.AddressedAt = &stamp
		} else {
			h.RespondedAt = &stamp
		}
		h.Status = to
		resolved = append(resolved, h)
	}
	return resolved, nil
}
