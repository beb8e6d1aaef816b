package livesession

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/aura-learning/backend/internal/apperr"
	"github.com/aura-learning/backend/internal/fanout"
	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
	"github.com/aura-learning/backend/internal/store"
)

// EndResult reports an ended session and who was implicitly disconnected.
type EndResult struct {
	Session  *models.LiveSession `json:"session"`
	LeftIDs  []uuid.UUID         `json:"left_participant_ids"`
	Warnings []platform.Warning  `json:"-"`
}

// SessionDetails is a session with its present participants and open floor requests.
type SessionDetails struct {
	Session      *models.LiveSession  `json:"session"`
	Participants []models.Participant `json:"participants"`
	OpenHands    []models.HandRaise   `json:"open_hands"`
}

// CreateSession validates in, creates the platform room and stores the session as scheduled.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (_ *models.LiveSession, err error) {
	ctx, span := s.startSpan(ctx, "CreateSession", attribute.String("platform", string(in.Platform)))
	defer func() { endSpan(span, err) }()

	now := s.clock()
	sched, err := validateCreate(in, now)
	if err != nil {
		return nil, err
	}
	adapter, err := s.platforms.Get(in.Platform)
	if err != nil {
		return nil, apperr.Validation("platform %s is not configured", in.Platform)
	}
	ok, err := s.catalog.CourseExists(ctx, in.CourseID)
	if err != nil {
		return nil, fmt.Errorf("check course: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound("course %s not found", in.CourseID)
	}
	ok, err = s.catalog.CohortExists(ctx, in.CourseID, in.CohortID)
	if err != nil {
		return nil, fmt.Errorf("check cohort: %w", err)
	}
	if !ok {
		return nil, apperr.NotFound("cohort %s not found in course %s", in.CohortID, in.CourseID)
	}

	sess := &models.LiveSession{
		ID:              uuid.New(),
		CourseID:        in.CourseID,
		CohortID:        in.CohortID,
		Title:           sched.title,
		Kind:            sched.kind,
		StartsAt:        sched.startsAt,
		EndsAt:          sched.endsAt,
		DurationMinutes: sched.duration,
		Timezone:        sched.timezone,
		Platform:        in.Platform,
		State:           models.SessionScheduled,
		CreatedBy:       in.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	span.SetAttributes(sessionAttr(sess.ID))

	var room platform.Room
	err = s.call(ctx, func(ctx context.Context) error {
		var callErr error
		room, callErr = adapter.CreateRoom(ctx, platform.RoomConfig{
			SessionID:       sess.ID,
			Title:           sess.Title,
			StartsAt:        sess.StartsAt,
			DurationMinutes: sess.DurationMinutes,
			Timezone:        sess.Timezone,
		})
		return callErr
	})
	if err != nil {
		return nil, apperr.Platform(err, "create %s room", in.Platform)
	}
	sess.PlatformSessionID = room.ID
	sess.JoinURL = room.JoinURL
	sess.HostURL = room.HostURL

	if err := s.store.WithTx(ctx, func(tx store.Tx) error { return tx.InsertSession(ctx, sess) }); err != nil {
		if w := s.bestEffort(ctx, adapter, platform.OpEndRoom, "", func(ctx context.Context) error {
			return adapter.EndRoom(ctx, room.ID)
		}); w == nil {
			s.logger.Info("released platform room after failed insert", zap.String("room_id", room.ID))
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", sess.ID.String()),
		zap.String("platform", string(sess.Platform)),
		zap.String("room_id", sess.PlatformSessionID),
		zap.Time("starts_at", sess.StartsAt))
	return sess, nil
}

// StartSession moves a scheduled session to active once the platform room has started.
func (s *Service) StartSession(ctx context.Context, id uuid.UUID) (_ *models.LiveSession, err error) {
	ctx, span := s.startSpan(ctx, "StartSession", sessionAttr(id))
	defer func() { endSpan(span, err) }()

	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.State != models.SessionScheduled {
		return nil, apperr.InvalidState("session is %s, only scheduled sessions can start", sess.State)
	}
	adapter, err := s.adapterFor(sess.Platform)
	if err != nil {
		return nil, err
	}
	if err := s.call(ctx, func(ctx context.Context) error {
		return adapter.StartRoom(ctx, sess.PlatformSessionID)
	}); err != nil {
		return nil, apperr.Platform(err, "start %s room", sess.Platform)
	}

	now := s.clock()
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		locked, err := lockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		ok, err := tx.TransitionSession(ctx, id, models.SessionScheduled, models.SessionActive, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("session is %s, only scheduled sessions can start", locked.State)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sess.State = models.SessionActive
	sess.StartedAt = &now
	sess.UpdatedAt = now

	s.logger.Info("session started", zap.String("session_id", id.String()))
	s.publish(ctx, id, fanout.SessionStarted, now, SessionEventData{Session: sess})
	return sess, nil
}

// EndSession ends an active session and marks every present participant as left.
func (s *Service) EndSession(ctx context.Context, id uuid.UUID) (_ *EndResult, err error) {
	ctx, span := s.startSpan(ctx, "EndSession", sessionAttr(id))
	defer func() { endSpan(span, err) }()

	now := s.clock()
	var (
		sess *models.LiveSession
		left []models.Participant
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		sess, err = lockSession(ctx, tx, id)
		if err != nil {
			return err
		}
		if sess.State != models.SessionActive {
			return apperr.InvalidState("session is %s, only active sessions can end", sess.State)
		}
		ok, err := tx.TransitionSession(ctx, id, models.SessionActive, models.SessionEnded, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.InvalidState("session is no longer active")
		}
		left, err = tx.MarkAllLeft(ctx, id, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	sess.State = models.SessionEnded
	sess.EndedAt = &now
	sess.UpdatedAt = now

	res := &EndResult{Session: sess, LeftIDs: make([]uuid.UUID, 0, len(left))}
	for _, p := range left {
		res.LeftIDs = append(res.LeftIDs, p.ID)
	}
	if adapter, err := s.adapterFor(sess.Platform); err != nil {
		res.Warnings = append(res.Warnings, platform.Warning{Platform: sess.Platform, Op: platform.OpEndRoom, Err: err})
	} else if w := s.bestEffort(ctx, adapter, platform.OpEndRoom, "", func(ctx context.Context) error {
		return adapter.EndRoom(ctx, sess.PlatformSessionID)
	}); w != nil {
		res.Warnings = append(res.Warnings, *w)
	}

	s.logger.Info("session ended", zap.String("session_id", id.String()), zap.Int("participants_left", len(left)))
	s.publish(ctx, id, fanout.SessionEnded, now, SessionEventData{Session: sess, LeftParticipantIDs: res.LeftIDs})
	return res, nil
}

// ListSessions returns sessions matching f.
func (s *Service) ListSessions(ctx context.Context, f store.SessionFilter) ([]models.LiveSession, error) {
	return s.store.ListSessions(ctx, f)
}

// GetSessionDetails returns the session with its present participants and open requests.
func (s *Service) GetSessionDetails(ctx context.Context, id uuid.UUID) (*SessionDetails, error) {
	sess, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.ListParticipants(ctx, id, true)
	if err != nil {
		return nil, err
	}
	hands, err := s.store.ListOpenHands(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionDetails{Session: sess, Participants: participants, OpenHands: hands}, nil
}

// RecordAudience raises the session's peak viewer count.
func (s *Service) RecordAudience(ctx context.Context, id uuid.UUID, viewers int) error {
	if viewers <= 0 {
		return nil
	}
	err := s.store.RaisePeakViewers(ctx, id, viewers)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
