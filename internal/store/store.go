// Package store defines the transactional record store behind live sessions.
// Implementations live in the postgres and sqlite subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aura-learning/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("store: conflict")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// SessionFilter narrows ListSessions. Zero values mean "any".
type SessionFilter struct {
	CourseID *uuid.UUID
	CohortID *uuid.UUID
	State    models.SessionState
	Platform models.Platform
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// NormalizedLimit clamps Limit into [1, MaxListLimit].
func (f SessionFilter) NormalizedLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	}
	return f.Limit
}

// Store is the read side plus the transaction entry point.
type Store interface {
	// WithTx runs fn in one transaction. Mutations of a session serialize on LockSession.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]models.LiveSession, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID, presentOnly bool) ([]models.Participant, error)
	GetParticipantByIdentity(ctx context.Context, sessionID uuid.UUID, identity string) (*models.Participant, error)
	ListOpenHands(ctx context.Context, sessionID uuid.UUID) ([]models.HandRaise, error)
	ListParticipantHands(ctx context.Context, participantID uuid.UUID) ([]models.HandRaise, error)
	RaisePeakViewers(ctx context.Context, sessionID uuid.UUID, count int) error

	CourseExists(ctx context.Context, id uuid.UUID) (bool, error)
	CohortExists(ctx context.Context, courseID, cohortID uuid.UUID) (bool, error)

	Close() error
}

// Tx is the write side. Every method runs inside the enclosing transaction.
type Tx interface {
	LockSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	InsertSession(ctx context.Context, s *models.LiveSession) error
	// TransitionSession moves id from one state to another and reports whether the row matched.
	TransitionSession(ctx context.Context, id uuid.UUID, from, to models.SessionState, at time.Time) (bool, error)

	ParticipantByIdentity(ctx context.Context, sessionID uuid.UUID, identity string) (*models.Participant, error)
	ParticipantByID(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	InsertParticipant(ctx context.Context, p *models.Participant) error
	// RejoinParticipant rewrites a left record as present again. False when the record was not left.
	RejoinParticipant(ctx context.Context, p *models.Participant) (bool, error)
	// MarkLeft sets left_at on a present participant and closes its microphone.
	// False when already left.
	MarkLeft(ctx context.Context, participantID uuid.UUID, at time.Time) (bool, error)
	MarkAllLeft(ctx context.Context, sessionID uuid.UUID, at time.Time) ([]models.Participant, error)
	SetMuted(ctx context.Context, participantID uuid.UUID, muted bool, at time.Time) error
	SetCameraOn(ctx context.Context, participantID uuid.UUID, on bool, at time.Time) error
	// UnmutedStudents lists present students whose microphone is open.
	UnmutedStudents(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)

	InsertHand(ctx context.Context, h *models.HandRaise) error
	HandByID(ctx context.Context, id uuid.UUID) (*models.HandRaise, error)
	// UpdateHandStatus moves a hand raise between statuses and reports whether the row matched.
	UpdateHandStatus(ctx context.Context, id uuid.UUID, from, to models.HandStatus, at time.Time) (bool, error)
	OpenHandsForParticipant(ctx context.Context, participantID uuid.UUID) ([]models.HandRaise, error)
}
