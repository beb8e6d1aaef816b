package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantRole is the role a participant holds inside one session.
type ParticipantRole string

const (
	RoleInstructor ParticipantRole = "instructor"
	RoleModerator  ParticipantRole = "moderator"
	RoleStudent    ParticipantRole = "student"
)

// Valid reports whether r is a known role.
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleInstructor, RoleModerator, RoleStudent:
		return true
	}
	return false
}

// Participant is one identity's presence record in a session. The record is reused on rejoin.
type Participant struct {
	ID         uuid.UUID       `json:"id"`
	SessionID  uuid.UUID       `json:"session_id"`
	Identity   string          `json:"identity"`
	Role       ParticipantRole `json:"role"`
	JoinedAt   time.Time       `json:"joined_at"`
	LeftAt     *time.Time      `json:"left_at,omitempty"`
	IsMuted    bool            `json:"is_muted"`
	IsCameraOn bool            `json:"is_camera_on"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Present reports whether the participant is currently in the session.
func (p *Participant) Present() bool {
	return p.LeftAt == nil
}

// ResetPresence puts the record in its freshly-joined state.
func (p *Participant) ResetPresence(role ParticipantRole, at time.Time) {
	p.Role = role
	p.JoinedAt = at
	p.LeftAt = nil
	p.IsMuted = role != RoleInstructor
	p.IsCameraOn = false
	p.UpdatedAt = at
}
