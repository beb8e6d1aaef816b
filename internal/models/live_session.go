package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a live session. Transitions only move forward.
type SessionState string

const (
	SessionScheduled SessionState = "scheduled"
	SessionActive    SessionState = "active"
	SessionEnded     SessionState = "ended"
)

// SessionKind distinguishes scheduled classes from sessions that start immediately.
type SessionKind string

const (
	SessionKindLive    SessionKind = "live"
	SessionKindInstant SessionKind = "instant"
)

// Platform identifies the third-party video service hosting a session.
type Platform string

const (
	PlatformAgora Platform = "agora"
	PlatformZoom  Platform = "zoom"
	PlatformZego  Platform = "zego"
)

// LiveSession is a real-time class session for a course cohort.
type LiveSession struct {
	ID                uuid.UUID    `json:"id"`
	CourseID          uuid.UUID    `json:"course_id"`
	CohortID          uuid.UUID    `json:"cohort_id"`
	Title             string       `json:"title"`
	Kind              SessionKind  `json:"kind"`
	StartsAt          time.Time    `json:"starts_at"`
	EndsAt            time.Time    `json:"ends_at"`
	DurationMinutes   int          `json:"duration_minutes"`
	Timezone          string       `json:"timezone"`
	Platform          Platform     `json:"platform"`
	PlatformSessionID string       `json:"platform_session_id"`
	JoinURL           string       `json:"join_url,omitempty"`
	HostURL           string       `json:"-"`
	State             SessionState `json:"state"`
	PeakViewers       int          `json:"peak_viewers"`
	CreatedBy         string       `json:"created_by"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	EndedAt           *time.Time   `json:"ended_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}
