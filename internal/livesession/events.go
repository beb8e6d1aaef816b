package livesession

import (
	"github.com/google/uuid"

	"github.com/aura-learning/backend/internal/models"
)

// SessionEventData is the payload of session_started and session_ended.
type SessionEventData struct {
	Session            *models.LiveSession `json:"session"`
	LeftParticipantIDs []uuid.UUID         `json:"left_participant_ids,omitempty"`
}

// ParticipantEventData is the payload of participant_joined, participant_left and participant_removed.
type ParticipantEventData struct {
	Participant   models.Participant `json:"participant"`
	Rejoined      bool               `json:"rejoined,omitempty"`
	ResolvedHands []models.HandRaise `json:"resolved_hands,omitempty"`
}

// MediaEventData is the payload of media_updated.
type MediaEventData struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	Identity      string    `json:"identity"`
	IsMuted       bool      `json:"is_muted"`
	IsCameraOn    bool      `json:"is_camera_on"`
}

// HandEventData is the payload of hand_raised, hand_responded and hand_interaction_ended.
type HandEventData struct {
	Hand     models.HandRaise `json:"hand"`
	Identity string           `json:"identity"`
}

func mediaData(p models.Participant) MediaEventData {
	return MediaEventData{ParticipantID: p.ID, Identity: p.Identity, IsMuted: p.IsMuted, IsCameraOn: p.IsCameraOn}
}
