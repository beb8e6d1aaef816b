package models

import (
	"time"

	"github.com/google/uuid"
)

// HandStatus is the status of a floor request.
type HandStatus string

const (
	HandPending   HandStatus = "pending"
	HandAccepted  HandStatus = "accepted"
	HandRejected  HandStatus = "rejected"
	HandAddressed HandStatus = "addressed"
)

// HandRaise is a participant's request to take the floor.
type HandRaise struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     uuid.UUID  `json:"session_id"`
	ParticipantID uuid.UUID  `json:"participant_id"`
	RaisedAt      time.Time  `json:"raised_at"`
	Status        HandStatus `json:"status"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
	AddressedAt   *time.Time `json:"addressed_at,omitempty"`
}

// Open reports whether the request still holds or awaits the floor.
func (h *HandRaise) Open() bool {
	return h.Status == HandPending || h.Status == HandAccepted
}
