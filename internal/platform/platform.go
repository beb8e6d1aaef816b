// Package platform defines the control-plane contract every video platform integration satisfies.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-learning/backend/internal/models"
)

// ControlMode describes whether the platform enforces per-participant media control server-side.
type ControlMode int

const (
	// ServerEnforced platforms mute or remove a remote party authoritatively.
	ServerEnforced ControlMode = iota + 1
	// ClientEnforced platforms only accept informational calls; clients apply the change.
	ClientEnforced
)

func (m ControlMode) String() string {
	switch m {
	case ServerEnforced:
		return "server"
	case ClientEnforced:
		return "client"
	}
	return "unknown"
}

// Role is the media permission embedded in a join credential.
type Role string

const (
	RoleHost       Role = "host"
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// CanPublish reports whether the role may send audio and video.
func (r Role) CanPublish() bool {
	return r == RoleHost || r == RolePublisher
}

// Operation names, used in warnings and by test doubles.
const (
	OpCreateRoom           = "create_room"
	OpStartRoom            = "start_room"
	OpEndRoom              = "end_room"
	OpMintCredential       = "mint_credential"
	OpSetParticipantMute   = "set_participant_mute"
	OpSetParticipantCamera = "set_participant_camera"
	OpRemoveParticipant    = "remove_participant"
)

// ErrInvalidIdentity is returned when an identity cannot be represented on the platform.
var ErrInvalidIdentity = errors.New("identity not representable on platform")

// RoomConfig describes the room to create for a session.
type RoomConfig struct {
	SessionID       uuid.UUID
	Title           string
	StartsAt        time.Time
	DurationMinutes int
	Timezone        string
}

// Room is the platform-side handle returned by CreateRoom.
type Room struct {
	ID      string
	JoinURL string
	HostURL string
}

// Credential is what a client needs to connect to the platform room.
type Credential struct {
	Platform  models.Platform `json:"platform"`
	AppID     string          `json:"app_id"`
	RoomID    string          `json:"room_id"`
	UID       string          `json:"uid"`
	Role      Role            `json:"role"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Adapter is a stateless translator for one video platform, keyed by room id.
type Adapter interface {
	Platform() models.Platform
	Controls() ControlMode
	CreateRoom(ctx context.Context, cfg RoomConfig) (Room, error)
	StartRoom(ctx context.Context, roomID string) error
	EndRoom(ctx context.Context, roomID string) error
	MintJoinCredential(ctx context.Context, roomID, identity string, role Role, ttl time.Duration) (Credential, error)
	SetParticipantMute(ctx context.Context, roomID, identity string, muted bool) error
	SetParticipantCamera(ctx context.Context, roomID, identity string, enabled bool) error
	RemoveParticipant(ctx context.Context, roomID, identity string) error
}

// Warning records a best-effort platform call that failed without blocking the durable change.
type Warning struct {
	Platform models.Platform
	Op       string
	Identity string
	Err      error
}

func (w Warning) Error() string {
	if w.Identity != "" {
		return fmt.Sprintf("%s %s for %s: %v", w.Platform, w.Op, w.Identity, w.Err)
	}
	return fmt.Sprintf("%s %s: %v", w.Platform, w.Op, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }

// Messages renders warnings for API responses.
func Messages(ws []Warning) []string {
	if len(ws) == 0 {
		return nil
	}
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Error())
	}
	return out
}
