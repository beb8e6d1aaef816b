// Package zego integrates ZEGOCLOUD rooms. Rooms are keyed by session id and media
// control is applied by the clients.
package zego

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ZEGOCLOUD/zego_server_assistant/token/go/src/token04"
	"go.uber.org/zap"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
)

const secretLength = 32

// Config holds the ZEGOCLOUD project credentials. ServerSecret must be 32 characters.
type Config struct {
	AppID        uint32
	ServerSecret string
}

// roomPayload is the token04 payload restricting a token to one room. See ZEGOCLOUD token04 docs.
type roomPayload struct {
	RoomID       string      `json:"RoomId"`
	Privilege    map[int]int `json:"Privilege"`
	StreamIDList []string    `json:"StreamIdList,omitempty"`
}

// Adapter implements platform.Adapter for ZEGOCLOUD.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a ZEGOCLOUD adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.AppID == 0 || cfg.ServerSecret == "" {
		return nil, fmt.Errorf("zego: app_id and server_secret required")
	}
	if len(cfg.ServerSecret) != secretLength {
		return nil, fmt.Errorf("zego: server_secret must be %d characters", secretLength)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, logger: logger, now: time.Now}, nil
}

func (a *Adapter) Platform() models.Platform { return models.PlatformZego }
func (a *Adapter) Controls() platform.ControlMode { return platform.ClientEnforced }

// CreateRoom uses the session id as the room id. ZEGOCLOUD creates rooms on first login.
func (a *Adapter) CreateRoom(ctx context.Context, cfg platform.RoomConfig) (platform.Room, error) {
	if err := ctx.Err(); err != nil {
		return platform.Room{}, err
	}
	return platform.Room{ID: cfg.SessionID.String()}, nil
}

func (a *Adapter) StartRoom(ctx context.Context, roomID string) error { return ctx.Err() }
func (a *Adapter) EndRoom(ctx context.Context, roomID string) error { return ctx.Err() }

// MintJoinCredential issues a token04 with login privilege, and publish privilege for publishing roles.
func (a *Adapter) MintJoinCredential(ctx context.Context, roomID, identity string, role platform.Role, ttl time.Duration) (platform.Credential, error) {
	if identity == "" {
		return platform.Credential{}, fmt.Errorf("zego: empty identity: %w", platform.ErrInvalidIdentity)
	}
	if err := ctx.Err(); err != nil {
		return platform.Credential{}, err
	}
	privilege := map[int]int{
		token04.PrivilegeKeyLogin:   token04.PrivilegeEnable,
		token04.PrivilegeKeyPublish: token04.PrivilegeDisable,
	}
	if role.CanPublish() {
		privilege[token04.PrivilegeKeyPublish] = token04.PrivilegeEnable
	}
	payload, err := json.Marshal(roomPayload{RoomID: roomID, Privilege: privilege})
	if err != nil {
		return platform.Credential{}, fmt.Errorf("zego: marshal payload: %w", err)
	}
	seconds := int64(ttl / time.Second)
	token, err := token04.GenerateToken04(a.cfg.AppID, identity, a.cfg.ServerSecret, seconds, string(payload))
	if err != nil {
		return platform.Credential{}, fmt.Errorf("zego: generate token: %w", err)
	}
	return platform.Credential{
		Platform:  models.PlatformZego,
		AppID:     fmt.Sprint(a.cfg.AppID),
		RoomID:    roomID,
		UID:       identity,
		Role:      role,
		Token:     token,
		ExpiresAt: a.now().Add(ttl),
	}, nil
}

func (a *Adapter) SetParticipantMute(ctx context.Context, roomID, identity string, muted bool) error {
	a.logger.Debug("zego mute is client enforced", zap.String("room_id", roomID), zap.String("identity", identity), zap.Bool("muted", muted))
	return ctx.Err()
}

func (a *Adapter) SetParticipantCamera(ctx context.Context, roomID, identity string, enabled bool) error {
	a.logger.Debug("zego camera is client enforced", zap.String("room_id", roomID), zap.String("identity", identity), zap.Bool("enabled", enabled))
	return ctx.Err()
}

func (a *Adapter) RemoveParticipant(ctx context.Context, roomID, identity string) error {
	a.logger.Debug("zego removal is client enforced", zap.String("room_id", roomID), zap.String("identity", identity))
	return ctx.Err()
}

var _ platform.Adapter = (*Adapter)(nil)
