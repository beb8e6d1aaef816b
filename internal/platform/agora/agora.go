// Package agora integrates Agora RTC channels. Agora has no server-side control over a
// remote party's tracks, so mute, camera and removal calls are informational only.
package agora

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AgoraIO/Tools/DynamicKey/AgoraDynamicKey/go/src/rtctokenbuilder2"
	"go.uber.org/zap"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
)

const (
	maxChannelLength = 64
	maxTitlePrefix   = 20
	defaultTTL       = time.Hour
)

var channelUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Config holds the Agora project credentials.
type Config struct {
	AppID          string
	AppCertificate string
}

// Adapter implements platform.Adapter for Agora.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Agora adapter.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.AppID == "" || cfg.AppCertificate == "" {
		return nil, fmt.Errorf("agora: app_id and app_certificate required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, logger: logger, now: time.Now}, nil
}

func (a *Adapter) Platform() models.Platform { return models.PlatformAgora }
func (a *Adapter) Controls() platform.ControlMode { return platform.ClientEnforced }

// ChannelName derives a channel name from the session title and id, within Agora's length limit.
func ChannelName(title string, sessionID fmt.Stringer, at time.Time) string {
	clean := channelUnsafe.ReplaceAllString(title, "_")
	if len(clean) > maxTitlePrefix {
		clean = clean[:maxTitlePrefix]
	}
	short, _, _ := strings.Cut(sessionID.String(), "-")
	name := fmt.Sprintf("%s_%s_%d", clean, short, at.UnixMilli())
	if len(name) > maxChannelLength {
		name = name[:maxChannelLength]
	}
	return name
}

// CreateRoom allocates a channel name. Agora channels exist implicitly once someone joins.
func (a *Adapter) CreateRoom(ctx context.Context, cfg platform.RoomConfig) (platform.Room, error) {
	if err := ctx.Err(); err != nil {
		return platform.Room{}, err
	}
	name := ChannelName(cfg.Title, cfg.SessionID, a.now())
	a.logger.Info("agora channel allocated", zap.String("channel", name), zap.String("session_id", cfg.SessionID.String()))
	return platform.Room{ID: name}, nil
}

func (a *Adapter) StartRoom(ctx context.Context, roomID string) error {
	a.logger.Debug("agora start is client driven", zap.String("channel", roomID))
	return ctx.Err()
}

func (a *Adapter) EndRoom(ctx context.Context, roomID string) error {
	a.logger.Debug("agora end is client driven", zap.String("channel", roomID))
	return ctx.Err()
}

// MintJoinCredential issues an RTC token. Agora uids are numeric, so non-numeric identities are rejected.
func (a *Adapter) MintJoinCredential(ctx context.Context, roomID, identity string, role platform.Role, ttl time.Duration) (platform.Credential, error) {
	uid, err := strconv.ParseUint(identity, 10, 32)
	if err != nil {
		return platform.Credential{}, fmt.Errorf("agora: uid %q: %w", identity, platform.ErrInvalidIdentity)
	}
	if err := ctx.Err(); err != nil {
		return platform.Credential{}, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	now := a.now()
	token, err := rtctokenbuilder2.BuildTokenWithUid(a.cfg.AppID, a.cfg.AppCertificate, roomID, uint32(uid),
		tokenRole(role), uint32(ttl/time.Second), uint32(ttl/time.Second))
	if err != nil {
		return platform.Credential{}, fmt.Errorf("agora: build token: %w", err)
	}
	return platform.Credential{
		Platform:  models.PlatformAgora,
		AppID:     a.cfg.AppID,
		RoomID:    roomID,
		UID:       identity,
		Role:      role,
		Token:     token,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func tokenRole(role platform.Role) rtctokenbuilder2.Role {
	if role.CanPublish() {
		return rtctokenbuilder2.RolePublisher
	}
	return rtctokenbuilder2.RoleSubscriber
}

func (a *Adapter) SetParticipantMute(ctx context.Context, roomID, identity string, muted bool) error {
	a.logger.Debug("agora mute is client enforced", zap.String("channel", roomID), zap.String("identity", identity), zap.Bool("muted", muted))
	return ctx.Err()
}

func (a *Adapter) SetParticipantCamera(ctx context.Context, roomID, identity string, enabled bool) error {
	a.logger.Debug("agora camera is client enforced", zap.String("channel", roomID), zap.String("identity", identity), zap.Bool("enabled", enabled))
	return ctx.Err()
}

func (a *Adapter) RemoveParticipant(ctx context.Context, roomID, identity string) error {
	a.logger.Debug("agora removal is client enforced", zap.String("channel", roomID), zap.String("identity", identity))
	return ctx.Err()
}

var _ platform.Adapter = (*Adapter)(nil)
