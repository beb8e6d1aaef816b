// Package zoom integrates Zoom meetings through the server-to-server OAuth REST API.
// Zoom enforces participant controls server-side.
package zoom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
)

const (
	DefaultAPIBaseURL = "https://api.zoom.us/v2"
	DefaultTokenURL   = "https://zoom.us/oauth/token"

	tokenTimeout = 10 * time.Second
	maxErrorBody = 64 << 10

	meetingTypeScheduled = 2
)

// In-meeting control methods sent to the live meeting events endpoint.
const (
	methodMute       = "participant.mute"
	methodUnmute     = "participant.unmute"
	methodVideoStart = "participant.video.start"
	methodVideoStop  = "participant.video.stop"
	methodRemove     = "participant.remove"
	meetingActionEnd = "end"
)

// Config holds server-to-server OAuth and Meeting SDK credentials.
type Config struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	SDKKey       string
	SDKSecret    string
	APIBaseURL   string
	TokenURL     string
}

// APIError is a non-2xx response from the Zoom API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("zoom: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("zoom: %s %s: status %d", e.Method, e.Path, e.Status)
}

// Adapter implements platform.Adapter for Zoom.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Zoom adapter. Access tokens are fetched with the account_credentials grant and cached.
func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.AccountID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("zoom: account_id, client_id and client_secret required")
	}
	if cfg.SDKKey == "" || cfg.SDKSecret == "" {
		return nil, fmt.Errorf("zoom: sdk_key and sdk_secret required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
		EndpointParams: url.Values{
			"grant_type": {"account_credentials"},
			"account_id": {cfg.AccountID},
		},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: tokenTimeout})
	return &Adapter{
		cfg:    cfg,
		client: cc.Client(tokenCtx),
		logger: logger,
		now:    time.Now,
	}, nil
}

func (a *Adapter) Platform() models.Platform { return models.PlatformZoom }
func (a *Adapter) Controls() platform.ControlMode { return platform.ServerEnforced }

type meetingSettings struct {
	HostVideo        bool   `json:"host_video"`
	ParticipantVideo bool   `json:"participant_video"`
	JoinBeforeHost   bool   `json:"join_before_host"`
	MuteUponEntry    bool   `json:"mute_upon_entry"`
	WaitingRoom      bool   `json:"waiting_room"`
	ApprovalType     int    `json:"approval_type"`
	Audio            string `json:"audio"`
	AutoRecording    string `json:"auto_recording"`
}

type createMeetingRequest struct {
	Topic     string          `json:"topic"`
	Type      int             `json:"type"`
	StartTime string          `json:"start_time"`
	Duration  int             `json:"duration"`
	Timezone  string          `json:"timezone"`
	Settings  meetingSettings `json:"settings"`
}

type meetingResponse struct {
	ID       int64  `json:"id"`
	JoinURL  string `json:"join_url"`
	StartURL string `json:"start_url"`
}

// Topic renders the meeting topic shown in Zoom clients.
func Topic(title string, startsAt time.Time, timezone string) string {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	local := startsAt.In(loc)
	return fmt.Sprintf("%s - %s at %s", title, local.Format("Jan 02, 2006"), local.Format("15:04"))
}

// CreateRoom schedules a meeting. Participants join muted.
func (a *Adapter) CreateRoom(ctx context.Context, cfg platform.RoomConfig) (platform.Room, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	body := createMeetingRequest{
		Topic:     Topic(cfg.Title, cfg.StartsAt, tz),
		Type:      meetingTypeScheduled,
		StartTime: cfg.StartsAt.UTC().Format("2006-01-02T15:04:05Z"),
		Duration:  cfg.DurationMinutes,
		Timezone:  tz,
		Settings: meetingSettings{
			HostVideo:     true,
			MuteUponEntry: true,
			Audio:         "both",
			AutoRecording: "none",
		},
	}
	var out meetingResponse
	if err := a.do(ctx, http.MethodPost, "/users/me/meetings", body, &out); err != nil {
		return platform.Room{}, err
	}
	id := strconv.FormatInt(out.ID, 10)
	a.logger.Info("zoom meeting created", zap.String("meeting_id", id), zap.String("session_id", cfg.SessionID.String()))
	return platform.Room{ID: id, JoinURL: out.JoinURL, HostURL: out.StartURL}, nil
}

// StartRoom opens the meeting for video. The host still launches it from the start url.
func (a *Adapter) StartRoom(ctx context.Context, roomID string) error {
	body := map[string]any{"settings": map[string]bool{"host_video": true, "participant_video": false}}
	return a.do(ctx, http.MethodPatch, "/meetings/"+url.PathEscape(roomID), body, nil)
}

func (a *Adapter) EndRoom(ctx context.Context, roomID string) error {
	return a.do(ctx, http.MethodPut, "/meetings/"+url.PathEscape(roomID)+"/status", map[string]string{"action": meetingActionEnd}, nil)
}

func (a *Adapter) SetParticipantMute(ctx context.Context, roomID, identity string, muted bool) error {
	method := methodUnmute
	if muted {
		method = methodMute
	}
	return a.control(ctx, roomID, identity, method)
}

func (a *Adapter) SetParticipantCamera(ctx context.Context, roomID, identity string, enabled bool) error {
	method := methodVideoStop
	if enabled {
		method = methodVideoStart
	}
	return a.control(ctx, roomID, identity, method)
}

func (a *Adapter) RemoveParticipant(ctx context.Context, roomID, identity string) error {
	return a.control(ctx, roomID, identity, methodRemove)
}

func (a *Adapter) control(ctx context.Context, roomID, identity, method string) error {
	body := map[string]any{
		"method": method,
		"params": map[string]string{"participant_id": identity},
	}
	return a.do(ctx, http.MethodPatch, "/live_meetings/"+url.PathEscape(roomID)+"/events", body, nil)
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("zoom: marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.APIBaseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("zoom: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("zoom: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("zoom: decode %s %s: %w", method, path, err)
	}
	return nil
}

var _ platform.Adapter = (*Adapter)(nil)
