// Package realtime streams a live session's fanout topic to viewers over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-learning/backend/internal/apperr"
	"github.com/aura-learning/backend/internal/fanout"
	"github.com/aura-learning/backend/internal/livesession"
	"github.com/aura-learning/backend/internal/middleware"
	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/pkg/response"
)

const (
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second

	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Event names that are not session deltas.
const (
	EventSnapshot = "snapshot"
	EventPong     = "pong"
)

// Message is the WebSocket envelope. Deltas carry the fanout event type as Event.
type Message struct {
	Event     string    `json:"event"`
	SessionID uuid.UUID `json:"session_id"`
	At        time.Time `json:"at,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Snapshotter returns the current state a viewer starts from.
type Snapshotter interface {
	GetSessionDetails(ctx context.Context, id uuid.UUID) (*livesession.SessionDetails, error)
}

// Server upgrades viewer connections and forwards their session's events.
type Server struct {
	broker    *fanout.Broker
	sessions  Snapshotter
	validator middleware.TokenValidator
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewServer creates a WebSocket server. allowedOrigins is "*" or a comma-separated
// list; an empty list accepts any origin.
func NewServer(broker *fanout.Broker, sessions Snapshotter, validator middleware.TokenValidator, allowedOrigins string, logger *zap.Logger) *Server {
	allowed := middleware.AllowOrigin(allowedOrigins)
	return &Server{
		broker:    broker,
		sessions:  sessions,
		validator: validator,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed(origin)
			},
		},
	}
}

// client is one viewer connection.
type client struct {
	id        string
	sessionID uuid.UUID
	userID    string
	conn      *websocket.Conn
	sub       *fanout.Subscription
	send      chan Message
	logger    *zap.Logger
}

// ServeWs handles GET /ws?session_id=...&token=...
func (s *Server) ServeWs(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Query("session_id"))
	if err != nil {
		response.BadRequest(c, "valid session_id required")
		return
	}
	token := c.Query("token")
	if token == "" {
		response.Unauthorized(c, "token required")
		return
	}
	claims, err := s.validator.Validate(token)
	if err != nil {
		response.Unauthorized(c, "invalid or expired token")
		return
	}

	// Subscribe before reading the snapshot so nothing committed in between is missed.
	sub := s.broker.Subscribe(sessionID)
	details, err := s.sessions.GetSessionDetails(c.Request.Context(), sessionID)
	if err == nil && details.Session.State == models.SessionEnded {
		err = apperr.InvalidState("session has ended")
	}
	if err != nil {
		sub.Close()
		response.Error(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sub.Close()
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		id:        uuid.New().String(),
		sessionID: sessionID,
		userID:    claims.UserID,
		conn:      conn,
		sub:       sub,
		send:      make(chan Message, sendBuffer),
		logger:    s.logger,
	}
	cl.send <- Message{Event: EventSnapshot, SessionID: sessionID, At: time.Now().UTC(), Data: details}
	s.logger.Debug("viewer connected",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", cl.userID),
		zap.String("client_id", cl.id))

	go cl.writePump()
	cl.readPump()
}

// readPump consumes control frames and client pings until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.sub.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		if msg.Event == "ping" {
			select {
			case c.send <- Message{Event: EventPong, SessionID: c.sessionID, At: time.Now().UTC()}:
			default:
			}
		}
	}
}

// writePump is the only writer on the connection. It ends when the topic
// closes, the connection fails or the reader has gone.
func (c *client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				return
			}
		case ev, ok := <-c.sub.Events():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := c.write(Message{Event: string(ev.Type), SessionID: ev.SessionID, At: ev.At, Data: ev.Data}); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(msg Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}
