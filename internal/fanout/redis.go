package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "live_session:"
	publishTimeout = 5 * time.Second
)

// wireEvent is the JSON form of an Event on the Redis channel.
type wireEvent struct {
	Type      EventType       `json:"type"`
	SessionID uuid.UUID       `json:"session_id"`
	At        time.Time       `json:"at"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RedisRelay implements Relay over Redis pub/sub, one channel per session.
type RedisRelay struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisRelay creates a Redis pub/sub relay.
func NewRedisRelay(client *redis.Client, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{client: client, logger: logger}
}

// Channel returns the Redis channel name for a session.
func Channel(sessionID uuid.UUID) string {
	return channelPrefix + sessionID.String()
}

// Publish sends ev on the session's channel.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, Channel(ev.SessionID), body).Err()
}

// Subscribe listens on the session's channel until cancel is called.
func (r *RedisRelay) Subscribe(sessionID uuid.UUID, deliver func(Event)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, Channel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(sessionID), err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					r.logger.Debug("skip malformed relay message", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				deliver(ev)
			}
		}
	}()
	return cancelCtx, nil
}

func encodeEvent(ev Event) ([]byte, error) {
	w := wireEvent{Type: ev.Type, SessionID: ev.SessionID, At: ev.At}
	if ev.Data != nil {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal event data: %w", err)
		}
		w.Data = data
	}
	return json.Marshal(w)
}

// decodeEvent leaves Data as json.RawMessage.
func decodeEvent(body []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return Event{}, err
	}
	ev := Event{Type: w.Type, SessionID: w.SessionID, At: w.At}
	if len(w.Data) > 0 {
		ev.Data = w.Data
	}
	return ev, nil
}

var _ Relay = (*RedisRelay)(nil)
