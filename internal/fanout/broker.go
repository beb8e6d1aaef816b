// Package fanout delivers live session change events to the viewers of each session.
//
// Delivery is at-most-once and never blocks the publisher: a subscriber whose
// buffer is full misses the event. A session's topic closes once it has
// delivered session_ended.
package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultBuffer = 64

// EventType names a session change.
type EventType string

const (
	SessionStarted       EventType = "session_started"
	SessionEnded         EventType = "session_ended"
	ParticipantJoined    EventType = "participant_joined"
	ParticipantLeft      EventType = "participant_left"
	ParticipantRemoved   EventType = "participant_removed"
	MediaUpdated         EventType = "media_updated"
	HandRaised           EventType = "hand_raised"
	HandResponded        EventType = "hand_responded"
	HandInteractionEnded EventType = "hand_interaction_ended"
)

// Event is one committed change of a session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID uuid.UUID `json:"session_id"`
	At        time.Time `json:"at"`
	Data      any       `json:"data,omitempty"`
}

// Relay carries events between server instances.
type Relay interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(sessionID uuid.UUID, deliver func(Event)) (cancel func(), err error)
}

// AudienceHook observes the subscriber count of a session after it changes.
type AudienceHook func(sessionID uuid.UUID, count int)

// Option configures a Broker.
type Option func(*Broker)

// WithRelay routes publishes through r so every instance delivers them once.
func WithRelay(r Relay) Option {
	return func(b *Broker) { b.relay = r }
}

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithAudienceHook registers fn for subscriber count changes.
func WithAudienceHook(fn AudienceHook) Option {
	return func(b *Broker) { b.onAudience = fn }
}

// Broker owns one topic per session, created on first subscribe.
type Broker struct {
	mu         sync.Mutex
	topics     map[uuid.UUID]*topic
	relay      Relay
	buffer     int
	onAudience AudienceHook
	logger     *zap.Logger
	dropped    atomic.Int64
}

type topic struct {
	id uuid.UUID

	mu          sync.Mutex
	subs        map[*Subscription]struct{}
	closed      bool
	relayed     bool
	cancelRelay func()
}

// Subscription is a stream of events for one session. It cannot be restarted once closed.
type Subscription struct {
	ch     chan Event
	broker *Broker
	topic  *topic
	closed bool
}

// NewBroker creates a broker.
func NewBroker(logger *zap.Logger, opts ...Option) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{
		topics: make(map[uuid.UUID]*topic),
		buffer: DefaultBuffer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe attaches a new subscriber to the session's topic. The subscriber
// that opens a topic waits for its relay subscription; others do not.
func (b *Broker) Subscribe(sessionID uuid.UUID) *Subscription {
	b.mu.Lock()
	var (
		sub    *Subscription
		opened *topic
		count  int
	)
	for sub == nil {
		t := b.topics[sessionID]
		if t == nil {
			t = &topic{id: sessionID, subs: make(map[*Subscription]struct{}), relayed: b.relay != nil}
			b.topics[sessionID] = t
			opened = t
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			delete(b.topics, sessionID)
			continue
		}
		sub = &Subscription{ch: make(chan Event, b.buffer), broker: b, topic: t}
		t.subs[sub] = struct{}{}
		count = len(t.subs)
		t.mu.Unlock()
	}
	b.mu.Unlock()

	if opened != nil && b.relay != nil {
		b.attachRelay(opened)
	}

	b.logger.Debug("subscriber attached", zap.String("session_id", sessionID.String()), zap.Int("subscribers", count))
	if b.onAudience != nil {
		b.onAudience(sessionID, count)
	}
	return sub
}

// attachRelay subscribes t to the relay without holding b.mu. A topic that
// closed in the meantime cancels the new relay subscription straight away.
func (b *Broker) attachRelay(t *topic) {
	cancel, err := b.relay.Subscribe(t.id, func(ev Event) { b.deliverTo(t, ev) })
	t.mu.Lock()
	if err != nil {
		t.relayed = false
		t.mu.Unlock()
		b.logger.Warn("relay subscribe failed, delivering locally", zap.String("session_id", t.id.String()), zap.Error(err))
		return
	}
	if t.closed {
		t.mu.Unlock()
		cancel()
		return
	}
	t.cancelRelay = cancel
	t.mu.Unlock()
}

// Events returns the receive channel. It is closed when the subscription or topic ends.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	b, t := s.broker, s.topic
	b.mu.Lock()
	t.mu.Lock()
	if s.closed {
		t.mu.Unlock()
		b.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	delete(t.subs, s)
	count := len(t.subs)
	var cancel func()
	if count == 0 && !t.closed {
		t.closed = true
		cancel = t.cancelRelay
		if b.topics[t.id] == t {
			delete(b.topics, t.id)
		}
	}
	t.mu.Unlock()
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if b.onAudience != nil {
		b.onAudience(t.id, count)
	}
}

// Publish hands ev to the relay, or delivers it locally when there is none or it fails.
func (b *Broker) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if b.relay != nil {
		err := b.relay.Publish(ctx, ev)
		if err == nil {
			// Relayed topics receive their copy through the relay subscription.
			b.mu.Lock()
			t := b.topics[ev.SessionID]
			b.mu.Unlock()
			if t != nil && !t.isRelayed() {
				b.deliverTo(t, ev)
			}
			return
		}
		b.logger.Warn("relay publish failed, delivering locally",
			zap.String("session_id", ev.SessionID.String()), zap.String("event", string(ev.Type)), zap.Error(err))
	}
	b.mu.Lock()
	t := b.topics[ev.SessionID]
	b.mu.Unlock()
	if t != nil {
		b.deliverTo(t, ev)
	}
}

func (t *topic) isRelayed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.relayed
}

func (b *Broker) deliverTo(t *topic, ev Event) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber buffer full, event dropped",
				zap.String("session_id", t.id.String()), zap.String("event", string(ev.Type)))
		}
	}
	var cancel func()
	ended := ev.Type == SessionEnded
	if ended {
		t.closed = true
		for sub := range t.subs {
			sub.closed = true
			close(sub.ch)
		}
		t.subs = map[*Subscription]struct{}{}
		cancel = t.cancelRelay
	}
	t.mu.Unlock()

	if !ended {
		return
	}
	b.mu.Lock()
	if b.topics[t.id] == t {
		delete(b.topics, t.id)
	}
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if b.onAudience != nil {
		b.onAudience(t.id, 0)
	}
}

// SubscriberCount returns the number of local subscribers of a session.
func (b *Broker) SubscriberCount(sessionID uuid.UUID) int {
	b.mu.Lock()
	t := b.topics[sessionID]
	b.mu.Unlock()
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}

// Close ends every topic and subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	topics := b.topics
	b.topics = make(map[uuid.UUID]*topic)
	b.mu.Unlock()
	for _, t := range topics {
		t.mu.Lock()
		t.closed = true
		for sub := range t.subs {
			sub.closed = true
			close(sub.ch)
		}
		t.subs = map[*Subscription]struct{}{}
		cancel := t.cancelRelay
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}
