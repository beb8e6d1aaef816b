// Package livesession orchestrates live class sessions: lifecycle, participant
// presence and media state, and raise-hand floor control. Every durable change
// runs in one store transaction and is published to the session's fanout topic
// after commit.
package livesession

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-learning/backend/internal/apperr"
	"github.com/aura-learning/backend/internal/fanout"
	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
	"github.com/aura-learning/backend/internal/store"
)

const (
	DefaultCallTimeout   = 10 * time.Second
	DefaultCredentialTTL = time.Hour

	// maxParallelCalls bounds the best-effort platform calls fired after one commit.
	maxParallelCalls = 4
)

// Catalog answers course and cohort existence questions.
type Catalog interface {
	CourseExists(ctx context.Context, id uuid.UUID) (bool, error)
	CohortExists(ctx context.Context, courseID, cohortID uuid.UUID) (bool, error)
}

// Publisher receives committed change events.
type Publisher interface {
	Publish(ctx context.Context, ev fanout.Event)
}

// Options tunes a Service. Zero values pick the defaults.
type Options struct {
	CallTimeout   time.Duration
	CredentialTTL time.Duration
	// EndInteractionDisablesCamera switches the speaker's camera off when their floor time ends.
	EndInteractionDisablesCamera bool
	Tracer                       trace.Tracer
	Now                          func() time.Time
}

// Service is the session orchestrator.
type Service struct {
	store     store.Store
	catalog   Catalog
	platforms *platform.Registry
	events    Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	opts      Options
	now       func() time.Time
}

// NewService wires the orchestrator. publisher may be nil when nobody listens.
func NewService(st store.Store, catalog Catalog, platforms *platform.Registry, publisher Publisher, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.CredentialTTL <= 0 {
		opts.CredentialTTL = DefaultCredentialTTL
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/aura-learning/backend/internal/livesession")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:     st,
		catalog:   catalog,
		platforms: platforms,
		events:    publisher,
		logger:    logger,
		tracer:    tracer,
		opts:      opts,
		now:       now,
	}
}

// clock returns the current time at the precision every store keeps.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "livesession."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Code(err))
	}
	span.End()
}

func sessionAttr(id uuid.UUID) attribute.KeyValue {
	return attribute.String("session.id", id.String())
}

func (s *Service) adapterFor(p models.Platform) (platform.Adapter, error) {
	a, err := s.platforms.Get(p)
	if err != nil {
		return nil, fmt.Errorf("resolve adapter: %w", err)
	}
	return a, nil
}

// call runs a blocking platform call under the configured timeout.
func (s *Service) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	return fn(ctx)
}

// bestEffort runs a platform call whose failure must not undo a committed change.
// It survives cancellation of the request that triggered it.
func (s *Service) bestEffort(ctx context.Context, a platform.Adapter, op, identity string, fn func(ctx context.Context) error) *platform.Warning {
	err := s.call(context.WithoutCancel(ctx), fn)
	if err == nil {
		return nil
	}
	w := &platform.Warning{Platform: a.Platform(), Op: op, Identity: identity, Err: err}
	s.logger.Warn("platform call failed",
		zap.String("platform", string(w.Platform)),
		zap.String("op", op),
		zap.String("identity", identity),
		zap.Error(err))
	return w
}

// mediaCall is one participant-level platform call fired after commit.
type mediaCall struct {
	op       string
	identity string
	fn       func(ctx context.Context) error
}

// fanOutCalls runs calls with bounded parallelism and returns their warnings in call order.
func (s *Service) fanOutCalls(ctx context.Context, a platform.Adapter, calls []mediaCall) []platform.Warning {
	if len(calls) == 0 {
		return nil
	}
	results := make([]*platform.Warning, len(calls))
	var g errgroup.Group
	g.SetLimit(maxParallelCalls)
	for i, c := range calls {
		g.Go(func() error {
			results[i] = s.bestEffort(ctx, a, c.op, c.identity, c.fn)
			return nil
		})
	}
	_ = g.Wait()
	var warnings []platform.Warning
	for _, w := range results {
		if w != nil {
			warnings = append(warnings, *w)
		}
	}
	return warnings
}

func (s *Service) publish(ctx context.Context, sessionID uuid.UUID, typ fanout.EventType, at time.Time, data any) {
	if s.events == nil {
		return
	}
	s.events.Publish(context.WithoutCancel(ctx), fanout.Event{Type: typ, SessionID: sessionID, At: at, Data: data})
}

// lockSession loads and locks the session row inside tx.
func lockSession(ctx context.Context, tx store.Tx, id uuid.UUID) (*models.LiveSession, error) {
	sess, err := tx.LockSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) getSession(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("session %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func requireActive(sess *models.LiveSession) error {
	if sess.State != models.SessionActive {
		return apperr.InvalidState("session is %s, not active", sess.State)
	}
	return nil
}

// platformRole maps a participant role to the credential permission. A student
// publishes only while holding the floor.
func platformRole(role models.ParticipantRole, holdsFloor bool) platform.Role {
	switch role {
	case models.RoleInstructor:
		return platform.RoleHost
	case models.RoleModerator:
		return platform.RolePublisher
	}
	if holdsFloor {
		return platform.RolePublisher
	}
	return platform.RoleSubscriber
}
