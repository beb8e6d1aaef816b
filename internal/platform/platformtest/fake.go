// Package platformtest provides an in-memory platform adapter with failure injection for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aura-learning/backend/internal/models"
	"github.com/aura-learning/backend/internal/platform"
)

// Call is one recorded adapter invocation.
type Call struct {
	Op       string
	RoomID   string
	Identity string
	Role     platform.Role
	Muted    bool
	Enabled  bool
}

// Fake records calls and fails the operations it is told to fail.
type Fake struct {
	name  models.Platform
	mode  platform.ControlMode
	mu    sync.Mutex
	calls []Call
	fail  map[string]error
	delay map[string]time.Duration
	seq   int
}

// New returns a fake adapter for p.
func New(p models.Platform, mode platform.ControlMode) *Fake {
	return &Fake{
		name:  p,
		mode:  mode,
		fail:  make(map[string]error),
		delay: make(map[string]time.Duration),
	}
}

// Fail makes op return err until Heal is called.
func (f *Fake) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

// Stall makes op block for d or until its context is done.
func (f *Fake) Stall(op string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay[op] = d
}

// Heal clears injected failures and stalls.
func (f *Fake) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]error)
	f.delay = make(map[string]time.Duration)
}

// Calls returns the recorded calls to op, or every call when op is empty.
func (f *Fake) Calls(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(ctx context.Context, c Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	err := f.fail[c.Op]
	d := f.delay[c.Op]
	f.mu.Unlock()
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func (f *Fake) Platform() models.Platform { return f.name }
func (f *Fake) Controls() platform.ControlMode { return f.mode }

func (f *Fake) CreateRoom(ctx context.Context, cfg platform.RoomConfig) (platform.Room, error) {
	if err := f.record(ctx, Call{Op: platform.OpCreateRoom}); err != nil {
		return platform.Room{}, err
	}
	f.mu.Lock()
	f.seq++
	id := fmt.Sprintf("%s-room-%d", f.name, f.seq)
	f.mu.Unlock()
	return platform.Room{ID: id, JoinURL: "https://example.test/j/" + id}, nil
}

func (f *Fake) StartRoom(ctx context.Context, roomID string) error {
	return f.record(ctx, Call{Op: platform.OpStartRoom, RoomID: roomID})
}

func (f *Fake) EndRoom(ctx context.Context, roomID string) error {
	return f.record(ctx, Call{Op: platform.OpEndRoom, RoomID: roomID})
}

func (f *Fake) MintJoinCredential(ctx context.Context, roomID, identity string, role platform.Role, ttl time.Duration) (platform.Credential, error) {
	if err := f.record(ctx, Call{Op: platform.OpMintCredential, RoomID: roomID, Identity: identity, Role: role}); err != nil {
		return platform.Credential{}, err
	}
	return platform.Credential{
		Platform:  f.name,
		AppID:     "fake-app",
		RoomID:    roomID,
		UID:       identity,
		Role:      role,
		Token:     fmt.Sprintf("token:%s:%s:%s", roomID, identity, role),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *Fake) SetParticipantMute(ctx context.Context, roomID, identity string, muted bool) error {
	return f.record(ctx, Call{Op: platform.OpSetParticipantMute, RoomID: roomID, Identity: identity, Muted: muted})
}

func (f *Fake) SetParticipantCamera(ctx context.Context, roomID, identity string, enabled bool) error {
	return f.record(ctx, Call{Op: platform.OpSetParticipantCamera, RoomID: roomID, Identity: identity, Enabled: enabled})
}

func (f *Fake) RemoveParticipant(ctx context.Context, roomID, identity string) error {
	return f.record(ctx, Call{Op: platform.OpRemoveParticipant, RoomID: roomID, Identity: identity})
}

var _ platform.Adapter = (*Fake)(nil)
