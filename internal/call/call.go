// Package call models the lifecycle of one telephone call.
//
// A [Session] moves strictly forward through Idle → Active → Ended. The
// [Slot] is the single authoritative record of which session, if any, is
// currently being serviced; every loop that works on a call is handed its
// session at spawn time and keeps running only while the slot still holds it.
//
// [Call] is what a telephony transport hands to the application for each
// incoming call: the media [audio.Transport] plus answer / reject / hangup
// signalling.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrInvalidTransition is returned when a session is asked to move backwards
// or to re-enter its current state.
var ErrInvalidTransition = errors.New("call: invalid session state transition")

// State is a session lifecycle state.
type State int32

const (
	// StateIdle is a freshly created session that has not been answered.
	StateIdle State = iota

	// StateActive is an answered session whose media is being bridged.
	StateActive

	// StateEnded is terminal.
	StateEnded
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Session is one call's lifecycle record. All methods are safe for
// concurrent use.
type Session struct {
	id        string
	callID    string
	createdAt time.Time

	state   atomic.Int32
	endOnce sync.Once
	done    chan struct{}

	mu        sync.Mutex
	endedAt   time.Time
	endReason string
}

// NewSession returns an Idle session for the transport-level call callID
// (for SIP, the Call-ID header).
func NewSession(callID string) *Session {
	return &Session{
		id:        uuid.NewString(),
		callID:    callID,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// CallID returns the transport-level call identifier.
func (s *Session) CallID() string { return s.callID }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Activate moves an Idle session to Active.
func (s *Session) Activate() error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateActive)) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.State(), StateActive)
	}
	return nil
}

// End moves the session to Ended from any state, recording reason. It
// reports whether this call performed the transition; ending an already
// ended session is a no-op.
func (s *Session) End(reason string) bool {
	ended := false
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.endedAt = time.Now()
		s.endReason = reason
		s.mu.Unlock()
		s.state.Store(int32(StateEnded))
		close(s.done)
		ended = true
	})
	return ended
}

// Done returns a channel that is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// EndReason returns why the session ended, or "" if it has not.
func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Duration returns how long the session lasted, or has lasted so far.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt.IsZero() {
		return time.Since(s.createdAt)
	}
	return s.endedAt.Sub(s.createdAt)
}

// Slot holds the single active session. The zero value is empty.
type Slot struct {
	p atomic.Pointer[Session]
}

// Claim stores s if the slot is empty and reports whether it did.
func (sl *Slot) Claim(s *Session) bool {
	return sl.p.CompareAndSwap(nil, s)
}

// Release empties the slot if it still holds s and reports whether it did.
func (sl *Slot) Release(s *Session) bool {
	return sl.p.CompareAndSwap(s, nil)
}

// Holds reports whether the slot currently holds s.
func (sl *Slot) Holds(s *Session) bool {
	return s != nil && sl.p.Load() == s
}

// Current returns the active session or nil.
func (sl *Slot) Current() *Session {
	return sl.p.Load()
}

// Call is an incoming call offered by a telephony transport. Media flows
// through the embedded [audio.Transport] once the call is answered.
type Call interface {
	audio.Transport

	// ID returns the transport-level call identifier.
	ID() string

	// Remote describes the caller (e.g. a SIP From URI).
	Remote() string

	// Answer accepts the call and starts media.
	Answer(ctx context.Context) error

	// Reject declines the call without answering because the line is busy.
	Reject(ctx context.Context) error

	// Hangup terminates an answered call from our side.
	Hangup(ctx context.Context) error

	// Ended reports whether the call has terminated for any reason.
	Ended() bool
}

// Handler is invoked by a telephony transport for each incoming call. It
// runs on its own goroutine and owns the call until it returns.
type Handler func(ctx context.Context, c Call)
