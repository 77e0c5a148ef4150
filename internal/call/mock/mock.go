// Package mock provides a test double for [call.Call].
//
// Call embeds an [audiomock.Transport] for media and records signalling.
// Hanging up from either side ends the media transport as well, so bridge
// loops observe [audio.ErrCallEnded] exactly as they would on a real call.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/internal/call"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
)

var _ call.Call = (*Call)(nil)

// Call is a mock implementation of [call.Call].
type Call struct {
	*audiomock.Transport

	// CallID is returned by ID.
	CallID string

	// From is returned by Remote.
	From string

	// AnswerErr, RejectErr and HangupErr are returned by the matching methods.
	AnswerErr error
	RejectErr error
	HangupErr error

	mu       sync.Mutex
	answered int
	rejected int
	hungUp   int
	ended    bool
}

// New returns a Call with the given ID over tr.
func New(id string, tr *audiomock.Transport) *Call {
	return &Call{Transport: tr, CallID: id, From: "sip:caller@example.com"}
}

// ID implements [call.Call].
func (c *Call) ID() string { return c.CallID }

// Remote implements [call.Call].
func (c *Call) Remote() string { return c.From }

// Answer implements [call.Call].
func (c *Call) Answer(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answered++
	return c.AnswerErr
}

// Reject implements [call.Call].
func (c *Call) Reject(context.Context) error {
	c.mu.Lock()
	c.rejected++
	c.ended = true
	c.mu.Unlock()
	c.Transport.Hangup()
	return c.RejectErr
}

// Hangup implements [call.Call].
func (c *Call) Hangup(context.Context) error {
	c.mu.Lock()
	c.hungUp++
	c.ended = true
	c.mu.Unlock()
	c.Transport.Hangup()
	return c.HangupErr
}

// RemoteHangup simulates the caller hanging up (a SIP BYE).
func (c *Call) RemoteHangup() {
	c.mu.Lock()
	c.ended = true
	c.mu.Unlock()
	c.Transport.Hangup()
}

// Ended implements [call.Call].
func (c *Call) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Answered returns how many times Answer was called.
func (c *Call) Answered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

// Rejected returns how many times Reject was called.
func (c *Call) Rejected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// HungUp returns how many times Hangup was called.
func (c *Call) HungUp() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hungUp
}
