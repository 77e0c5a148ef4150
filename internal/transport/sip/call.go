package sip

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"

	"github.com/MrWong99/parley/internal/call"
	"github.com/MrWong99/parley/pkg/audio"
)

var _ call.Call = (*Call)(nil)

// Call is one incoming SIP call with its RTP media.
type Call struct {
	id     string
	remote string
	dlg    *sipgo.DialogServerSession
	answer []byte
	media  *rtpSession

	answered  atomic.Bool
	ended     atomic.Bool
	endOnce   sync.Once
	endReason atomic.Value // string
}

// ID implements [call.Call]. It is the SIP Call-ID.
func (c *Call) ID() string { return c.id }

// Remote implements [call.Call]. It is the From URI.
func (c *Call) Remote() string { return c.remote }

// Format implements [audio.Transport].
func (c *Call) Format() audio.WireFormat { return c.media.codec.format() }

// Ended implements [call.Call].
func (c *Call) Ended() bool { return c.ended.Load() }

// Answer implements [call.Call]. It sends 200 OK with our SDP answer and
// starts receiving RTP.
func (c *Call) Answer(ctx context.Context) error {
	if c.Ended() {
		return audio.ErrCallEnded
	}
	if err := c.dlg.RespondSDP(c.answer); err != nil {
		return err
	}
	if c.answered.CompareAndSwap(false, true) {
		go c.media.run()
	}
	return nil
}

// Reject implements [call.Call] with 486 Busy Here.
func (c *Call) Reject(ctx context.Context) error {
	defer c.end("rejected")
	return c.dlg.Respond(486, "Busy Here", nil)
}

// Hangup implements [call.Call]. An answered call gets a BYE, an unanswered
// one a 603 Decline.
func (c *Call) Hangup(ctx context.Context) error {
	if c.Ended() {
		return nil
	}
	defer c.end("hangup")
	if !c.answered.Load() {
		return c.dlg.Respond(603, "Decline", nil)
	}
	return c.dlg.Bye(ctx)
}

// ReadFrame implements [audio.Transport].
func (c *Call) ReadFrame() ([]byte, error) {
	if !c.answered.Load() {
		return nil, audio.ErrCallEnded
	}
	return c.media.readFrame()
}

// WriteFrame implements [audio.Transport].
func (c *Call) WriteFrame(frame []byte) error {
	if c.Ended() {
		return audio.ErrCallEnded
	}
	return c.media.write(frame)
}

// EndReason returns why the call ended, or "" while it is up.
func (c *Call) EndReason() string {
	r, _ := c.endReason.Load().(string)
	return r
}

// end marks the call over and releases its media socket.
func (c *Call) end(reason string) {
	c.endOnce.Do(func() {
		c.endReason.Store(reason)
		c.ended.Store(true)
		c.media.close()
	})
}
