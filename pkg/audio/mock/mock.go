// Package mock provides an in-memory [audio.Transport] for use in unit tests.
//
// The mock is safe for concurrent use. Reads are served from a scripted queue
// of frames; once the script is exhausted ReadFrame reports
// [audio.ErrCallEnded] (or blocks until [Transport.Hangup] when Hold is set).
// Every written frame is recorded.
//
// Typical usage:
//
//	tr := &mock.Transport{
//	    WireFormat: audio.WireFormat{Encoding: audio.EncodingMuLaw, SampleRate: 8000},
//	}
//	tr.Push(frame1, frame2)
//	frame, err := tr.ReadFrame()
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

var _ audio.Transport = (*Transport)(nil)

// Transport is a mock implementation of [audio.Transport].
type Transport struct {
	mu   sync.Mutex
	cond *sync.Cond

	// WireFormat is returned by [Transport.Format].
	WireFormat audio.WireFormat

	// Hold makes ReadFrame block on an empty script until Push or Hangup,
	// instead of returning [audio.ErrCallEnded].
	Hold bool

	// ReadError, when non-nil, is returned by every ReadFrame call.
	ReadError error

	// WriteError, when non-nil, is returned by every WriteFrame call.
	WriteError error

	frames  [][]byte
	ended   bool
	reads   int
	written [][]byte
}

func (t *Transport) init() {
	if t.cond == nil {
		t.cond = sync.NewCond(&t.mu)
	}
}

// Push appends frames to the read script.
func (t *Transport) Push(frames ...[]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init()
	t.frames = append(t.frames, frames...)
	t.cond.Broadcast()
}

// Hangup ends the call. Pending and future reads and writes return
// [audio.ErrCallEnded].
func (t *Transport) Hangup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init()
	t.ended = true
	t.cond.Broadcast()
}

// ReadFrame implements [audio.Transport].
func (t *Transport) ReadFrame() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.init()
	t.reads++
	if t.ReadError != nil {
		return nil, t.ReadError
	}
	for len(t.frames) == 0 && !t.ended && t.Hold {
		t.cond.Wait()
	}
	if len(t.frames) == 0 || t.ended {
		return nil, audio.ErrCallEnded
	}
	f := t.frames[0]
	t.frames = t.frames[1:]
	return f, nil
}

// WriteFrame implements [audio.Transport].
func (t *Transport) WriteFrame(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.WriteError != nil {
		return t.WriteError
	}
	if t.ended {
		return audio.ErrCallEnded
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	t.written = append(t.written, cp)
	return nil
}

// Format implements [audio.Transport].
func (t *Transport) Format() audio.WireFormat {
	return t.WireFormat
}

// Written returns a copy of every frame passed to WriteFrame, in order.
func (t *Transport) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.written))
	copy(out, t.written)
	return out
}

// Reads returns how many times ReadFrame was called.
func (t *Transport) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}

// Remaining returns how many scripted frames have not been read yet.
func (t *Transport) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}
