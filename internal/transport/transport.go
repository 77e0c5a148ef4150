// Package transport holds the pieces shared by the concrete call transports
// in its subpackages: a [FrameBuffer] that re-chunks arbitrarily sized
// network payloads into fixed-size frames, and a [Pacer] that spaces writes
// out in real time.
//
// Subpackages:
//   - local: raw PCM from stdin or a file (microphone mode)
//   - wsmedia: one call per websocket connection carrying JSON media events
//   - sip: a SIP user agent server with RTP media
package transport

import (
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// DefaultMaxBuffered bounds how much unread inbound audio a [FrameBuffer]
// keeps before discarding the oldest bytes.
const DefaultMaxBuffered = 5 * time.Second

// FrameBuffer accumulates inbound audio and hands it out in frames of a fixed
// size. One goroutine writes, one reads. Reads block until a full frame is
// buffered or the buffer is closed.
type FrameBuffer struct {
	frameBytes int
	maxBytes   int

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	closed  bool
	dropped int
}

// NewFrameBuffer returns a buffer that yields frames of format's frame size
// for frameMs and holds at most maxBuffered of audio. A zero maxBuffered
// means [DefaultMaxBuffered].
func NewFrameBuffer(format audio.WireFormat, frameMs int, maxBuffered time.Duration) *FrameBuffer {
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBuffered
	}
	frameBytes := format.FrameBytes(frameMs)
	maxBytes := int(int64(format.SampleRate) * int64(format.Encoding.BytesPerSample()) * int64(maxBuffered) / int64(time.Second))
	maxBytes = max(maxBytes, frameBytes)
	b := &FrameBuffer{frameBytes: frameBytes, maxBytes: maxBytes}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends p. Once more than the configured maximum is buffered, the
// oldest whole frames are discarded. Writes after Close are ignored.
func (b *FrameBuffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(p) == 0 {
		return
	}
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.maxBytes; over > 0 {
		// Keep frame alignment.
		n := (over + b.frameBytes - 1) / b.frameBytes * b.frameBytes
		n = min(n, len(b.buf))
		b.buf = append(b.buf[:0], b.buf[n:]...)
		b.dropped += n
	}
	b.cond.Broadcast()
}

// Next blocks until one frame is available and returns it. After Close it
// returns any remaining whole frames and then [audio.ErrCallEnded].
func (b *FrameBuffer) Next() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.buf) < b.frameBytes && !b.closed {
		b.cond.Wait()
	}
	if len(b.buf) < b.frameBytes {
		return nil, audio.ErrCallEnded
	}
	frame := make([]byte, b.frameBytes)
	copy(frame, b.buf)
	b.buf = append(b.buf[:0], b.buf[b.frameBytes:]...)
	return frame, nil
}

// Close wakes any blocked reader. It is safe to call more than once.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (b *FrameBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Dropped returns the number of bytes discarded because the reader fell
// behind.
func (b *FrameBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// maxLag is how far a Pacer may fall behind its schedule before it resets
// instead of bursting to catch up.
const maxLag = 200 * time.Millisecond

// Pacer spaces out consecutive writes so that audio leaves at the rate it
// plays. It is not safe for concurrent use.
type Pacer struct {
	next time.Time

	// now and sleep are replaced in tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewPacer returns a Pacer using the wall clock.
func NewPacer() *Pacer {
	return &Pacer{now: time.Now, sleep: time.Sleep}
}

// Wait blocks until the slot for the next piece of audio, then reserves d of
// playing time after it. The first call never blocks.
func (p *Pacer) Wait(d time.Duration) {
	now := p.now()
	if p.next.IsZero() || now.Sub(p.next) > maxLag {
		p.next = now
	}
	if wait := p.next.Sub(now); wait > 0 {
		p.sleep(wait)
	}
	p.next = p.next.Add(d)
}

// Remaining reports how long the audio reserved so far keeps playing after
// now. It is zero when nothing is scheduled.
func (p *Pacer) Remaining() time.Duration {
	if p.next.IsZero() {
		return 0
	}
	return max(p.next.Sub(p.now()), 0)
}

// Reset forgets the schedule, e.g. after a pause in playback.
func (p *Pacer) Reset() {
	p.next = time.Time{}
}
