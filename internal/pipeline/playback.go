package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/parley/internal/echo"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
)

// Playback writes waveforms to the local speaker transport. The busy flag is
// set until a waveform has finished playing: when the transport is a
// [Drainer] that is after Drain returns, otherwise once the last frame is
// written.
type Playback struct {
	tr      audio.Transport
	codec   audio.Codec
	busy    *echo.BusyFlag
	frameMs int
	in      *Queue[audio.Waveform]
}

// NewPlayback returns a Playback stage writing to tr in frames of frameMs.
func NewPlayback(tr audio.Transport, busy *echo.BusyFlag, frameMs int, in *Queue[audio.Waveform]) (*Playback, error) {
	codec, err := audio.NewCodec(tr.Format())
	if err != nil {
		return nil, fmt.Errorf("playback: %w", err)
	}
	if frameMs <= 0 {
		frameMs = 20
	}
	return &Playback{tr: tr, codec: codec, busy: busy, frameMs: frameMs, in: in}, nil
}

// Name implements [Stage].
func (p *Playback) Name() string { return "playback" }

// Run implements [Stage]. It returns nil when the transport ends.
func (p *Playback) Run(ctx context.Context) error {
	defer p.in.PutShutdown()
	log := observe.Logger(ctx)

	for {
		msg, err := p.in.Get(ctx)
		if err != nil {
			return err
		}
		w, ok := msg.Payload()
		if !ok {
			return nil
		}

		start := time.Now()
		err = p.play(w)
		if errors.Is(err, audio.ErrCallEnded) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("playback: %w", err)
		}
		log.Debug("pipeline: played waveform", "duration", w.Duration(), "took", time.Since(start))
	}
}

// Drainer is a transport that accepts writes ahead of the audio clock and
// can wait for them to be heard.
type Drainer interface {
	Drain()
}

func (p *Playback) play(w audio.Waveform) error {
	if p.busy != nil {
		p.busy.Set()
		defer p.busy.Clear()
	}
	if err := WriteChunked(p.tr, p.codec.EncodeWaveform(w), p.tr.Format().FrameBytes(p.frameMs)); err != nil {
		return err
	}
	if d, ok := p.tr.(Drainer); ok {
		d.Drain()
	}
	return nil
}

// WriteChunked writes wire in pieces of at most size bytes.
func WriteChunked(tr audio.Transport, wire []byte, size int) error {
	if size <= 0 {
		size = len(wire)
	}
	for len(wire) > 0 {
		n := min(size, len(wire))
		if err := tr.WriteFrame(wire[:n]); err != nil {
			return err
		}
		wire = wire[n:]
	}
	return nil
}
