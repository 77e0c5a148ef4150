package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/parley/internal/call"
	"github.com/MrWong99/parley/internal/echo"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/pkg/audio"
)

// loops holds what the three per-call loops share. Only the guard is
// touched by more than one loop.
type loops struct {
	bridge  *Bridge
	session *call.Session
	call    call.Call
	media   Media
	codec   audio.Codec
	feeder  *pipeline.Feeder // read loop only
	guard   *echo.Guard

	readDone chan struct{} // closed once the read loop has flushed
}

func (l *loops) active() bool {
	return l.bridge.slot.Holds(l.session)
}

// read feeds caller audio to the segmenter until the session is released or
// the transport ends. Frames captured inside the echo window are read and
// dropped so the transport never backs up.
func (l *loops) read(ctx context.Context) error {
	log := observe.Logger(ctx)
	defer close(l.readDone)
	defer func() {
		if err := l.feeder.Flush(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pipeline.ErrQueueShutdown) {
			log.Debug("bridge: flush on teardown failed", "err", err)
		}
	}()

	for l.active() {
		frame, err := l.call.ReadFrame()
		if err != nil {
			if errors.Is(err, audio.ErrCallEnded) {
				return nil
			}
			log.Error("bridge: read loop failed", "err", err)
			return fmt.Errorf("bridge: read: %w", err)
		}
		if frame == nil {
			continue
		}
		if l.guard.IsExcluded(time.Now()) {
			l.bridge.cfg.Metrics.RecordFrameDropped(ctx, "echo")
			continue
		}
		if err := l.feeder.Feed(ctx, frame); err != nil {
			if errors.Is(err, pipeline.ErrQueueShutdown) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bridge: read: %w", err)
		}
	}
	return nil
}

// write plays queued waveforms to the caller. A playback event is recorded
// before every chunk goes out.
func (l *loops) write(ctx context.Context) error {
	log := observe.Logger(ctx)
	chunk := l.call.Format().FrameBytes(l.bridge.cfg.WriteFrameMs)

	for l.active() {
		msg, err := l.media.Waveforms.Get(ctx)
		if err != nil {
			return nil
		}
		w, ok := msg.Payload()
		if !ok {
			return nil
		}

		wire := l.codec.EncodeWaveform(w)
		for len(wire) > 0 && l.active() {
			n := min(chunk, len(wire))
			l.guard.RecordPlayback(time.Now())
			if err := l.call.WriteFrame(wire[:n]); err != nil {
				if errors.Is(err, audio.ErrCallEnded) {
					return nil
				}
				log.Error("bridge: write loop failed", "err", err)
				return fmt.Errorf("bridge: write: %w", err)
			}
			wire = wire[n:]
		}
	}
	return nil
}

// monitor polls the call and tears it down once it has ended or ctx is
// cancelled. It is the only loop that empties the slot.
func (l *loops) monitor(ctx context.Context) error {
	t := time.NewTicker(l.bridge.cfg.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
		case <-l.session.Done():
		case <-ctx.Done():
			l.teardown(ctx, "shutdown")
			return nil
		}
		switch {
		case l.call.Ended():
			l.teardown(ctx, "remote hangup")
			return nil
		case l.session.State() == call.StateEnded:
			l.teardown(ctx, l.session.EndReason())
			return nil
		}
	}
}

// teardown releases the call, then seals the utterance queue once the read
// loop has returned (or readDrainTimeout passes) so a segment still open at
// hangup reaches the queue ahead of the sentinel.
func (l *loops) teardown(ctx context.Context, reason string) {
	if !l.bridge.end(ctx, l.session, l.call, l.media, reason) {
		return
	}
	select {
	case <-l.readDone:
	case <-time.After(readDrainTimeout):
		observe.Logger(ctx).Warn("bridge: read loop still blocked, sealing utterance queue")
	}
	l.media.Utterances.PutShutdown()
}

// Hangup ends the active call from our side. The monitor notices on its next
// poll.
func (b *Bridge) Hangup(reason string) bool {
	s := b.slot.Current()
	if s == nil {
		return false
	}
	return s.End(reason)
}
