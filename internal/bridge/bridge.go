// Package bridge connects one telephone call to the voice pipeline.
//
// A [Bridge] admits at most one call at a time. For the admitted call it runs
// three loops that share the call's session handle and its echo guard:
//
//   - read: transport → codec → echo gate → segmenter → utterance queue
//   - write: waveform queue → echo guard → codec → transport
//   - monitor: polls the call; on hangup it ends the session, empties the
//     slot and pushes the sentinel into both queues, the utterance one only
//     after the read loop has flushed any trailing speech
//
// The read and write loops keep going only while the bridge's slot still
// holds their session, so the monitor emptying the slot is what stops them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/call"
	"github.com/MrWong99/parley/internal/echo"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// ErrBusy is returned by [Bridge.Admit] when a call is already being served.
var ErrBusy = errors.New("bridge: line busy")

// Defaults.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultWriteFrameMs = 20

	// readDrainTimeout bounds how long teardown waits for the read loop to
	// flush trailing speech before sealing the utterance queue.
	readDrainTimeout = 2 * time.Second
)

// Config configures a [Bridge].
type Config struct {
	// Segment configures the per-call segmenter. SampleRate zero means the
	// call's wire rate.
	Segment segment.Config

	// Classifier is shared by every call's segmenter. Nil selects the energy
	// classifier at Segment.Aggressiveness.
	Classifier vad.Classifier

	// EchoWindow is the exclusion window after each playback chunk.
	EchoWindow time.Duration

	// PollInterval is how often the monitor checks the call state.
	PollInterval time.Duration

	// WriteFrameMs is the size of each chunk written to the transport.
	WriteFrameMs int

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Bridge services one call at a time.
type Bridge struct {
	cfg  Config
	slot call.Slot
}

// New returns a Bridge with no active call.
func New(cfg Config) *Bridge {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.WriteFrameMs <= 0 {
		cfg.WriteFrameMs = DefaultWriteFrameMs
	}
	if cfg.EchoWindow <= 0 {
		cfg.EchoWindow = echo.DefaultWindow
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Bridge{cfg: cfg}
}

// Active returns the session being served, or nil.
func (b *Bridge) Active() *call.Session {
	return b.slot.Current()
}

// Admit claims the line for c and answers it. If another call is being
// served c is rejected without answering and [ErrBusy] is returned.
func (b *Bridge) Admit(ctx context.Context, c call.Call) (*call.Session, error) {
	s := call.NewSession(c.ID())
	log := observe.Logger(observe.WithCallID(ctx, s.ID()))

	if !b.slot.Claim(s) {
		s.End("busy")
		b.cfg.Metrics.RecordCall(ctx, observe.CallRejected)
		log.Info("bridge: line busy, rejecting call", "remote", c.Remote())
		if err := c.Reject(ctx); err != nil {
			log.Warn("bridge: reject failed", "err", err)
		}
		return nil, ErrBusy
	}

	if err := c.Answer(ctx); err != nil {
		s.End("answer failed")
		b.slot.Release(s)
		return nil, fmt.Errorf("bridge: answer %s: %w", c.ID(), err)
	}
	if err := s.Activate(); err != nil {
		s.End("activate failed")
		b.slot.Release(s)
		return nil, fmt.Errorf("bridge: %w", err)
	}
	b.cfg.Metrics.RecordCall(ctx, observe.CallAccepted)
	b.cfg.Metrics.ActiveCalls.Add(ctx, 1)
	log.Info("bridge: call answered", "remote", c.Remote(), "format", c.Format())
	return s, nil
}

// Media is the pair of queues a call is bridged to.
type Media struct {
	// Utterances receives speech segmented from the caller.
	Utterances *pipeline.Queue[audio.Utterance]

	// Waveforms supplies speech to play to the caller.
	Waveforms *pipeline.Queue[audio.Waveform]
}

// Serve bridges c for session s, which must have come from [Bridge.Admit],
// and blocks until the call has ended and all three loops have returned.
// Each call gets a fresh segmenter and echo guard. Cancelling ctx hangs up.
//
// The returned error is the first loop failure other than the call ending.
func (b *Bridge) Serve(ctx context.Context, s *call.Session, c call.Call, m Media) error {
	if !b.slot.Holds(s) {
		return fmt.Errorf("bridge: session %s is not active", s.ID())
	}
	ctx = observe.WithCallID(ctx, s.ID())

	codec, err := audio.NewCodec(c.Format())
	if err != nil {
		b.end(ctx, s, c, m, "bad wire format")
		m.Utterances.PutShutdown()
		return fmt.Errorf("bridge: %w", err)
	}
	segCfg := b.cfg.Segment
	if segCfg.SampleRate == 0 {
		segCfg.SampleRate = c.Format().SampleRate
	}
	seg, err := segment.New(segCfg, b.cfg.Classifier)
	if err != nil {
		b.end(ctx, s, c, m, "segmenter setup failed")
		m.Utterances.PutShutdown()
		return fmt.Errorf("bridge: %w", err)
	}
	feeder, err := pipeline.NewFeeder(codec, seg, m.Utterances, b.cfg.Metrics)
	if err != nil {
		b.end(ctx, s, c, m, "segmenter setup failed")
		m.Utterances.PutShutdown()
		return fmt.Errorf("bridge: %w", err)
	}

	l := &loops{
		bridge:   b,
		session:  s,
		call:     c,
		media:    m,
		codec:    codec,
		feeder:   feeder,
		guard:    echo.NewGuard(b.cfg.EchoWindow),
		readDone: make(chan struct{}),
	}

	var g errgroup.Group
	g.Go(func() error { return l.read(ctx) })
	g.Go(func() error { return l.write(ctx) })
	g.Go(func() error { return l.monitor(ctx) })
	err = g.Wait()

	observe.Logger(ctx).Info("bridge: call finished",
		"reason", s.EndReason(),
		"duration", s.Duration(),
	)
	return err
}

// end tears the call down: session ended, slot emptied, the waveform queue
// given the sentinel, our side hung up if the caller has not. The caller
// pushes the utterance sentinel once nothing more can be segmented. Only the
// first call for a session does anything past ending it; it reports whether
// this was that call.
func (b *Bridge) end(ctx context.Context, s *call.Session, c call.Call, m Media, reason string) bool {
	s.End(reason)
	if !b.slot.Release(s) {
		return false
	}
	b.cfg.Metrics.ActiveCalls.Add(ctx, -1)
	m.Waveforms.PutShutdown()
	if !c.Ended() {
		if err := c.Hangup(context.WithoutCancel(ctx)); err != nil {
			observe.Logger(ctx).Warn("bridge: hangup failed", "err", err)
		}
	}
	return true
}
