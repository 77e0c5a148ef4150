package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/bridge"
	"github.com/MrWong99/parley/internal/call"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/pkg/audio"
)

// CallManager runs a conversation pipeline for each call the bridge admits.
// Its Handle method is the [call.Handler] given to the SIP and websocket
// transports. Only one call is served at a time; the bridge rejects the rest.
// All exported methods are safe for concurrent use.
type CallManager struct {
	bridge      *bridge.Bridge
	stages      *stageBuilder
	queueSize   int
	joinTimeout time.Duration

	mu       sync.Mutex
	closing  bool
	joinErrs []error
	wg       sync.WaitGroup
}

func newCallManager(b *bridge.Bridge, stages *stageBuilder, queueSize int, joinTimeout time.Duration) *CallManager {
	return &CallManager{
		bridge:      b,
		stages:      stages,
		queueSize:   queueSize,
		joinTimeout: joinTimeout,
	}
}

// Active returns the session being served, or nil.
func (m *CallManager) Active() *call.Session {
	return m.bridge.Active()
}

// Handle serves c until it ends. Calls arriving after [CallManager.Wait]
// has been called are rejected.
func (m *CallManager) Handle(ctx context.Context, c call.Call) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		observe.Logger(ctx).Info("app: shutting down, rejecting call", "call", c.ID())
		_ = c.Reject(ctx)
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	s, err := m.bridge.Admit(ctx, c)
	if err != nil {
		if !errors.Is(err, bridge.ErrBusy) {
			observe.Logger(ctx).Warn("app: call not admitted", "call", c.ID(), "err", err)
		}
		return
	}
	ctx = observe.WithCallID(ctx, s.ID())
	log := observe.Logger(ctx)

	media := bridge.Media{
		Utterances: pipeline.NewQueue[audio.Utterance]("utterances", m.queueSize),
		Waveforms:  pipeline.NewQueue[audio.Waveform]("waveforms", m.queueSize),
	}
	ch := m.stages.build(media.Utterances, media.Waveforms)
	detach := m.stages.thresholds.attach(ch.transcription)
	defer detach()

	orch := pipeline.NewOrchestrator(pipeline.Config{
		First:       media.Utterances,
		JoinTimeout: m.joinTimeout,
		Metrics:     m.stages.metrics,
	})
	orch.Add(ch.stages...)

	serveCtx := ctx
	if err := orch.Start(ctx); err != nil {
		log.Error("app: pipeline did not start, hanging up", "err", err)
		var cancel context.CancelFunc
		serveCtx, cancel = context.WithCancel(ctx)
		cancel()
	}

	if err := m.bridge.Serve(serveCtx, s, c, media); err != nil {
		log.Warn("app: call ended with error", "err", err)
	}

	if err := orch.Shutdown(context.WithoutCancel(ctx)); err != nil {
		log.Error("app: call pipeline did not drain", "err", err)
		m.mu.Lock()
		m.joinErrs = append(m.joinErrs, fmt.Errorf("call %s: %w", s.ID(), err))
		m.mu.Unlock()
	}
}

// Wait stops accepting calls and blocks until every handler has returned or
// ctx ends. It reports the calls whose pipeline outlived the join timeout;
// such errors wrap [pipeline.ErrJoinTimeout].
func (m *CallManager) Wait(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("app: waiting for calls: %w", ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return errors.Join(m.joinErrs...)
}
