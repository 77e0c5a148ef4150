// Package app wires the parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New resolves the conversation
// language, builds the call bridge and the transports for the configured
// mode, Run serves until its context ends, and Shutdown tears everything
// down in order.
//
// In telephony mode every call admitted by the bridge gets its own
// transcription → response → synthesis pipeline (see [CallManager]). In
// microphone mode a single pipeline runs from local capture to local
// playback.
//
// For testing, inject doubles via functional options ([WithMetrics],
// [WithLocalAudio]). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/parley/internal/bridge"
	"github.com/MrWong99/parley/internal/call"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/echo"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/language"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/internal/transport/local"
	"github.com/MrWong99/parley/internal/transport/sip"
	"github.com/MrWong99/parley/internal/transport/wsmedia"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Translation is used in translation mode. Nil falls back to LLM.
	Translation llm.Provider

	// VAD classifies frames for the segmenter. Nil selects the energy
	// classifier at the configured aggressiveness.
	VAD vad.Classifier
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	lang       language.Language
	speaker    string
	thresholds *liveThresholds
	stages     *stageBuilder

	health *health.Handler
	bridge *bridge.Bridge
	calls  *CallManager

	// Telephony transports; nil when not configured.
	ws  *wsmedia.Server
	sip *sip.Server

	// Microphone mode transports.
	capture  audio.Transport
	playback audio.Transport

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records into m instead of observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLocalAudio injects the microphone-mode capture and playback
// transports instead of opening audio.local from the config.
func WithLocalAudio(capture, playback audio.Transport) Option {
	return func(a *App) {
		a.capture = capture
		a.playback = playback
	}
}

// New creates an App from cfg, which must already be validated. Use Option
// functions to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.STT == nil || providers.TTS == nil {
		return nil, errors.New("app: llm, stt and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initConversation(); err != nil {
		return nil, fmt.Errorf("app: init conversation: %w", err)
	}

	a.bridge = bridge.New(bridge.Config{
		Segment:      a.segmentConfig(0),
		Classifier:   providers.VAD,
		EchoWindow:   cfg.Audio.EchoWindow,
		PollInterval: cfg.Telephony.PollInterval,
		Metrics:      a.metrics,
	})
	a.calls = newCallManager(a.bridge, a.stages, cfg.Pipeline.QueueSize, cfg.Pipeline.JoinTimeout)
	a.health = health.New(health.Checker{Name: "line", Check: a.checkLine})

	var err error
	switch cfg.Mode {
	case config.ModeMicrophone:
		err = a.initMicrophone()
	default:
		err = a.initTelephony()
	}
	if err != nil {
		_ = a.Shutdown(ctx)
		return nil, err
	}

	slog.Info("app initialised",
		"mode", cfg.Mode,
		"language", a.lang.Key,
		"speaker", a.speaker,
		"translate", cfg.Conversation.Translate && !a.lang.IsEnglish(),
	)
	return a, nil
}

func (a *App) initConversation() error {
	lang, err := language.Lookup(a.cfg.Conversation.Language)
	if err != nil {
		return err
	}
	speaker, err := language.ResolveSpeaker(a.cfg.Conversation.Speaker, lang)
	if err != nil {
		return err
	}
	a.lang = lang
	a.speaker = speaker
	a.thresholds = newLiveThresholds(a.cfg.Transcription.Thresholds())
	a.stages = &stageBuilder{
		providers:  a.providers,
		lang:       lang,
		speaker:    speaker,
		conv:       a.cfg.Conversation,
		queueSize:  a.cfg.Pipeline.QueueSize,
		thresholds: a.thresholds,
		metrics:    a.metrics,
	}
	return nil
}

// segmentConfig returns the segmenter settings at rate; zero means the
// call's wire rate.
func (a *App) segmentConfig(rate int) segment.Config {
	v := a.cfg.Audio.VAD
	return segment.Config{
		SampleRate:     rate,
		Aggressiveness: v.Level(),
		FrameMs:        v.FrameMs,
		SilenceMs:      v.SilenceMs,
		MinSpeechMs:    v.MinSpeechMs,
	}
}

func (a *App) initTelephony() error {
	t := a.cfg.Telephony
	if ws := t.WebSocket; ws != nil {
		srv, err := wsmedia.NewServer(wsmedia.Config{
			Encoding:       ws.Encoding,
			SampleRate:     ws.SampleRate,
			OriginPatterns: ws.OriginPatterns,
		}, a.calls.Handle)
		if err != nil {
			return fmt.Errorf("app: init websocket media: %w", err)
		}
		a.ws = srv
		a.closers = append(a.closers, srv.Close)
	}
	if s := t.SIP; s != nil {
		cfg := sip.Config{
			ListenAddr: s.ListenAddr,
			PublicIP:   s.PublicIP,
			RTPPortMin: s.RTPPortMin,
			RTPPortMax: s.RTPPortMax,
		}
		if r := s.Register; r != nil {
			cfg.Register = &sip.RegisterConfig{
				Registrar:    r.Registrar,
				Username:     r.Username,
				Password:     r.Password,
				Expires:      r.Expires,
				RetryBackoff: r.RetryBackoff,
			}
		}
		srv, err := sip.NewServer(cfg, a.calls.Handle)
		if err != nil {
			return fmt.Errorf("app: init sip: %w", err)
		}
		a.sip = srv
	}
	return nil
}

func (a *App) initMicrophone() error {
	audioCfg := a.cfg.Audio
	enc := audio.Encoding(audioCfg.Local.Encoding)
	if a.capture == nil {
		tr, err := local.Open(local.Config{
			Format:   audio.WireFormat{Encoding: enc, SampleRate: audioCfg.CaptureRate},
			FrameMs:  audioCfg.VAD.FrameMs,
			Realtime: audioCfg.Local.Realtime,
		}, audioCfg.Local.Input, "")
		if err != nil {
			return fmt.Errorf("app: open capture: %w", err)
		}
		a.capture = tr
	}
	if a.playback == nil {
		tr, err := local.Open(local.Config{
			Format:   audio.WireFormat{Encoding: enc, SampleRate: audioCfg.PlaybackRate},
			FrameMs:  bridge.DefaultWriteFrameMs,
			Realtime: audioCfg.Local.Realtime,
		}, "", audioCfg.Local.Output)
		if err != nil {
			return fmt.Errorf("app: open playback: %w", err)
		}
		a.playback = tr
	}
	for _, tr := range []audio.Transport{a.capture, a.playback} {
		if c, ok := tr.(io.Closer); ok {
			a.closers = append(a.closers, c.Close)
		}
	}
	return nil
}

// Register adds the health endpoints and, when configured, the websocket
// media endpoint to mux.
func (a *App) Register(mux *http.ServeMux) {
	a.health.Register(mux)
	if a.ws != nil {
		mux.Handle("GET "+a.cfg.Telephony.WebSocket.Path, a.ws)
	}
}

// HandleCall serves one call. It is the handler the transports use and may
// be called directly for transports owned by the caller.
func (a *App) HandleCall(ctx context.Context, c call.Call) {
	a.calls.Handle(ctx, c)
}

// ActiveCall returns the session being served, or nil.
func (a *App) ActiveCall() *call.Session {
	return a.calls.Active()
}

// SetThresholds replaces the transcription thresholds, including those of
// the pipelines already running.
func (a *App) SetThresholds(th stt.Thresholds) {
	a.thresholds.set(th)
	slog.Info("transcription thresholds updated",
		"min_avg_logprob", th.MinAvgLogProb,
		"max_no_speech_prob", th.MaxNoSpeechProb,
	)
}

func (a *App) checkLine(context.Context) error {
	if s := a.calls.Active(); s != nil {
		return fmt.Errorf("line busy with session %s", s.ID())
	}
	return nil
}

// Run serves until ctx is cancelled. In microphone mode it also returns when
// the capture stream ends. It returns nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Mode == config.ModeMicrophone {
		return a.runMicrophone(ctx)
	}
	return a.runTelephony(ctx)
}

func (a *App) runTelephony(ctx context.Context) error {
	a.health.SetReady(true)
	defer a.health.SetReady(false)
	slog.Info("app running", "sip", a.sip != nil, "websocket", a.ws != nil)

	if a.sip == nil {
		<-ctx.Done()
		return nil
	}
	return a.sip.ListenAndServe(ctx)
}

func (a *App) runMicrophone(ctx context.Context) error {
	captureFmt := a.capture.Format()
	codec, err := audio.NewCodec(captureFmt)
	if err != nil {
		return fmt.Errorf("app: capture: %w", err)
	}
	seg, err := segment.New(a.segmentConfig(captureFmt.SampleRate), a.providers.VAD)
	if err != nil {
		return fmt.Errorf("app: capture: %w", err)
	}

	size := a.cfg.Pipeline.QueueSize
	utterances := pipeline.NewQueue[audio.Utterance]("utterances", size)
	waveforms := pipeline.NewQueue[audio.Waveform]("waveforms", size)
	busy := &echo.BusyFlag{}

	playback, err := pipeline.NewPlayback(a.playback, busy, bridge.DefaultWriteFrameMs, waveforms)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	feeder, err := pipeline.NewFeeder(codec, seg, utterances, a.metrics)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	ch := a.stages.build(utterances, waveforms)
	defer a.thresholds.attach(ch.transcription)()

	orch := pipeline.NewOrchestrator(pipeline.Config{
		JoinTimeout: a.cfg.Pipeline.JoinTimeout,
		Metrics:     a.metrics,
	})
	orch.Add(pipeline.NewCapture(a.capture, feeder, busy, a.metrics))
	orch.Add(ch.stages...)
	orch.Add(playback)

	runCtx := observe.WithCallID(ctx, "microphone")
	if err := orch.Start(runCtx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.health.SetReady(true)
	defer a.health.SetReady(false)
	slog.Info("app running", "capture", captureFmt, "playback", a.playback.Format())

	select {
	case <-ctx.Done():
		// Unblocks a capture read on a file; stdin cannot be interrupted.
		if c, ok := a.capture.(io.Closer); ok {
			_ = c.Close()
		}
	case <-orch.Done():
		slog.Info("capture stream ended")
	}
	if err := orch.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	return orch.Wait()
}

// Shutdown stops the transports, waits for the active call's pipeline and
// closes everything New opened. The returned error wraps
// [pipeline.ErrJoinTimeout] if a pipeline did not drain in time.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.health != nil {
			a.health.SetReady(false)
		}

		// Run closers in order.
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		if a.calls != nil {
			shutdownErr = a.calls.Wait(ctx)
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
