package bridge_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/bridge"
	"github.com/MrWong99/parley/internal/call"
	callmock "github.com/MrWong99/parley/internal/call/mock"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	vadmock "github.com/MrWong99/parley/pkg/provider/vad/mock"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var pcmu = audio.WireFormat{Encoding: audio.EncodingMuLaw, SampleRate: 8000}

// 30 ms of μ-law at 8 kHz.
const wireFrame = 240

func speechFrame() []byte {
	return audio.MuLawEncode(bytes16(wireFrame, 4000))
}

func silenceFrame() []byte {
	return audio.MuLawEncode(make([]int16, wireFrame))
}

func bytes16(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func script(speech, silence int) [][]byte {
	var out [][]byte
	for range speech {
		out = append(out, speechFrame())
	}
	for range silence {
		out = append(out, silenceFrame())
	}
	return out
}

// loudClassifier treats any non-zero PCM frame as speech.
func loudClassifier() *vadmock.Classifier {
	return &vadmock.Classifier{Func: func(frame []byte, _ int) (bool, error) {
		return bytes.ContainsFunc(frame, func(r rune) bool { return r != 0 }), nil
	}}
}

func newBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return bridge.New(bridge.Config{
		Segment:      segment.Config{FrameMs: 30, SilenceMs: 300, MinSpeechMs: 300},
		Classifier:   loudClassifier(),
		PollInterval: 10 * time.Millisecond,
		Metrics:      m,
	})
}

func newCall(id string) *callmock.Call {
	return callmock.New(id, &audiomock.Transport{WireFormat: pcmu, Hold: true})
}

func newMedia() bridge.Media {
	return bridge.Media{
		Utterances: pipeline.NewQueue[audio.Utterance]("utterances", 16),
		Waveforms:  pipeline.NewQueue[audio.Waveform]("waveforms", 16),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// serve runs Serve in the background and returns its result channel.
func serve(ctx context.Context, b *bridge.Bridge, s *call.Session, c call.Call, m bridge.Media) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- b.Serve(ctx, s, c, m) }()
	return errc
}

func result(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestAdmit_RejectsWhileBusy(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	first, second := newCall("a"), newCall("b")

	s, err := b.Admit(context.Background(), first)
	if err != nil {
		t.Fatalf("Admit first: %v", err)
	}
	if s.State() != call.StateActive || b.Active() != s {
		t.Fatalf("first session state %s, active %v", s.State(), b.Active())
	}

	if _, err := b.Admit(context.Background(), second); !errors.Is(err, bridge.ErrBusy) {
		t.Fatalf("Admit second: err = %v, want ErrBusy", err)
	}
	if second.Rejected() != 1 || second.Answered() != 0 {
		t.Errorf("second call: rejected %d, answered %d; want 1, 0", second.Rejected(), second.Answered())
	}
	if first.Answered() != 1 {
		t.Errorf("first call answered %d times, want 1", first.Answered())
	}
	if b.Active() != s {
		t.Error("rejected call displaced the active session")
	}
}

func TestAdmit_AnswerFailureFreesLine(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	c := newCall("a")
	c.AnswerErr = errors.New("488 not acceptable")

	if _, err := b.Admit(context.Background(), c); err == nil {
		t.Fatal("Admit succeeded despite answer failure")
	}
	if b.Active() != nil {
		t.Fatal("line still held after failed answer")
	}
	if _, err := b.Admit(context.Background(), newCall("b")); err != nil {
		t.Errorf("next call not admitted: %v", err)
	}
}

func TestServe_UtteranceThenRemoteHangup(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	c := newCall("a")
	m := newMedia()
	s, err := b.Admit(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	errc := serve(context.Background(), b, s, c, m)

	c.Push(script(20, 15)...)
	msg, err := m.Utterances.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	u, ok := msg.Payload()
	if !ok {
		t.Fatal("got sentinel before the utterance")
	}
	if want := 31 * wireFrame; len(u.Samples) != want || u.SampleRate != 8000 {
		t.Errorf("utterance: %d samples at %d Hz, want %d at 8000", len(u.Samples), u.SampleRate, want)
	}

	c.RemoteHangup()
	if err := result(t, errc); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if s.State() != call.StateEnded || s.EndReason() != "remote hangup" {
		t.Errorf("session %s (%q), want ended by remote hangup", s.State(), s.EndReason())
	}
	if b.Active() != nil {
		t.Error("slot not released")
	}
	if !m.Utterances.IsShutdown() || !m.Waveforms.IsShutdown() {
		t.Error("sentinel not pushed into both queues")
	}
	if c.HungUp() != 0 {
		t.Error("hung up a call the caller already ended")
	}

	next := newCall("b")
	if _, err := b.Admit(context.Background(), next); err != nil {
		t.Errorf("line not free after hangup: %v", err)
	}
}

func TestServe_EchoWindowDropsCapturedPlayback(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	c := newCall("a")
	m := newMedia()
	s, err := b.Admit(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	errc := serve(context.Background(), b, s, c, m)

	// 100 ms of tone: five 20 ms μ-law chunks.
	w := audio.Waveform{Samples: make([]float32, 800), SampleRate: 8000}
	for i := range w.Samples {
		w.Samples[i] = 0.25
	}
	if err := m.Waveforms.Put(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playback", func() bool { return len(c.Written()) == 5 })
	for i, f := range c.Written() {
		if len(f) != 160 {
			t.Errorf("chunk %d has %d bytes, want 160", i, len(f))
		}
	}

	// The caller's line now carries our own voice back to us.
	c.Push(script(20, 15)...)
	waitFor(t, "reads", func() bool { return c.Remaining() == 0 })

	c.RemoteHangup()
	if err := result(t, errc); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	msg, err := m.Utterances.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !msg.IsShutdown() {
		t.Error("audio captured inside the echo window reached the utterance queue")
	}
}

func TestServe_OurHangup(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	c := newCall("a")
	s, err := b.Admit(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	errc := serve(context.Background(), b, s, c, newMedia())

	if !b.Hangup("operator") {
		t.Fatal("Hangup found no active call")
	}
	if err := result(t, errc); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if c.HungUp() != 1 {
		t.Errorf("call hung up %d times, want 1", c.HungUp())
	}
	if s.EndReason() != "operator" {
		t.Errorf("EndReason = %q, want operator", s.EndReason())
	}
	if b.Hangup("again") {
		t.Error("Hangup reported success with no active call")
	}
}

func TestServe_ContextCancelHangsUp(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	c := newCall("a")
	s, err := b.Admit(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errc := serve(ctx, b, s, c, newMedia())

	cancel()
	if err := result(t, errc); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if c.HungUp() != 1 || s.EndReason() != "shutdown" {
		t.Errorf("hung up %d times, reason %q; want 1, shutdown", c.HungUp(), s.EndReason())
	}
}

func TestServe_ReadFailureEndsOnlyReadLoop(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	boom := errors.New("rtp socket closed")
	tr := &audiomock.Transport{WireFormat: pcmu, Hold: true, ReadError: boom}
	c := callmock.New("a", tr)
	m := newMedia()
	s, err := b.Admit(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	errc := serve(context.Background(), b, s, c, m)

	// The write loop still plays while the read loop is gone.
	if err := m.Waveforms.Put(context.Background(), audio.Waveform{Samples: make([]float32, 160), SampleRate: 8000}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "playback", func() bool { return len(c.Written()) == 1 })

	c.RemoteHangup()
	if err := result(t, errc); !errors.Is(err, boom) {
		t.Errorf("Serve = %v, want the read failure", err)
	}
	if b.Active() != nil {
		t.Error("monitor did not clean up after the read loop failed")
	}
}

func TestServe_RequiresAdmittedSession(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	err := b.Serve(context.Background(), call.NewSession("stray"), newCall("stray"), newMedia())
	if err == nil {
		t.Error("Serve accepted a session that was never admitted")
	}
}

func TestServe_HangupFlushesTrailingSpeech(t *testing.T) {
	t.Parallel()
	b := newBridge(t)
	c := newCall("a")
	m := newMedia()
	s, err := b.Admit(context.Background(), c)
	if err != nil {
		t.Fatal(err)
	}
	errc := serve(context.Background(), b, s, c, m)

	// The caller hangs up mid-sentence: no closing silence.
	c.Push(script(20, 0)...)
	waitFor(t, "reads", func() bool { return c.Remaining() == 0 })
	c.RemoteHangup()
	if err := result(t, errc); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	msg, err := m.Utterances.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	u, ok := msg.Payload()
	if !ok {
		t.Fatal("trailing speech was lost: got the sentinel first")
	}
	if want := 20 * wireFrame; len(u.Samples) != want {
		t.Errorf("flushed utterance has %d samples, want %d", len(u.Samples), want)
	}
	if msg, _ := m.Utterances.Get(context.Background()); !msg.IsShutdown() {
		t.Error("sentinel did not follow the flushed utterance")
	}
}
