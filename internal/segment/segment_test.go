package segment_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad/mock"
)

const (
	rate       = 8000
	frameMs    = 30
	frameBytes = rate * frameMs / 1000 * 2 // 480
)

// speechMarker is written into the first sample of frames the mock classifier
// should treat as speech.
const speechMarker = 0x7F

func speechFrame() []byte {
	f := make([]byte, frameBytes)
	f[0] = speechMarker
	return f
}

func silenceFrame() []byte { return make([]byte, frameBytes) }

// markerClassifier labels frames by their first byte.
func markerClassifier() *mock.Classifier {
	return &mock.Classifier{Func: func(frame []byte, _ int) (bool, error) {
		return frame[0] == speechMarker, nil
	}}
}

func stream(speech, silence int) []byte {
	var b []byte
	for range speech {
		b = append(b, speechFrame()...)
	}
	for range silence {
		b = append(b, silenceFrame()...)
	}
	return b
}

func newSegmenter(t *testing.T, cfg segment.Config, c *mock.Classifier) *segment.Segmenter {
	t.Helper()
	s, err := segment.New(cfg, c)
	if err != nil {
		t.Fatalf("segment.New: %v", err)
	}
	return s
}

func defaultConfig() segment.Config {
	return segment.Config{SampleRate: rate, FrameMs: frameMs, SilenceMs: 900, MinSpeechMs: 2000}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  segment.Config
	}{
		{"bad rate", segment.Config{SampleRate: 22050}},
		{"bad frame", segment.Config{SampleRate: 8000, FrameMs: 25}},
		{"negative silence", segment.Config{SampleRate: 8000, SilenceMs: -1}},
		{"bad aggressiveness", segment.Config{SampleRate: 8000, Aggressiveness: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := segment.New(tt.cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	s, err := segment.New(segment.Config{SampleRate: 16000}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.FrameBytes(); got != 960 {
		t.Errorf("FrameBytes = %d, want 960", got)
	}
	if s.State() != segment.StateIdle {
		t.Errorf("initial state = %v, want IDLE", s.State())
	}
}

func TestProcess_OneUtterancePerSpeechRegion(t *testing.T) {
	t.Parallel()
	s := newSegmenter(t, defaultConfig(), markerClassifier())

	// 2.5 s of speech then 1.0 s of silence; threshold is 900/30 = 30 frames.
	got := slices.Collect(s.Process(stream(83, 33)))
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	// Segment closes on the 31st silent frame; silent frames are buffered too.
	if want := (83 + 31) * frameBytes / 2; len(got[0].Samples) != want {
		t.Errorf("utterance has %d samples, want %d", len(got[0].Samples), want)
	}
	if got[0].SampleRate != rate {
		t.Errorf("SampleRate = %d, want %d", got[0].SampleRate, rate)
	}
	if s.State() != segment.StateIdle {
		t.Errorf("state after close = %v, want IDLE", s.State())
	}
}

func TestProcess_ShortSegmentDiscarded(t *testing.T) {
	t.Parallel()
	s := newSegmenter(t, defaultConfig(), markerClassifier())

	// 0.5 s of speech is well under the 16000-sample minimum at 8 kHz.
	got := slices.Collect(s.Process(stream(17, 33)))
	if len(got) != 0 {
		t.Fatalf("got %d utterances, want 0", len(got))
	}
	if st := s.Stats(); st.Discarded != 1 || st.Emitted != 0 {
		t.Errorf("stats = %+v, want 1 discarded", st)
	}
	if s.State() != segment.StateIdle {
		t.Errorf("state = %v, want IDLE", s.State())
	}
}

func TestProcess_NeverEmitsBelowMinimum(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.MinSpeechMs = 1500
	s := newSegmenter(t, cfg, markerClassifier())
	minSamples := rate * cfg.MinSpeechMs / 1000

	// Speech runs from 1 to 60 frames, each closed by silence.
	for n := 1; n <= 60; n++ {
		for u := range s.Process(stream(n, 31)) {
			if len(u.Samples) <= minSamples {
				t.Fatalf("speech run %d: emitted %d samples, minimum is %d", n, len(u.Samples), minSamples)
			}
		}
	}
}

func TestProcess_SilenceAtThresholdKeepsSegmentOpen(t *testing.T) {
	t.Parallel()
	s := newSegmenter(t, defaultConfig(), markerClassifier())

	// Exactly 30 silent frames is not more than the threshold.
	if got := slices.Collect(s.Process(stream(80, 30))); len(got) != 0 {
		t.Fatalf("got %d utterances, want 0", len(got))
	}
	if s.State() != segment.StateTriggered {
		t.Fatalf("state = %v, want TRIGGERED", s.State())
	}
	// Speech resumes and resets the counter.
	if got := slices.Collect(s.Process(stream(1, 30))); len(got) != 0 {
		t.Fatalf("got %d utterances after resumed speech, want 0", len(got))
	}
	got := slices.Collect(s.Process(silenceFrame()))
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	if want := (80 + 30 + 1 + 30 + 1) * frameBytes / 2; len(got[0].Samples) != want {
		t.Errorf("utterance has %d samples, want %d", len(got[0].Samples), want)
	}
}

func TestProcess_StreamsAcrossCalls(t *testing.T) {
	t.Parallel()
	s := newSegmenter(t, defaultConfig(), markerClassifier())
	data := stream(83, 33)

	// Feed in awkward chunk sizes that never line up with frame boundaries.
	var got []audio.Utterance
	for off := 0; off < len(data); off += 77 {
		end := min(off+77, len(data))
		got = append(got, slices.Collect(s.Process(data[off:end]))...)
	}
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	if want := (83 + 31) * frameBytes / 2; len(got[0].Samples) != want {
		t.Errorf("utterance has %d samples, want %d", len(got[0].Samples), want)
	}
}

func TestProcess_OrderPreserved(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.MinSpeechMs = 100
	s := newSegmenter(t, cfg, markerClassifier())

	// Two regions of different lengths.
	data := append(stream(10, 31), stream(20, 31)...)
	got := slices.Collect(s.Process(data))
	if len(got) != 2 {
		t.Fatalf("got %d utterances, want 2", len(got))
	}
	if len(got[0].Samples) >= len(got[1].Samples) {
		t.Errorf("utterances out of order: %d then %d samples", len(got[0].Samples), len(got[1].Samples))
	}
}

func TestProcess_ClassifierErrorDropsFrame(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	calls := 0
	c := &mock.Classifier{Func: func(frame []byte, _ int) (bool, error) {
		calls++
		if calls%10 == 0 {
			return false, boom
		}
		return frame[0] == speechMarker, nil
	}}
	s := newSegmenter(t, defaultConfig(), c)

	got := slices.Collect(s.Process(stream(90, 40)))
	if len(got) != 1 {
		t.Fatalf("got %d utterances, want 1", len(got))
	}
	// 9 of the first 90 speech frames failed and were dropped.
	if want := (81 + 31) * frameBytes / 2; len(got[0].Samples) != want {
		t.Errorf("utterance has %d samples, want %d", len(got[0].Samples), want)
	}
	if st := s.Stats(); st.ClassifierErrors == 0 {
		t.Error("classifier errors not counted")
	}
}

func TestProcess_EarlyBreakKeepsRemainingFrames(t *testing.T) {
	t.Parallel()
	cfg := defaultConfig()
	cfg.MinSpeechMs = 100
	s := newSegmenter(t, cfg, markerClassifier())

	data := append(stream(10, 31), stream(20, 31)...)
	for range s.Process(data) {
		break
	}
	got := slices.Collect(s.Process(nil))
	if len(got) != 1 {
		t.Fatalf("got %d utterances after resuming, want 1", len(got))
	}
	if want := (20 + 31) * frameBytes / 2; len(got[0].Samples) != want {
		t.Errorf("second utterance has %d samples, want %d", len(got[0].Samples), want)
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()
	s := newSegmenter(t, defaultConfig(), markerClassifier())

	if _, ok := s.Flush(); ok {
		t.Fatal("Flush on idle segmenter returned an utterance")
	}

	// Trailing speech with no closing silence.
	if got := slices.Collect(s.Process(stream(70, 5))); len(got) != 0 {
		t.Fatalf("got %d utterances before flush, want 0", len(got))
	}
	u, ok := s.Flush()
	if !ok {
		t.Fatal("Flush did not return the open segment")
	}
	if want := 75 * frameBytes / 2; len(u.Samples) != want {
		t.Errorf("flushed %d samples, want %d", len(u.Samples), want)
	}
	if s.State() != segment.StateIdle {
		t.Errorf("state after flush = %v, want IDLE", s.State())
	}

	// A short open segment is discarded on flush.
	_ = slices.Collect(s.Process(stream(3, 0)))
	if _, ok := s.Flush(); ok {
		t.Error("Flush emitted a segment below the minimum")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	s := newSegmenter(t, defaultConfig(), markerClassifier())
	_ = slices.Collect(s.Process(append(stream(70, 0), 1, 2, 3)))
	s.Reset()
	if s.State() != segment.StateIdle {
		t.Errorf("state = %v, want IDLE", s.State())
	}
	if _, ok := s.Flush(); ok {
		t.Error("Flush after Reset returned an utterance")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	if segment.StateIdle.String() != "IDLE" || segment.StateTriggered.String() != "TRIGGERED" {
		t.Error("unexpected state names")
	}
	if segment.State(7).String() != "UNKNOWN" {
		t.Error("unknown state should stringify as UNKNOWN")
	}
}
