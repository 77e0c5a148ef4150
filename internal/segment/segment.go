// Package segment turns a stream of 16-bit PCM into discrete speech
// utterances.
//
// A [Segmenter] cuts incoming bytes into fixed-size frames, asks a
// [vad.Classifier] whether each frame is speech, and runs a two-state machine
// over the answers:
//
//	IDLE      + non-speech → drop frame
//	IDLE      + speech     → buffer frame, reset silence counter → TRIGGERED
//	TRIGGERED + speech     → buffer frame, reset silence counter
//	TRIGGERED + non-speech → buffer frame, bump silence counter
//
// Once the silence counter exceeds SilenceMs/FrameMs the segment closes. It is
// emitted as an [audio.Utterance] only if it holds more than the minimum
// number of speech samples; either way the machine returns to IDLE.
//
// A Segmenter is owned by exactly one goroutine and does no locking.
package segment

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// State is the segmenter's position in its state machine.
type State int

const (
	// StateIdle means no speech segment is open.
	StateIdle State = iota

	// StateTriggered means speech was detected and frames are being buffered.
	StateTriggered
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateTriggered:
		return "TRIGGERED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the segmentation parameters. Zero fields are replaced by the
// defaults below.
type Config struct {
	// SampleRate of the PCM fed to Process. Must be one the classifier
	// accepts (8000, 16000, 32000 or 48000).
	SampleRate int

	// Aggressiveness (0–3) configures the built-in energy classifier when no
	// classifier is supplied to [New]. Negative selects the default.
	Aggressiveness int

	// FrameMs is the classification frame duration: 10, 20 or 30.
	FrameMs int

	// SilenceMs is how much trailing non-speech closes a segment.
	SilenceMs int

	// MinSpeechMs is the shortest segment worth emitting.
	MinSpeechMs int
}

// Defaults.
const (
	DefaultAggressiveness = 3
	DefaultFrameMs        = 30
	DefaultSilenceMs      = 900
	DefaultMinSpeechMs    = 2000
)

// Stats counts what a Segmenter has done since it was created.
type Stats struct {
	Frames           int
	ClassifierErrors int
	Emitted          int
	Discarded        int
}

// Segmenter is the streaming voice-activity segmenter. Create one per stream
// with [New]; its state persists across [Segmenter.Process] calls.
type Segmenter struct {
	classifier vad.Classifier
	sampleRate int

	frameBytes             int
	silenceFramesThreshold int
	minSpeechSamples       int

	pending  []byte // bytes not yet cut into a frame
	frames   []byte // buffered frames of the open segment
	state    State
	silences int

	stats Stats
}

// New returns a Segmenter for cfg. If classifier is nil an energy classifier
// at cfg.Aggressiveness is used.
func New(cfg Config, classifier vad.Classifier) (*Segmenter, error) {
	if cfg.FrameMs == 0 {
		cfg.FrameMs = DefaultFrameMs
	}
	if cfg.SilenceMs == 0 {
		cfg.SilenceMs = DefaultSilenceMs
	}
	if cfg.MinSpeechMs == 0 {
		cfg.MinSpeechMs = DefaultMinSpeechMs
	}
	if cfg.Aggressiveness < 0 {
		cfg.Aggressiveness = DefaultAggressiveness
	}
	if !vad.ValidSampleRate(cfg.SampleRate) {
		return nil, fmt.Errorf("segment: unsupported sample rate %d", cfg.SampleRate)
	}
	if !vad.ValidFrameMs(cfg.FrameMs) {
		return nil, fmt.Errorf("segment: frame duration must be 10, 20 or 30 ms, got %d", cfg.FrameMs)
	}
	if cfg.SilenceMs < 0 || cfg.MinSpeechMs < 0 {
		return nil, fmt.Errorf("segment: silence_ms and min_speech_ms must not be negative")
	}
	if classifier == nil {
		c, err := energy.New(cfg.Aggressiveness)
		if err != nil {
			return nil, fmt.Errorf("segment: %w", err)
		}
		classifier = c
	}

	return &Segmenter{
		classifier:             classifier,
		sampleRate:             cfg.SampleRate,
		frameBytes:             cfg.SampleRate * cfg.FrameMs / 1000 * 2,
		silenceFramesThreshold: cfg.SilenceMs / cfg.FrameMs,
		minSpeechSamples:       cfg.SampleRate * cfg.MinSpeechMs / 1000,
	}, nil
}

// FrameBytes returns the size in bytes of one classification frame.
func (s *Segmenter) FrameBytes() int { return s.frameBytes }

// SampleRate returns the PCM sample rate Process expects.
func (s *Segmenter) SampleRate() int { return s.sampleRate }

// State returns the current state.
func (s *Segmenter) State() State { return s.state }

// Stats returns counters accumulated since creation.
func (s *Segmenter) Stats() Stats { return s.stats }

// Process appends pcm (16-bit little-endian mono) to the internal buffer and
// returns a sequence that classifies every complete frame and yields each
// utterance that closes. The bytes are taken immediately; frames are
// classified only while the sequence is iterated, so frames left unconsumed
// by an early break are handled by the next call.
func (s *Segmenter) Process(pcm []byte) iter.Seq[audio.Utterance] {
	s.pending = append(s.pending, pcm...)
	return func(yield func(audio.Utterance) bool) {
		for len(s.pending) >= s.frameBytes {
			frame := s.pending[:s.frameBytes]
			s.pending = s.pending[s.frameBytes:]
			if u, ok := s.step(frame); ok {
				if !yield(u) {
					return
				}
			}
		}
		s.compact()
	}
}

// Flush closes any open segment and returns it if it is long enough, then
// resets to IDLE. Bytes that do not fill a whole frame are kept.
func (s *Segmenter) Flush() (audio.Utterance, bool) {
	if s.state == StateIdle {
		return audio.Utterance{}, false
	}
	return s.close()
}

// Reset drops all buffered audio and returns to IDLE.
func (s *Segmenter) Reset() {
	s.pending = nil
	s.resetSegment()
}

func (s *Segmenter) step(frame []byte) (audio.Utterance, bool) {
	s.stats.Frames++
	speech, err := s.classifier.Classify(frame, s.sampleRate)
	if err != nil {
		s.stats.ClassifierErrors++
		slog.Debug("segment: classifier failed, dropping frame", "err", err)
		return audio.Utterance{}, false
	}

	if s.state == StateIdle {
		if speech {
			s.state = StateTriggered
			s.frames = append(s.frames, frame...)
			s.silences = 0
		}
		return audio.Utterance{}, false
	}

	s.frames = append(s.frames, frame...)
	if speech {
		s.silences = 0
		return audio.Utterance{}, false
	}
	s.silences++
	if s.silences > s.silenceFramesThreshold {
		return s.close()
	}
	return audio.Utterance{}, false
}

func (s *Segmenter) close() (audio.Utterance, bool) {
	samples := audio.BytesToInt16(s.frames)
	s.resetSegment()
	if len(samples) <= s.minSpeechSamples {
		s.stats.Discarded++
		slog.Debug("segment: discarding short segment",
			"samples", len(samples),
			"min_samples", s.minSpeechSamples,
		)
		return audio.Utterance{}, false
	}
	s.stats.Emitted++
	return audio.Utterance{Samples: samples, SampleRate: s.sampleRate}, true
}

func (s *Segmenter) resetSegment() {
	s.frames = nil
	s.state = StateIdle
	s.silences = 0
}

// compact moves leftover bytes to a fresh slice so the consumed prefix of a
// long-lived buffer can be collected.
func (s *Segmenter) compact() {
	if len(s.pending) == 0 {
		s.pending = nil
		return
	}
	s.pending = append([]byte(nil), s.pending...)
}
