package stt

import (
	"strings"
	"time"
)

// Segment is one contiguous piece of a transcription as reported by the
// model, together with its confidence figures.
type Segment struct {
	Text string

	// AvgLogProb is the mean log-probability of the segment's tokens. Values
	// close to zero indicate a confident decode.
	AvgLogProb float64

	// NoSpeechProb is the model's estimate that the segment contains no
	// speech at all. Providers that cannot report it leave it at zero.
	NoSpeechProb float64

	Start time.Duration
	End   time.Duration
}

// Result is the outcome of one Transcribe call.
type Result struct {
	// Text is the full transcription.
	Text string

	// Language is the language the model detected or was told to use. May be
	// empty.
	Language string

	// Segments holds per-segment detail. May be empty when the backend does
	// not report segments, in which case [Thresholds.Accept] rejects the
	// result.
	Segments []Segment

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// AvgLogProb returns the mean of the segments' average log-probabilities, or
// -1.0 when there are no segments or r is nil.
func (r *Result) AvgLogProb() float64 {
	if r == nil || len(r.Segments) == 0 {
		return -1.0
	}
	var sum float64
	for _, s := range r.Segments {
		sum += s.AvgLogProb
	}
	return sum / float64(len(r.Segments))
}

// NoSpeechProb returns the first segment's no-speech probability, or 1.0 when
// there are no segments or r is nil.
func (r *Result) NoSpeechProb() float64 {
	if r == nil || len(r.Segments) == 0 {
		return 1.0
	}
	return r.Segments[0].NoSpeechProb
}

// Thresholds decide whether a transcription is trustworthy enough to act on.
// The figures depend on the model that produced the result; the defaults are
// tuned for Whisper.
type Thresholds struct {
	// MinAvgLogProb is the lowest acceptable [Result.AvgLogProb].
	MinAvgLogProb float64

	// MaxNoSpeechProb is the highest acceptable [Result.NoSpeechProb].
	MaxNoSpeechProb float64
}

// DefaultThresholds returns the thresholds tuned for Whisper models.
func DefaultThresholds() Thresholds {
	return Thresholds{MinAvgLogProb: -0.8, MaxNoSpeechProb: 0.6}
}

// Accept reports whether r carries usable speech: non-empty text, a mean
// log-probability of at least MinAvgLogProb and a no-speech probability of at
// most MaxNoSpeechProb. A nil result is never accepted.
func (t Thresholds) Accept(r *Result) bool {
	if r == nil || strings.TrimSpace(r.Text) == "" {
		return false
	}
	return r.AvgLogProb() >= t.MinAvgLogProb && r.NoSpeechProb() <= t.MaxNoSpeechProb
}
