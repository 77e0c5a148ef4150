// Package vad defines the Classifier interface for voice activity detection
// backends.
//
// A Classifier makes a binary speech / non-speech decision for a single frame
// of 16-bit little-endian mono PCM. It holds no per-stream state: the
// segmenter owns all smoothing and hangover logic, so one Classifier may be
// shared by any number of streams.
//
// Classify may fail on malformed input (wrong frame length, unsupported
// sample rate). Callers treat an error as "non-speech" and drop the frame.
package vad

// Classifier decides whether a PCM frame contains speech.
//
// Implementations must be safe for concurrent use.
type Classifier interface {
	// Classify reports whether frame contains speech. frame must be
	// little-endian signed 16-bit mono PCM sampled at sampleRate. Returns an
	// error if the frame cannot be classified; see [ValidateFrame].
	Classify(frame []byte, sampleRate int) (bool, error)
}
