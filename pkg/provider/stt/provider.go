// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (the OpenAI audio API,
// a local whisper.cpp server, or the whisper.cpp bindings loaded in-process)
// and turns one complete utterance into text. Utterance boundaries are decided
// upstream by the segmenter, so providers never see partial speech.
//
// Results carry per-segment confidence figures. Callers decide whether a
// result is usable with [Thresholds.Accept]; a rejected result means "no
// speech detected" and is not an error.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts mono 16-bit samples recorded at sampleRate into
	// text. Providers resample internally when their model requires a
	// specific rate. Returns an error if the request fails or ctx is
	// cancelled first.
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (*Result, error)
}
