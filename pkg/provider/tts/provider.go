// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (a Coqui XTTS or standard
// Coqui server, the OpenAI speech API) and turns one piece of text into a
// mono float32 waveform at the model's native sample rate. Converting that
// waveform to a transport's wire format is the caller's job.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the given language (an ISO-639-1 code such
	// as "en") with the voice identified by voiceID. An empty voiceID selects
	// the provider default where the backend has one.
	//
	// Returns an error if the request fails or ctx is cancelled first.
	Synthesize(ctx context.Context, text, language, voiceID string) (audio.Waveform, error)
}

// VoiceLister is implemented by providers that can enumerate their voices.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}
