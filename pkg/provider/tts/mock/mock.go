// Package mock provides a test double for the tts.Provider interface.
//
// Provider returns a configurable waveform for every request and records the
// text, language and voice of each call so tests can verify what reached the
// synthesis backend.
//
// Example:
//
//	p := &mock.Provider{Waveform: audio.Waveform{Samples: make([]float32, 2205), SampleRate: 22050}}
//	w, _ := p.Synthesize(ctx, "Hello", "en", "Ana Florence")
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text     string
	Language string
	VoiceID  string
}

// Provider is a mock implementation of tts.Provider and tts.VoiceLister.
type Provider struct {
	mu sync.Mutex

	// Waveform is returned by every successful Synthesize call. Its sample
	// slice is cloned per call.
	Waveform audio.Waveform

	// SynthesizeErr, if non-nil, is returned from every Synthesize call.
	SynthesizeErr error

	// SynthesizeFunc, if set, overrides Waveform and SynthesizeErr.
	SynthesizeFunc func(ctx context.Context, text, language, voiceID string) (audio.Waveform, error)

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured waveform.
func (p *Provider) Synthesize(ctx context.Context, text, language, voiceID string) (audio.Waveform, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Language: language, VoiceID: voiceID})
	fn := p.SynthesizeFunc
	w, err := p.Waveform, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, language, voiceID)
	}
	if err != nil {
		return audio.Waveform{}, err
	}
	return audio.Waveform{Samples: slices.Clone(w.Samples), SampleRate: w.SampleRate}, nil
}

// ListVoices returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Voices), p.ListVoicesErr
}

// Calls returns a copy of the recorded Synthesize calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.SynthesizeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

var (
	_ tts.Provider    = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)
