package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// errNoVoiceList is returned by a backend that cannot list voices.
var errNoVoiceList = errors.New("resilience: provider cannot list voices")

// TTSFallback implements [tts.Provider] and [tts.VoiceLister] with failover
// across synthesis backends.
//
// Voice IDs are backend specific, so a fallback may reject the primary's
// voice and fall through to the next entry.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var (
	_ tts.Provider    = (*TTSFallback)(nil)
	_ tts.VoiceLister = (*TTSFallback)(nil)
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	cfg.Kind = "tts"
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesis backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text, language, voiceID string) (audio.Waveform, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (audio.Waveform, error) {
		return p.Synthesize(ctx, text, language, voiceID)
	})
}

// ListVoices returns the voices of the first healthy backend that can list
// them.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]tts.Voice, error) {
		vl, ok := p.(tts.VoiceLister)
		if !ok {
			return nil, errNoVoiceList
		}
		return vl.ListVoices(ctx)
	})
}
