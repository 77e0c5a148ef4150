package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across transcription
// backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Kind = "stt"
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcription backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe sends the utterance to the first healthy backend.
//
// A low-confidence result is still a success here; confidence filtering
// belongs to the caller.
func (f *STTFallback) Transcribe(ctx context.Context, samples []int16, sampleRate int) (*stt.Result, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, samples, sampleRate)
	})
}
