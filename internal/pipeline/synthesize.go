package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Synthesis turns reply text into waveforms, one per sentence, so playback
// can start before the whole reply has been rendered.
type Synthesis struct {
	tts      tts.Provider
	language string
	voice    string
	in       *Queue[string]
	out      *Queue[audio.Waveform]
	metrics  *observe.Metrics
}

// NewSynthesis returns a Synthesis stage speaking language (an ISO code such
// as "de") with voice.
func NewSynthesis(p tts.Provider, language, voice string, in *Queue[string], out *Queue[audio.Waveform], m *observe.Metrics) *Synthesis {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Synthesis{tts: p, language: language, voice: voice, in: in, out: out, metrics: m}
}

// Name implements [Stage].
func (s *Synthesis) Name() string { return "synthesis" }

// Run implements [Stage].
func (s *Synthesis) Run(ctx context.Context) error {
	defer s.in.PutShutdown()
	defer s.out.PutShutdown()
	log := observe.Logger(ctx)

	for {
		msg, err := s.in.Get(ctx)
		if err != nil {
			return err
		}
		text, ok := msg.Payload()
		if !ok {
			return nil
		}

		for _, sentence := range tts.SplitSentences(text) {
			start := time.Now()
			w, err := s.tts.Synthesize(ctx, sentence, s.language, s.voice)
			s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
			if err != nil {
				s.metrics.RecordProviderError(ctx, "tts", "synthesize")
				log.Warn("pipeline: synthesis failed", "sentence", sentence, "err", err)
				continue
			}
			if len(w.Samples) == 0 {
				continue
			}
			if err := s.out.Put(ctx, w); err != nil {
				if errors.Is(err, ErrQueueShutdown) {
					break
				}
				return err
			}
		}
	}
}
