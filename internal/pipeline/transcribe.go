package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// Transcription turns utterances into caller text. Results that fail the
// confidence thresholds are dropped as "no speech"; provider errors drop the
// utterance and are logged.
type Transcription struct {
	stt     stt.Provider
	in      *Queue[audio.Utterance]
	out     *Queue[string]
	metrics *observe.Metrics

	thresholds atomic.Pointer[stt.Thresholds]
}

// NewTranscription returns a Transcription stage.
func NewTranscription(p stt.Provider, th stt.Thresholds, in *Queue[audio.Utterance], out *Queue[string], m *observe.Metrics) *Transcription {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	t := &Transcription{stt: p, in: in, out: out, metrics: m}
	t.SetThresholds(th)
	return t
}

// SetThresholds replaces the acceptance thresholds. Safe to call while the
// stage runs.
func (t *Transcription) SetThresholds(th stt.Thresholds) {
	t.thresholds.Store(&th)
}

// Thresholds returns the thresholds in effect.
func (t *Transcription) Thresholds() stt.Thresholds {
	return *t.thresholds.Load()
}

// Name implements [Stage].
func (t *Transcription) Name() string { return "transcription" }

// Run implements [Stage].
func (t *Transcription) Run(ctx context.Context) error {
	defer t.in.PutShutdown()
	defer t.out.PutShutdown()
	log := observe.Logger(ctx)

	for {
		msg, err := t.in.Get(ctx)
		if err != nil {
			return err
		}
		u, ok := msg.Payload()
		if !ok {
			return nil
		}

		start := time.Now()
		res, err := t.stt.Transcribe(ctx, u.Samples, u.SampleRate)
		t.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			t.metrics.RecordProviderError(ctx, "stt", "transcribe")
			log.Warn("pipeline: transcription failed", "err", err)
			continue
		}

		if th := t.Thresholds(); !th.Accept(res) {
			t.metrics.TranscriptionsRejected.Add(ctx, 1)
			log.Info("pipeline: transcription rejected",
				"avg_logprob", res.AvgLogProb(),
				"no_speech_prob", res.NoSpeechProb(),
			)
			continue
		}
		log.Info("pipeline: caller said", "text", res.Text, "language", res.Language)

		if err := t.out.Put(ctx, res.Text); err != nil && !errors.Is(err, ErrQueueShutdown) {
			return err
		}
	}
}
