package pipeline

import (
	"context"
	"fmt"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/pkg/audio"
)

// Feeder turns wire frames into queued utterances: decode, segment, put.
// It owns its segmenter and must be driven by a single goroutine.
type Feeder struct {
	codec   audio.Codec
	seg     *segment.Segmenter
	out     *Queue[audio.Utterance]
	metrics *observe.Metrics

	seen segment.Stats
}

// NewFeeder returns a Feeder. The segmenter must run at the wire sample
// rate: frames are decoded, never resampled.
func NewFeeder(codec audio.Codec, seg *segment.Segmenter, out *Queue[audio.Utterance], m *observe.Metrics) (*Feeder, error) {
	if wire := codec.Format().SampleRate; wire != seg.SampleRate() {
		return nil, fmt.Errorf("pipeline: segmenter runs at %d Hz but the wire carries %d Hz", seg.SampleRate(), wire)
	}
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Feeder{codec: codec, seg: seg, out: out, metrics: m}, nil
}

// Feed segments one wire frame and puts every utterance it closes, in order.
// It returns the first Put error.
func (f *Feeder) Feed(ctx context.Context, frame []byte) error {
	defer f.record(ctx)
	for u := range f.seg.Process(f.codec.DecodePCM(frame)) {
		if err := f.put(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// Flush closes the open segment, if any, and puts it when it is long enough.
func (f *Feeder) Flush(ctx context.Context) error {
	defer f.record(ctx)
	if u, ok := f.seg.Flush(); ok {
		return f.put(ctx, u)
	}
	return nil
}

// Out returns the queue utterances are put on.
func (f *Feeder) Out() *Queue[audio.Utterance] { return f.out }

func (f *Feeder) put(ctx context.Context, u audio.Utterance) error {
	f.metrics.RecordUtterance(ctx, true, u.Duration().Seconds())
	observe.Logger(ctx).Debug("pipeline: utterance emitted",
		"samples", len(u.Samples),
		"duration", u.Duration(),
	)
	return f.out.Put(ctx, u)
}

// record reports segmenter counters that moved since the last call.
func (f *Feeder) record(ctx context.Context) {
	st := f.seg.Stats()
	for range st.Discarded - f.seen.Discarded {
		f.metrics.RecordUtterance(ctx, false, 0)
	}
	for range st.ClassifierErrors - f.seen.ClassifierErrors {
		f.metrics.RecordFrameDropped(ctx, "classifier")
	}
	f.seen = st
}
