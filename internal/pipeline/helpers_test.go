package pipeline_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/segment"
	"github.com/MrWong99/parley/pkg/provider/vad/mock"
)

const (
	rate       = 16000
	frameMs    = 30
	frameBytes = rate * frameMs / 1000 * 2 // 960
)

// speechMarker in the first byte labels a frame as speech for markerClassifier.
const speechMarker = 0x7F

func speechFrame() []byte {
	f := make([]byte, frameBytes)
	f[0] = speechMarker
	return f
}

func silenceFrame() []byte { return make([]byte, frameBytes) }

// frames returns speech speech frames followed by silence silence frames.
func frames(speech, silence int) [][]byte {
	out := make([][]byte, 0, speech+silence)
	for range speech {
		out = append(out, speechFrame())
	}
	for range silence {
		out = append(out, silenceFrame())
	}
	return out
}

func markerClassifier() *mock.Classifier {
	return &mock.Classifier{Func: func(frame []byte, _ int) (bool, error) {
		return frame[0] == speechMarker, nil
	}}
}

// newSegmenter returns a 16 kHz segmenter closing after 300 ms of silence and
// keeping segments longer than 300 ms.
func newSegmenter(t *testing.T, c *mock.Classifier) *segment.Segmenter {
	t.Helper()
	seg, err := segment.New(segment.Config{
		SampleRate:  rate,
		FrameMs:     frameMs,
		SilenceMs:   300,
		MinSpeechMs: 300,
	}, c)
	if err != nil {
		t.Fatalf("segment.New: %v", err)
	}
	return seg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}
