package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/MrWong99/parley/internal/echo"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
)

// Capture is the microphone-mode source stage. It reads frames from a local
// transport and feeds them to the segmenter, except while the busy flag is
// set: then frames are read and discarded so the assistant never transcribes
// its own open-air playback.
type Capture struct {
	tr      audio.Transport
	feeder  *Feeder
	busy    *echo.BusyFlag
	metrics *observe.Metrics

	stopped atomic.Bool
}

// NewCapture returns a Capture reading tr. busy may be nil.
func NewCapture(tr audio.Transport, feeder *Feeder, busy *echo.BusyFlag, m *observe.Metrics) *Capture {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Capture{tr: tr, feeder: feeder, busy: busy, metrics: m}
}

// Name implements [Stage].
func (c *Capture) Name() string { return "capture" }

// Stop implements [Source]. The stage exits after its current read.
func (c *Capture) Stop() { c.stopped.Store(true) }

// Run implements [Stage]. When the transport ends or the stage is stopped,
// trailing speech is flushed before the sentinel is pushed.
func (c *Capture) Run(ctx context.Context) error {
	out := c.feeder.Out()
	defer out.PutShutdown()

	for !c.stopped.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := c.tr.ReadFrame()
		if err != nil {
			if errors.Is(err, audio.ErrCallEnded) || errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("capture: read frame: %w", err)
		}
		if frame == nil {
			continue
		}
		if c.busy != nil && c.busy.IsSet() {
			c.metrics.RecordFrameDropped(ctx, "busy")
			continue
		}
		if err := c.feeder.Feed(ctx, frame); err != nil {
			if errors.Is(err, ErrQueueShutdown) {
				return nil
			}
			return fmt.Errorf("capture: %w", err)
		}
	}

	if err := c.feeder.Flush(ctx); err != nil && !errors.Is(err, ErrQueueShutdown) {
		return fmt.Errorf("capture: flush: %w", err)
	}
	return nil
}
