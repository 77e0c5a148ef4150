package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/observe"
)

// Stage is one independently scheduled unit of the pipeline. Run returns nil
// after forwarding the shutdown sentinel, or an error if the stage had to
// stop early.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// Source is a stage whose input is not a queue (a transport read loop). Stop
// asks it to finish its current read and exit as if its input had ended.
type Source interface {
	Stage
	Stop()
}

// Shutdowner is anything a sentinel can be pushed into; every [Queue] is one.
type Shutdowner interface {
	PutShutdown()
}

// runStage runs s and turns a panic into an error so one crashing stage
// cannot take down the others.
func runStage(ctx context.Context, s Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline: stage %s panicked: %v\n%s", s.Name(), r, debug.Stack())
		}
	}()
	return s.Run(ctx)
}

func observeKind(kind string) metric.RecordOption {
	return metric.WithAttributes(observe.Attr("kind", kind))
}
