package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/observe"
)

// ErrJoinTimeout is returned by [Orchestrator.Shutdown] when stages are still
// running after the join timeout. The message names them.
var ErrJoinTimeout = errors.New("pipeline: stages still running after join timeout")

// DefaultJoinTimeout bounds how long Shutdown waits for the stages.
const DefaultJoinTimeout = 5 * time.Second

// Config configures an [Orchestrator].
type Config struct {
	// First is the queue the shutdown sentinel is pushed into. It may be nil
	// when every stage is a [Source] or the queue is fed from outside.
	First Shutdowner

	// JoinTimeout bounds Shutdown. Zero selects DefaultJoinTimeout.
	JoinTimeout time.Duration

	// Metrics records stage failures. Nil selects observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Orchestrator runs a set of stages and shuts them down by sentinel.
//
// Stages run until they see the sentinel; cancelling the context passed to
// [Orchestrator.Start] does not stop them. After the join timeout Shutdown
// cancels their context, which releases every stage blocked on a queue or a
// provider call. A stage stuck in a blocking transport read cannot be
// reclaimed; the caller is expected to exit the process in that case.
type Orchestrator struct {
	first       Shutdowner
	joinTimeout time.Duration
	metrics     *observe.Metrics

	stages  []Stage
	sources []Source

	mu      sync.Mutex
	alive   map[string]bool
	started bool
	cancel  context.CancelFunc

	g    errgroup.Group
	done chan struct{}
	err  error
}

// NewOrchestrator returns an Orchestrator for cfg with no stages.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		first:       cfg.First,
		joinTimeout: cfg.JoinTimeout,
		metrics:     cfg.Metrics,
		alive:       make(map[string]bool),
		done:        make(chan struct{}),
	}
}

// Add registers stages. It must be called before Start. Stage names must be
// unique.
func (o *Orchestrator) Add(stages ...Stage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range stages {
		o.stages = append(o.stages, s)
		if src, ok := s.(Source); ok {
			o.sources = append(o.sources, src)
		}
	}
}

// Start launches every stage on its own goroutine and returns immediately.
// Values in ctx (such as the call ID) reach the stages; its cancellation does
// not.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("pipeline: orchestrator already started")
	}
	if len(o.stages) == 0 {
		return errors.New("pipeline: no stages")
	}
	o.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	log := observe.Logger(ctx)

	for _, s := range o.stages {
		o.alive[s.Name()] = true
		o.g.Go(func() error {
			err := runStage(runCtx, s)
			o.mu.Lock()
			delete(o.alive, s.Name())
			o.mu.Unlock()
			if err != nil {
				o.metrics.RecordStageFailure(runCtx, s.Name())
				log.Error("pipeline: stage failed", "stage", s.Name(), "err", err)
				return err
			}
			log.Debug("pipeline: stage finished", "stage", s.Name())
			return nil
		})
	}
	go func() {
		o.err = o.g.Wait()
		cancel()
		close(o.done)
	}()
	log.Info("pipeline: started", "stages", len(o.stages))
	return nil
}

// Shutdown stops the sources, pushes the sentinel into the first queue and
// waits for every stage to finish. If they have not finished within the join
// timeout, or ctx ends first, the stages' context is cancelled and an error
// wrapping [ErrJoinTimeout] lists the stages that were still running.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return nil
	}

	for _, src := range o.sources {
		src.Stop()
	}
	if o.first != nil {
		o.first.PutShutdown()
	}

	timer := time.NewTimer(o.joinTimeout)
	defer timer.Stop()
	select {
	case <-o.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	alive := o.Alive()
	o.cancel()
	slog.Warn("pipeline: join timed out, cancelling stages",
		"timeout", o.joinTimeout,
		"alive", alive,
	)
	return fmt.Errorf("%w: %s", ErrJoinTimeout, strings.Join(alive, ", "))
}

// Wait blocks until every stage has returned and reports the first stage
// error. It returns nil immediately if Start was never called.
func (o *Orchestrator) Wait() error {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	if !started {
		return nil
	}
	<-o.done
	return o.err
}

// Done returns a channel that is closed when every stage has returned.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Alive returns the names of the stages still running, sorted.
func (o *Orchestrator) Alive() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.alive))
	for n := range o.alive {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
