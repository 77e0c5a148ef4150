package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueShutdown is returned by [Queue.Put] once the sentinel has been
// pushed. The value is not enqueued.
var ErrQueueShutdown = errors.New("pipeline: queue shut down")

// DefaultQueueSize is the buffer used when a queue is created with size <= 0.
const DefaultQueueSize = 64

// Queue is a bounded FIFO between two stages. It is safe for concurrent use
// by any number of producers and one consumer.
//
// The sentinel is carried out of band: [Queue.PutShutdown] never blocks,
// may be called any number of times and takes effect once. The consumer
// receives every value put before it, then the sentinel.
type Queue[T any] struct {
	name string
	ch   chan T

	once sync.Once
	done chan struct{}
}

// NewQueue returns an empty queue buffering up to size values.
func NewQueue[T any](name string, size int) *Queue[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue[T]{
		name: name,
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}
}

// Name returns the queue name used in logs.
func (q *Queue[T]) Name() string { return q.name }

// Put appends v, blocking while the queue is full. It returns
// [ErrQueueShutdown] if the sentinel has been pushed and ctx.Err() if ctx is
// done first.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrQueueShutdown
	default:
	}
	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrQueueShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PutShutdown pushes the sentinel.
func (q *Queue[T]) PutShutdown() {
	q.once.Do(func() { close(q.done) })
}

// IsShutdown reports whether the sentinel has been pushed.
func (q *Queue[T]) IsShutdown() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Get removes and returns the oldest message, blocking until a value or the
// sentinel is available. Values put before the sentinel are always returned
// first. It returns ctx.Err() if ctx is done first.
func (q *Queue[T]) Get(ctx context.Context) (Message[T], error) {
	select {
	case v := <-q.ch:
		return Data(v), nil
	default:
	}
	select {
	case v := <-q.ch:
		return Data(v), nil
	case <-q.done:
		select {
		case v := <-q.ch:
			return Data(v), nil
		default:
			return Shutdown[T](), nil
		}
	case <-ctx.Done():
		return Message[T]{}, ctx.Err()
	}
}

// Len returns the number of buffered values.
func (q *Queue[T]) Len() int { return len(q.ch) }
