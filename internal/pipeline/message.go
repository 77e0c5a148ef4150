// Package pipeline wires the voice stages together with point-to-point
// queues and shuts them down in order.
//
// Every queue carries [Message] values that are either data or the shutdown
// sentinel. A stage reads its input until the sentinel arrives, forwards the
// sentinel to its output and returns, so a sentinel pushed into the first
// queue walks the whole chain:
//
//	capture → utterances → transcription → texts → response → replies
//	        → synthesis → waveforms → playback
//
// The [Orchestrator] runs the stages, starts the shutdown walk and joins the
// stages with a bounded timeout.
package pipeline

// Message is one item read from a [Queue]: either a payload or the shutdown
// sentinel. The zero value is a data message holding the zero payload.
type Message[T any] struct {
	payload  T
	shutdown bool
}

// Data wraps v in a data message.
func Data[T any](v T) Message[T] {
	return Message[T]{payload: v}
}

// Shutdown returns the sentinel.
func Shutdown[T any]() Message[T] {
	return Message[T]{shutdown: true}
}

// IsShutdown reports whether m is the sentinel.
func (m Message[T]) IsShutdown() bool { return m.shutdown }

// Payload returns the carried value. ok is false for the sentinel.
func (m Message[T]) Payload() (v T, ok bool) {
	if m.shutdown {
		return v, false
	}
	return m.payload, true
}
