// Package audio defines the audio types, conversions and the transport
// contract shared by the segmentation and media-bridging pipeline.
//
// The primary abstraction is [Transport]: a blocking, frame-oriented duplex
// stream bound to one established call or one local audio device. Adapters
// live in internal/transport (SIP/RTP, websocket media streams, local PCM).
//
// Everything on the wire is described by a [WireFormat]; a [Codec] converts
// between it and the signed 16-bit PCM the segmenter consumes.
//
// This package lives under pkg/ because external code is expected to
// implement [Transport].
package audio

import "errors"

// ErrCallEnded is returned by [Transport.ReadFrame] and [Transport.WriteFrame]
// once the underlying call or stream has terminated.
var ErrCallEnded = errors.New("audio: call ended")

// Transport reads and writes fixed-size mono frames on an established call.
//
// ReadFrame blocks until a frame is available and returns exactly
// Format().FrameBytes(frameMs) bytes for the frame duration the transport was
// opened with. A nil frame with a nil error means nothing was available and
// the caller should retry. WriteFrame blocks until the transport has buffer
// space; it accepts any length.
//
// Both methods return [ErrCallEnded] (possibly wrapped) once the call is over.
// Implementations must be safe for one concurrent reader and one concurrent
// writer.
type Transport interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Format() WireFormat
}
