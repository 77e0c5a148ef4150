package audio

import (
	"fmt"
	"time"
)

// Encoding names the sample encoding a transport puts on the wire.
type Encoding string

const (
	// EncodingU8 is unsigned 8-bit linear PCM (silence at 128).
	EncodingU8 Encoding = "u8"

	// EncodingS8 is signed 8-bit linear PCM.
	EncodingS8 Encoding = "s8"

	// EncodingS16LE is signed 16-bit little-endian linear PCM.
	EncodingS16LE Encoding = "s16le"

	// EncodingMuLaw is ITU-T G.711 μ-law (PCMU).
	EncodingMuLaw Encoding = "mulaw"

	// EncodingALaw is ITU-T G.711 A-law (PCMA).
	EncodingALaw Encoding = "alaw"
)

// IsValid reports whether e is a known encoding.
func (e Encoding) IsValid() bool {
	switch e {
	case EncodingU8, EncodingS8, EncodingS16LE, EncodingMuLaw, EncodingALaw:
		return true
	}
	return false
}

// BytesPerSample returns the number of wire bytes one mono sample occupies.
func (e Encoding) BytesPerSample() int {
	if e == EncodingS16LE {
		return 2
	}
	return 1
}

// WireFormat describes the mono audio a transport reads and writes.
// It is fixed for the lifetime of a call.
type WireFormat struct {
	Encoding   Encoding
	SampleRate int
}

// Validate returns an error if the format cannot be encoded or decoded.
func (f WireFormat) Validate() error {
	if !f.Encoding.IsValid() {
		return fmt.Errorf("audio: unknown encoding %q", f.Encoding)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	return nil
}

// FrameBytes returns the wire size of one frame of frameMs milliseconds.
func (f WireFormat) FrameBytes(frameMs int) int {
	return f.SampleRate * frameMs / 1000 * f.Encoding.BytesPerSample()
}

// String returns a human-readable description, e.g. "mulaw@8000Hz".
func (f WireFormat) String() string {
	return fmt.Sprintf("%s@%dHz", f.Encoding, f.SampleRate)
}

// Utterance is one contiguous speech segment as emitted by the segmenter:
// mono signed 16-bit samples at SampleRate.
type Utterance struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the playing time of the utterance.
func (u Utterance) Duration() time.Duration {
	return samplesDuration(len(u.Samples), u.SampleRate)
}

// Waveform is synthesized speech: mono float samples in [-1, 1] at the
// synthesizer's native SampleRate.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playing time of the waveform.
func (w Waveform) Duration() time.Duration {
	return samplesDuration(len(w.Samples), w.SampleRate)
}

func samplesDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
