// Package opus wraps the gopus codec for mono voice streams carried over the
// websocket media transport.
//
// Opus packets are decoded into 16-bit PCM at the stream's sample rate and
// PCM is encoded back in fixed 20 ms frames. A Decoder or Encoder keeps codec
// state across packets, so each stream direction needs its own instance.
package opus

import (
	"fmt"

	"github.com/MrWong99/parley/pkg/audio"
	"layeh.com/gopus"
)

// FrameMs is the Opus frame duration used for encoding.
const FrameMs = 20

// maxPacketBytes bounds the size of one encoded packet.
const maxPacketBytes = 4000

// ValidSampleRate reports whether Opus can run natively at rate.
func ValidSampleRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// FrameSamples returns the number of samples in one 20 ms frame at rate.
func FrameSamples(rate int) int {
	return rate * FrameMs / 1000
}

// Decoder turns Opus packets into mono 16-bit PCM.
type Decoder struct {
	dec  *gopus.Decoder
	rate int
}

// NewDecoder returns a mono decoder producing PCM at sampleRate.
func NewDecoder(sampleRate int) (*Decoder, error) {
	if !ValidSampleRate(sampleRate) {
		return nil, fmt.Errorf("opus: unsupported sample rate %d", sampleRate)
	}
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, rate: sampleRate}, nil
}

// Decode decodes one packet to little-endian 16-bit PCM.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	// 120 ms is the longest frame an Opus packet can carry.
	pcm, err := d.dec.Decode(packet, d.rate*120/1000, false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Int16ToBytes(pcm), nil
}

// Encoder turns mono 16-bit PCM into 20 ms Opus packets. PCM that does not
// fill a whole frame is held until the next call.
type Encoder struct {
	enc     *gopus.Encoder
	frame   int
	pending []int16
}

// NewEncoder returns a mono voice encoder for PCM at sampleRate.
func NewEncoder(sampleRate int) (*Encoder, error) {
	if !ValidSampleRate(sampleRate) {
		return nil, fmt.Errorf("opus: unsupported sample rate %d", sampleRate)
	}
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, frame: FrameSamples(sampleRate)}, nil
}

// Encode appends pcm to the pending buffer and returns one packet per
// complete frame.
func (e *Encoder) Encode(pcm []int16) ([][]byte, error) {
	e.pending = append(e.pending, pcm...)
	var packets [][]byte
	for len(e.pending) >= e.frame {
		pkt, err := e.enc.Encode(e.pending[:e.frame], e.frame, maxPacketBytes)
		if err != nil {
			return packets, fmt.Errorf("opus: encode: %w", err)
		}
		packets = append(packets, pkt)
		e.pending = e.pending[e.frame:]
	}
	return packets, nil
}

// Flush zero-pads any held samples to a full frame and encodes it.
// It returns nil when nothing is pending.
func (e *Encoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	frame := make([]int16, e.frame)
	copy(frame, e.pending)
	e.pending = e.pending[:0]
	pkt, err := e.enc.Encode(frame, e.frame, maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}
