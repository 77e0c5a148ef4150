package vad

import (
	"errors"
	"fmt"
)

// ErrInvalidFrame is wrapped by errors describing a frame that cannot be
// classified.
var ErrInvalidFrame = errors.New("vad: invalid frame")

// MinAggressiveness and MaxAggressiveness bound the aggressiveness level. Higher
// levels reject more non-speech at the cost of clipping quiet speech.
const (
	MinAggressiveness = 0
	MaxAggressiveness = 3
)

// ValidSampleRate reports whether rate is one the classifiers accept.
func ValidSampleRate(rate int) bool {
	switch rate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

// ValidFrameMs reports whether ms is an accepted frame duration.
func ValidFrameMs(ms int) bool {
	return ms == 10 || ms == 20 || ms == 30
}

// ValidateFrame checks that frame is a whole 10, 20 or 30 ms frame of 16-bit
// PCM at a supported sample rate. Errors wrap [ErrInvalidFrame].
func ValidateFrame(frame []byte, sampleRate int) error {
	if !ValidSampleRate(sampleRate) {
		return fmt.Errorf("%w: unsupported sample rate %d", ErrInvalidFrame, sampleRate)
	}
	bytesPerMs := sampleRate / 1000 * 2
	if len(frame) == 0 || len(frame)%bytesPerMs != 0 || !ValidFrameMs(len(frame)/bytesPerMs) {
		return fmt.Errorf("%w: %d bytes is not a 10, 20 or 30 ms frame at %d Hz", ErrInvalidFrame, len(frame), sampleRate)
	}
	return nil
}
