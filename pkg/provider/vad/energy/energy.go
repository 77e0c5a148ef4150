// Package energy provides a pure-Go [vad.Classifier] that labels frames by
// short-term energy and zero-crossing rate.
//
// A frame is speech when its normalised RMS level reaches the threshold for
// the configured aggressiveness and its zero-crossing rate stays below the
// matching ceiling (broadband hiss crosses zero far more often than voiced
// speech). The classifier is stateless; hangover is the segmenter's job.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Per-aggressiveness thresholds, indexed 0..3.
var (
	rmsThresholds = [4]float64{0.005, 0.010, 0.015, 0.025}
	zcrCeilings   = [4]float64{0.50, 0.45, 0.40, 0.35}
)

var _ vad.Classifier = (*Classifier)(nil)

// Classifier is an energy-based [vad.Classifier]. It is safe for concurrent use.
type Classifier struct {
	rmsThreshold float64
	zcrCeiling   float64
}

// Option is a functional option for [New].
type Option func(*Classifier)

// WithRMSThreshold overrides the normalised RMS level (0–1) a frame must
// reach to count as speech.
func WithRMSThreshold(v float64) Option {
	return func(c *Classifier) { c.rmsThreshold = v }
}

// WithZCRCeiling overrides the maximum zero-crossing rate (crossings per
// sample, 0–1) a speech frame may have.
func WithZCRCeiling(v float64) Option {
	return func(c *Classifier) { c.zcrCeiling = v }
}

// New returns a Classifier for the given aggressiveness (0 = least, 3 = most
// aggressive at filtering out non-speech).
func New(aggressiveness int, opts ...Option) (*Classifier, error) {
	if aggressiveness < vad.MinAggressiveness || aggressiveness > vad.MaxAggressiveness {
		return nil, fmt.Errorf("energy: aggressiveness must be %d–%d, got %d",
			vad.MinAggressiveness, vad.MaxAggressiveness, aggressiveness)
	}
	c := &Classifier{
		rmsThreshold: rmsThresholds[aggressiveness],
		zcrCeiling:   zcrCeilings[aggressiveness],
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(frame []byte, sampleRate int) (bool, error) {
	if err := vad.ValidateFrame(frame, sampleRate); err != nil {
		return false, err
	}
	level, zcr := analyse(frame)
	return level >= c.rmsThreshold && zcr <= c.zcrCeiling, nil
}

// analyse returns the normalised RMS level and the zero-crossing rate of a
// little-endian 16-bit PCM frame.
func analyse(frame []byte) (level, zcr float64) {
	n := len(frame) / 2
	var sum float64
	crossings := 0
	var prev int16
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		v := float64(s) / 32768.0
		sum += v * v
		if i > 0 && (s >= 0) != (prev >= 0) {
			crossings++
		}
		prev = s
	}
	return math.Sqrt(sum / float64(n)), float64(crossings) / float64(n)
}
