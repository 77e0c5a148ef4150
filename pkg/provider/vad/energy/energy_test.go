package energy_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// tone returns a 30 ms frame at 8 kHz of a sine at freq Hz and amplitude amp.
func tone(freq, amp float64) []byte {
	s := make([]int16, 240)
	for i := range s {
		s[i] = int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/8000))
	}
	return audio.Int16ToBytes(s)
}

func TestNew_AggressivenessRange(t *testing.T) {
	t.Parallel()
	for _, a := range []int{-1, 4} {
		if _, err := energy.New(a); err == nil {
			t.Errorf("New(%d): expected error", a)
		}
	}
	for a := 0; a <= 3; a++ {
		if _, err := energy.New(a); err != nil {
			t.Errorf("New(%d): %v", a, err)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	c, err := energy.New(3)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{"silence", make([]byte, 480), false},
		{"quiet tone", tone(200, 0.005), false},
		{"voiced tone", tone(200, 0.3), true},
		{"hiss", tone(3900, 0.3), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := c.Classify(tt.frame, 8000)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassify_LowerAggressivenessIsMoreSensitive(t *testing.T) {
	t.Parallel()
	frame := tone(200, 0.012)
	lax, _ := energy.New(0)
	strict, _ := energy.New(3)
	if ok, _ := lax.Classify(frame, 8000); !ok {
		t.Error("aggressiveness 0 should accept a quiet voiced frame")
	}
	if ok, _ := strict.Classify(frame, 8000); ok {
		t.Error("aggressiveness 3 should reject a quiet voiced frame")
	}
}

func TestClassify_RejectsMalformedFrames(t *testing.T) {
	t.Parallel()
	c, _ := energy.New(2)
	tests := []struct {
		name  string
		frame []byte
		rate  int
	}{
		{"bad rate", make([]byte, 480), 11025},
		{"25 ms", make([]byte, 400), 8000},
		{"odd length", make([]byte, 481), 8000},
		{"empty", nil, 16000},
	}
	for _, tt := range tests {
		if _, err := c.Classify(tt.frame, tt.rate); !errors.Is(err, vad.ErrInvalidFrame) {
			t.Errorf("%s: got %v, want ErrInvalidFrame", tt.name, err)
		}
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()
	c, _ := energy.New(0, energy.WithRMSThreshold(0.5), energy.WithZCRCeiling(1))
	if ok, _ := c.Classify(tone(200, 0.3), 8000); ok {
		t.Error("RMS threshold override not applied")
	}
}
