package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/parley/pkg/audio"
)

func TestMuLawDecode_KnownValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code byte
		want int16
	}{
		{0xFF, 0},
		{0x7F, 0},
		{0x80, 32124},
		{0x00, -32124},
		{0xFE, 8},
		{0x7E, -8},
	}
	for _, tt := range tests {
		if got := audio.MuLawDecode([]byte{tt.code})[0]; got != tt.want {
			t.Errorf("MuLawDecode(%#x) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestALawDecode_KnownValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code byte
		want int16
	}{
		{0xD5, 8},
		{0x55, -8},
		{0xAA, 32256},
		{0x2A, -32256},
	}
	for _, tt := range tests {
		if got := audio.ALawDecode([]byte{tt.code})[0]; got != tt.want {
			t.Errorf("ALawDecode(%#x) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestG711_CodesRoundTrip(t *testing.T) {
	t.Parallel()
	for c := 0; c < 256; c++ {
		code := byte(c)
		if code != 0x7F { // negative zero re-encodes as 0xFF
			if got := audio.MuLawEncode(audio.MuLawDecode([]byte{code}))[0]; got != code {
				t.Errorf("μ-law code %#x re-encoded as %#x", code, got)
			}
		}
		if got := audio.ALawEncode(audio.ALawDecode([]byte{code}))[0]; got != code {
			t.Errorf("A-law code %#x re-encoded as %#x", code, got)
		}
	}
}

func TestG711_LinearRoundTripWithinStep(t *testing.T) {
	t.Parallel()
	// The widest G.711 quantization step is 1024 (top segment).
	const maxStep = 1024
	for v := math.MinInt16; v <= math.MaxInt16; v++ {
		s := []int16{int16(v)}
		if d := abs(v - int(audio.MuLawDecode(audio.MuLawEncode(s))[0])); d > maxStep {
			t.Fatalf("μ-law round-trip of %d off by %d", v, d)
		}
		if d := abs(v - int(audio.ALawDecode(audio.ALawEncode(s))[0])); d > maxStep {
			t.Fatalf("A-law round-trip of %d off by %d", v, d)
		}
	}
}

func TestMuLaw_SmallValuesStayFine(t *testing.T) {
	t.Parallel()
	for v := -100; v <= 100; v++ {
		got := audio.MuLawDecode(audio.MuLawEncode([]int16{int16(v)}))[0]
		if d := abs(v - int(got)); d > 8 {
			t.Errorf("μ-law round-trip of %d = %d", v, got)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
