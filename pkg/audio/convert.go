package audio

import (
	"encoding/binary"
	"math"
)

// resampleHalfWidth is the half-width of the windowed-sinc kernel, in input
// samples, when no anti-aliasing is needed (upsampling). Downsampling widens
// the kernel by the rate ratio.
const resampleHalfWidth = 16

// U8ToS8 converts unsigned 8-bit samples to signed 8-bit by subtracting 128.
func U8ToS8(u []byte) []int8 {
	out := make([]int8, len(u))
	for i, v := range u {
		out[i] = int8(v - 128)
	}
	return out
}

// S8ToU8 converts signed 8-bit samples to unsigned 8-bit by adding 128.
func S8ToU8(s []int8) []byte {
	out := make([]byte, len(s))
	for i, v := range s {
		out[i] = byte(int16(v) + 128)
	}
	return out
}

// Widen8To16 scales signed 8-bit samples to 16-bit by shifting each value
// into the high byte. No dithering is applied.
func Widen8To16(s []int8) []int16 {
	out := make([]int16, len(s))
	for i, v := range s {
		out[i] = int16(v) << 8
	}
	return out
}

// Narrow16To8 drops the low byte of each 16-bit sample. It is the exact
// inverse of [Widen8To16].
func Narrow16To8(s []int16) []int8 {
	out := make([]int8, len(s))
	for i, v := range s {
		out[i] = int8(v >> 8)
	}
	return out
}

// Int16ToFloat32 normalises 16-bit samples to floats via v / 32768.
func Int16ToFloat32(s []int16) []float32 {
	out := make([]float32, len(s))
	for i, v := range s {
		out[i] = float32(v) / 32768.0
	}
	return out
}

// Float32ToInt16 clips each sample to [-1, 1] and scales by 32767, truncating
// toward zero. Together with [Int16ToFloat32] this round-trips every int16
// value to within one step.
func Float32ToInt16(f []float32) []int16 {
	out := make([]int16, len(f))
	for i, v := range f {
		x := float64(v)
		switch {
		case x > 1:
			x = 1
		case x < -1:
			x = -1
		case math.IsNaN(x):
			x = 0
		}
		out[i] = int16(x * 32767)
	}
	return out
}

// BytesToInt16 decodes little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// ResampledLen returns the output length for n input samples converted from
// srcRate to dstRate: round(n × dstRate / srcRate).
func ResampledLen(n, srcRate, dstRate int) int {
	if srcRate <= 0 || dstRate <= 0 {
		return n
	}
	return int(math.Round(float64(n) * float64(dstRate) / float64(srcRate)))
}

// Resample converts float samples from srcRate to dstRate with a
// Hann-windowed sinc interpolator. The result has [ResampledLen] samples and
// is identical for identical inputs. If the rates match (or either is not
// positive) a copy of the input is returned.
func Resample(in []float32, srcRate, dstRate int) []float32 {
	src := make([]float64, len(in))
	for i, v := range in {
		src[i] = float64(v)
	}
	res := resample(src, srcRate, dstRate)
	out := make([]float32, len(res))
	for i, v := range res {
		out[i] = float32(v)
	}
	return out
}

// ResampleInt16 is [Resample] for 16-bit samples. Output values are rounded
// and clamped to the int16 range.
func ResampleInt16(in []int16, srcRate, dstRate int) []int16 {
	src := make([]float64, len(in))
	for i, v := range in {
		src[i] = float64(v)
	}
	res := resample(src, srcRate, dstRate)
	out := make([]int16, len(res))
	for i, v := range res {
		out[i] = clampInt16(math.Round(v))
	}
	return out
}

func resample(in []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		out := make([]float64, len(in))
		copy(out, in)
		return out
	}
	n := ResampledLen(len(in), srcRate, dstRate)
	out := make([]float64, n)
	if len(in) == 0 {
		return out
	}

	ratio := float64(srcRate) / float64(dstRate)
	cutoff := 1.0
	if ratio > 1 {
		cutoff = 1 / ratio
	}
	half := resampleHalfWidth / cutoff

	for i := range n {
		center := float64(i) * ratio
		lo := max(int(math.Ceil(center-half)), 0)
		hi := min(int(math.Floor(center+half)), len(in)-1)

		var acc, wsum float64
		for j := lo; j <= hi; j++ {
			x := float64(j) - center
			w := sinc(cutoff*x) * hann(x/half)
			acc += w * in[j]
			wsum += w
		}
		if wsum != 0 {
			out[i] = acc / wsum
		}
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// hann is the Hann window over [-1, 1].
func hann(x float64) float64 {
	if x <= -1 || x >= 1 {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*x))
}

func clampInt16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
