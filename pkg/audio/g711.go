package audio

// G.711 companding as used by PCMU (payload type 0) and PCMA (payload type 8)
// telephony media.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// aLawSegEnd holds the upper bound of each 13-bit A-law segment.
var aLawSegEnd = [8]int32{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// MuLawDecode expands μ-law bytes to 16-bit linear PCM.
func MuLawDecode(b []byte) []int16 {
	out := make([]int16, len(b))
	for i, v := range b {
		out[i] = decodeMuLawSample(v)
	}
	return out
}

// MuLawEncode compresses 16-bit linear PCM to μ-law.
func MuLawEncode(s []int16) []byte {
	out := make([]byte, len(s))
	for i, v := range s {
		out[i] = encodeMuLawSample(v)
	}
	return out
}

// ALawDecode expands A-law bytes to 16-bit linear PCM.
func ALawDecode(b []byte) []int16 {
	out := make([]int16, len(b))
	for i, v := range b {
		out[i] = decodeALawSample(v)
	}
	return out
}

// ALawEncode compresses 16-bit linear PCM to A-law.
func ALawEncode(s []int16) []byte {
	out := make([]byte, len(s))
	for i, v := range s {
		out[i] = encodeALawSample(v)
	}
	return out
}

func decodeMuLawSample(u byte) int16 {
	u = ^u
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)
	magnitude := ((mantissa<<3)+muLawBias)<<exponent - muLawBias
	if u&0x80 != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

func encodeMuLawSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > muLawClip {
		v = muLawClip
	}
	v += muLawBias

	exponent := byte(7)
	for mask := int32(0x4000); v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

func decodeALawSample(a byte) int16 {
	a ^= 0x55
	t := int32(a&0x0F) << 4
	seg := (a & 0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

func encodeALawSample(s int16) byte {
	pcm := int32(s) >> 3
	mask := byte(0xD5)
	if pcm < 0 {
		mask = 0x55
		pcm = -pcm - 1
	}

	seg := 0
	for seg < len(aLawSegEnd) && pcm > aLawSegEnd[seg] {
		seg++
	}
	if seg >= len(aLawSegEnd) {
		return 0x7F ^ mask
	}

	aval := byte(seg << 4)
	if seg < 2 {
		aval |= byte(pcm>>1) & 0x0F
	} else {
		aval |= byte(pcm>>uint(seg)) & 0x0F
	}
	return aval ^ mask
}
