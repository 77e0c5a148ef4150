package audio

// Codec converts between a transport's [WireFormat] and signed 16-bit PCM at
// the same sample rate. It holds no state and is safe for concurrent use.
type Codec struct {
	format WireFormat
}

// NewCodec returns a Codec for f.
func NewCodec(f WireFormat) (Codec, error) {
	if err := f.Validate(); err != nil {
		return Codec{}, err
	}
	return Codec{format: f}, nil
}

// Format returns the wire format the codec was built for.
func (c Codec) Format() WireFormat { return c.format }

// Decode converts one wire frame to 16-bit samples.
func (c Codec) Decode(wire []byte) []int16 {
	switch c.format.Encoding {
	case EncodingU8:
		return Widen8To16(U8ToS8(wire))
	case EncodingS8:
		return Widen8To16(bytesToInt8(wire))
	case EncodingMuLaw:
		return MuLawDecode(wire)
	case EncodingALaw:
		return ALawDecode(wire)
	default:
		return BytesToInt16(wire)
	}
}

// DecodePCM converts one wire frame to little-endian 16-bit PCM bytes, the
// representation the segmenter consumes.
func (c Codec) DecodePCM(wire []byte) []byte {
	if c.format.Encoding == EncodingS16LE {
		return wire
	}
	return Int16ToBytes(c.Decode(wire))
}

// Encode converts 16-bit samples to the wire encoding.
func (c Codec) Encode(pcm []int16) []byte {
	switch c.format.Encoding {
	case EncodingU8:
		return S8ToU8(Narrow16To8(pcm))
	case EncodingS8:
		return int8ToBytes(Narrow16To8(pcm))
	case EncodingMuLaw:
		return MuLawEncode(pcm)
	case EncodingALaw:
		return ALawEncode(pcm)
	default:
		return Int16ToBytes(pcm)
	}
}

// EncodeWaveform resamples a synthesized waveform to the wire sample rate and
// encodes it.
func (c Codec) EncodeWaveform(w Waveform) []byte {
	samples := w.Samples
	if w.SampleRate != c.format.SampleRate {
		samples = Resample(samples, w.SampleRate, c.format.SampleRate)
	}
	return c.Encode(Float32ToInt16(samples))
}

func bytesToInt8(b []byte) []int8 {
	out := make([]int8, len(b))
	for i, v := range b {
		out[i] = int8(v)
	}
	return out
}

func int8ToBytes(s []int8) []byte {
	out := make([]byte, len(s))
	for i, v := range s {
		out[i] = byte(v)
	}
	return out
}
