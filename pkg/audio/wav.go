package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVInfo describes the PCM payload of a RIFF/WAVE file.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int

	// Data is the raw sample payload of the "data" chunk.
	Data []byte
}

// EncodeWAV wraps mono 16-bit samples in a canonical 44-byte-header RIFF/WAVE
// container.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	const (
		channels = 1
		bps      = 16
	)
	dataSize := len(samples) * 2
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*channels*bps/8))
	binary.LittleEndian.PutUint16(buf[32:34], channels*bps/8)
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}
	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the format and payload.
// Chunks other than "fmt " and "data" are skipped.
func ParseWAV(wav []byte) (WAVInfo, error) {
	if len(wav) < 12 {
		return WAVInfo{}, errors.New("audio: WAV too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: missing RIFF/WAVE header")
	}

	var info WAVInfo
	foundFmt := false
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return WAVInfo{}, errors.New("audio: truncated fmt chunk")
			}
			if f := binary.LittleEndian.Uint16(wav[body:]); f != 1 {
				return WAVInfo{}, fmt.Errorf("audio: unsupported WAV format tag %d", f)
			}
			info.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(wav[body+14:]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVInfo{}, errors.New("audio: data chunk before fmt chunk")
			}
			end := min(body+size, len(wav))
			info.Data = wav[body:end]
			return info, nil
		}

		// Chunks are word aligned.
		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVInfo{}, errors.New("audio: missing data chunk")
}

// Waveform converts a 16-bit PCM WAV payload to a mono [Waveform],
// averaging channels when there is more than one.
func (w WAVInfo) Waveform() (Waveform, error) {
	if w.BitsPerSample != 16 {
		return Waveform{}, fmt.Errorf("audio: unsupported WAV bit depth %d", w.BitsPerSample)
	}
	ch := max(w.Channels, 1)
	samples := BytesToInt16(w.Data)
	frames := len(samples) / ch
	out := make([]float32, frames)
	for i := range frames {
		var sum int32
		for c := range ch {
			sum += int32(samples[i*ch+c])
		}
		out[i] = float32(sum) / float32(ch) / 32768.0
	}
	return Waveform{Samples: out, SampleRate: w.SampleRate}, nil
}
