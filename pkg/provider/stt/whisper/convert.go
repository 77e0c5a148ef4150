package whisper

import "github.com/MrWong99/parley/pkg/audio"

// modelSampleRate is the only input rate whisper.cpp models accept.
const modelSampleRate = 16000

// toModelRate resamples mono 16-bit samples recorded at sampleRate to the
// 16 kHz whisper.cpp expects. Input already at 16 kHz is returned unchanged.
func toModelRate(samples []int16, sampleRate int) []int16 {
	if sampleRate == modelSampleRate || sampleRate <= 0 {
		return samples
	}
	return audio.ResampleInt16(samples, sampleRate, modelSampleRate)
}

// toModelInput converts samples to the normalised float32 16 kHz mono input
// the whisper.cpp bindings consume.
func toModelInput(samples []int16, sampleRate int) []float32 {
	return audio.Int16ToFloat32(toModelRate(samples, sampleRate))
}
