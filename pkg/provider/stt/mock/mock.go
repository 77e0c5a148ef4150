// Package mock provides test doubles for the stt package interfaces.
//
// Provider returns scripted results in order and records every utterance it
// was asked to transcribe, so tests can assert on what reached the STT stage.
//
// Example:
//
//	p := &mock.Provider{Results: []*stt.Result{{Text: "hello", Segments: ...}}}
//	res, _ := p.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the samples passed to Transcribe.
	Samples []int16
	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per call. Once exhausted the last
	// entry is repeated. When empty, Transcribe returns an empty Result.
	Results []*stt.Result

	// TranscribeErr, if non-nil, is returned as the error from every call.
	TranscribeErr error

	// TranscribeFunc, if set, overrides Results and TranscribeErr.
	TranscribeFunc func(ctx context.Context, samples []int16, sampleRate int) (*stt.Result, error)

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, samples []int16, sampleRate int) (*stt.Result, error) {
	p.mu.Lock()
	call := len(p.TranscribeCalls)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{
		Samples:    slices.Clone(samples),
		SampleRate: sampleRate,
	})
	fn := p.TranscribeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TranscribeErr != nil {
		return nil, p.TranscribeErr
	}
	if len(p.Results) == 0 {
		return &stt.Result{}, nil
	}
	return p.Results[min(call, len(p.Results)-1)], nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
