// Package mock provides a test double for [vad.Classifier].
//
// Classifier answers from a script of results, one per call, then repeats
// Default. Every frame passed to Classify is recorded.
//
// Example:
//
//	c := &mock.Classifier{Script: []mock.Result{{Speech: true}, {Err: errBoom}}}
//	seg := segment.New(cfg, c)
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/provider/vad"
)

// Result is one scripted Classify outcome.
type Result struct {
	Speech bool
	Err    error
}

// ClassifyCall records a single invocation of Classifier.Classify.
type ClassifyCall struct {
	// Frame is a copy of the bytes passed to Classify.
	Frame []byte

	// SampleRate is the sample rate passed to Classify.
	SampleRate int
}

// Classifier is a mock implementation of [vad.Classifier].
type Classifier struct {
	mu sync.Mutex

	// Script holds results returned by successive calls, in order.
	Script []Result

	// Default is returned once Script is exhausted.
	Default Result

	// Func, when non-nil, decides every result instead of Script and Default.
	Func func(frame []byte, sampleRate int) (bool, error)

	// Calls records every call to Classify in order.
	Calls []ClassifyCall
}

// Classify records the call and returns the next scripted result.
func (c *Classifier) Classify(frame []byte, sampleRate int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.Calls = append(c.Calls, ClassifyCall{Frame: cp, SampleRate: sampleRate})
	if c.Func != nil {
		return c.Func(frame, sampleRate)
	}
	if len(c.Script) > 0 {
		r := c.Script[0]
		c.Script = c.Script[1:]
		return r.Speech, r.Err
	}
	return c.Default.Speech, c.Default.Err
}

// CallCount returns how many times Classify was called.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)
