// Package echo keeps the assistant from transcribing its own voice.
//
// On a call, [Guard] remembers when each playback chunk started streaming to
// the transport and reports an exclusion window of fixed length after each
// one; the read side discards captured audio while excluded. In open
// microphone mode there is no shared transport to time against, so
// [BusyFlag] marks the whole playback span instead.
package echo

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindow is the exclusion window applied after each playback event.
const DefaultWindow = 2 * time.Second

// Guard tracks playback events and answers whether a capture instant falls
// inside the exclusion window of any of them. It is safe for one writer and
// any number of readers.
type Guard struct {
	window time.Duration

	mu     sync.Mutex
	events []time.Time // ascending
}

// NewGuard returns a Guard with the given window; a non-positive window
// selects [DefaultWindow].
func NewGuard(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{window: window}
}

// Window returns the exclusion window length.
func (g *Guard) Window() time.Duration { return g.window }

// RecordPlayback notes that a playback chunk started at now.
func (g *Guard) RecordPlayback(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, now)
}

// IsExcluded drops every event older than now−window and reports whether any
// event remains, i.e. whether audio captured at now may be the assistant's
// own playback.
func (g *Guard) IsExcluded(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.events) && !g.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.events = append(g.events[:0], g.events[i:]...)
	}
	return len(g.events) > 0
}

// Pending returns the number of events still inside some window as of the
// last IsExcluded call.
func (g *Guard) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.events)
}

// Reset forgets all recorded playback.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = nil
}

// BusyFlag is set while the assistant is speaking through an open-air
// speaker. The zero value is clear and ready to use.
type BusyFlag struct {
	busy atomic.Bool
}

// Set marks playback as in progress.
func (f *BusyFlag) Set() { f.busy.Store(true) }

// Clear marks playback as finished.
func (f *BusyFlag) Clear() { f.busy.Store(false) }

// IsSet reports whether playback is in progress.
func (f *BusyFlag) IsSet() bool { return f.busy.Load() }
