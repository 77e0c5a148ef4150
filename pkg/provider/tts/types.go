package tts

import (
	"strings"
	"unicode"
)

// Voice describes one voice offered by a TTS backend.
type Voice struct {
	// ID is the provider-specific voice identifier passed to Synthesize.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes.
	Metadata map[string]string
}

// SplitSentences breaks text into sentences for synthesis one at a time.
// A sentence ends at '.', '!' or '?' followed by whitespace or the end of the
// text, so abbreviations like "3.14" stay intact. Each sentence is trimmed
// and trailing periods are removed; empty sentences are dropped.
func SplitSentences(text string) []string {
	var out []string
	rest := strings.TrimSpace(text)
	for rest != "" {
		idx := findSentenceBoundary(rest)
		var sentence string
		if idx < 0 {
			sentence, rest = rest, ""
		} else {
			sentence, rest = rest[:idx+1], rest[idx+1:]
		}
		sentence = strings.TrimRight(strings.TrimSpace(sentence), ".")
		if sentence = strings.TrimSpace(sentence); sentence != "" {
			out = append(out, sentence)
		}
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending character
// ('.', '!', '?') that is either at the end of s or immediately followed by
// whitespace. Returns -1 if no sentence boundary is found.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
