package dialogue

import (
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation. English
// text averages roughly 4 characters per token across common tokenizers.
const charsPerToken = 4

// History holds the user and assistant turns of one conversation. The system
// prompt is not part of the history; it is sent separately with every request
// and so is never trimmed.
//
// When more than limit messages are held, the oldest are dropped in whole
// user/assistant pairs. All methods are safe for concurrent use.
type History struct {
	limit int

	mu       sync.Mutex
	messages []llm.Message
}

// NewHistory returns an empty history that keeps at most limit messages.
// A limit of zero or less keeps everything.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append adds messages in order and trims the oldest ones beyond the limit.
func (h *History) Append(msgs ...llm.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
	if h.limit <= 0 || len(h.messages) <= h.limit {
		return
	}
	drop := len(h.messages) - h.limit
	// Keep the history starting on a user turn.
	if drop%2 != 0 && drop < len(h.messages) {
		drop++
	}
	h.messages = slices.Clone(h.messages[drop:])
}

// Messages returns a copy of the held messages, oldest first.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.messages)
}

// Len reports how many messages are held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// TokenEstimate returns a rough token count for the held messages.
func (h *History) TokenEstimate() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, m := range h.messages {
		total += estimateTokens(m)
	}
	return total
}

// Reset clears all messages.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = nil
}

// estimateTokens returns a rough token count for a single message using the
// 1-token-per-4-characters heuristic.
func estimateTokens(m llm.Message) int {
	chars := len(m.Content) + len(m.Role)
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}
