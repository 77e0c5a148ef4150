// Package dialogue turns transcribed caller text into spoken replies.
//
// A [Conversation] keeps the running chat history for one call or microphone
// session and asks an [llm.Provider] for each reply. A [Translator] uses a
// (possibly different) provider to move text between the caller's language
// and English when the chat model should only ever see English.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// ErrEmptyInput is returned when Reply or Translate is called with blank text.
var ErrEmptyInput = errors.New("dialogue: empty input")

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are an empathetic voice assistant. Keep responses short and " +
	"conversational, as if you're on a calm phone call. Don't use glyphs or emoticons."

// Defaults applied by [NewConversation].
const (
	DefaultMaxTokens    = 200
	DefaultHistoryLimit = 20
)

// Option configures a [Conversation].
type Option func(*Conversation)

// WithSystemPrompt sets the instruction sent ahead of the history.
func WithSystemPrompt(prompt string) Option {
	return func(c *Conversation) { c.systemPrompt = prompt }
}

// WithMaxTokens caps the length of each reply.
func WithMaxTokens(n int) Option {
	return func(c *Conversation) { c.maxTokens = n }
}

// WithHistoryLimit sets how many user and assistant messages are kept.
func WithHistoryLimit(n int) Option {
	return func(c *Conversation) { c.historyLimit = n }
}

// WithTemperature sets the sampling temperature. Zero keeps the provider default.
func WithTemperature(t float64) Option {
	return func(c *Conversation) { c.temperature = t }
}

// Conversation is a chat session backed by an LLM provider.
//
// Reply is safe for concurrent use, but concurrent turns interleave in the
// history in completion order. The pipeline drives one turn at a time.
type Conversation struct {
	llm          llm.Provider
	systemPrompt string
	maxTokens    int
	historyLimit int
	temperature  float64

	history *History
}

// NewConversation creates a Conversation that sends requests to p.
func NewConversation(p llm.Provider, opts ...Option) *Conversation {
	c := &Conversation{
		llm:          p,
		systemPrompt: DefaultSystemPrompt,
		maxTokens:    DefaultMaxTokens,
		historyLimit: DefaultHistoryLimit,
	}
	for _, o := range opts {
		o(c)
	}
	c.history = NewHistory(c.historyLimit)
	return c
}

// Reply sends text as the next user turn and returns the assistant's answer.
// The turn is recorded in the history only when the request succeeds, so a
// failed request can be retried without duplicating the user message.
func (c *Conversation) Reply(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}

	user := llm.Message{Role: llm.RoleUser, Content: text}
	msgs := append(c.history.Messages(), user)

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: c.systemPrompt,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("dialogue: complete: %w", err)
	}
	if resp == nil {
		return "", errors.New("dialogue: provider returned no response")
	}

	reply := strings.TrimSpace(resp.Content)
	c.history.Append(user, llm.Message{Role: llm.RoleAssistant, Content: reply})
	slog.Debug("dialogue: reply generated",
		"history_messages", c.history.Len(),
		"history_tokens", c.history.TokenEstimate(),
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return reply, nil
}

// History returns the recorded user and assistant messages, oldest first.
func (c *Conversation) History() []llm.Message {
	return c.history.Messages()
}

// SystemPrompt returns the instruction sent ahead of the history.
func (c *Conversation) SystemPrompt() string {
	return c.systemPrompt
}

// Reset forgets every recorded turn. The system prompt is kept.
func (c *Conversation) Reset() {
	c.history.Reset()
}
