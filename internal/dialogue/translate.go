package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

const translatePrompt = "Translate the user's message from %s to %s. " +
	"Reply with the translation only, without quotes or commentary."

// Translator translates single messages with an LLM. It keeps no history.
type Translator struct {
	llm       llm.Provider
	maxTokens int
}

// NewTranslator returns a Translator backed by p.
func NewTranslator(p llm.Provider) *Translator {
	return &Translator{llm: p, maxTokens: 4 * DefaultMaxTokens}
}

// Translate returns text rendered from language from into language to.
// Both are human-readable language names such as "German". When from and to
// name the same language the text is returned unchanged.
func (t *Translator) Translate(ctx context.Context, text, from, to string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}
	if strings.EqualFold(from, to) {
		return text, nil
	}

	resp, err := t.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(translatePrompt, from, to),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		MaxTokens:    t.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("dialogue: translate %s to %s: %w", from, to, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("dialogue: translation came back empty")
	}
	return strings.TrimSpace(resp.Content), nil
}
