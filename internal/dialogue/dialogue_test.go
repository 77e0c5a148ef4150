package dialogue_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/parley/internal/dialogue"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func TestConversation_Reply(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  Hi there.  "}}
	c := dialogue.NewConversation(p, dialogue.WithSystemPrompt("be brief"), dialogue.WithMaxTokens(50), dialogue.WithTemperature(0.3))

	got, err := c.Reply(context.Background(), " hello ")
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != "Hi there." {
		t.Errorf("reply = %q, want %q", got, "Hi there.")
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "be brief" {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.MaxTokens != 50 || req.Temperature != 0.3 {
		t.Errorf("MaxTokens/Temperature = %d/%v, want 50/0.3", req.MaxTokens, req.Temperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "hello" {
		t.Errorf("Messages = %+v", req.Messages)
	}

	h := c.History()
	if len(h) != 2 || h[1].Role != llm.RoleAssistant || h[1].Content != "Hi there." {
		t.Errorf("History = %+v", h)
	}
}

func TestConversation_SendsHistory(t *testing.T) {
	t.Parallel()
	n := 0
	p := &mock.Provider{CompleteFunc: func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		n++
		return &llm.CompletionResponse{Content: fmt.Sprintf("answer %d", n)}, nil
	}}
	c := dialogue.NewConversation(p)

	for _, q := range []string{"one", "two", "three"} {
		if _, err := c.Reply(context.Background(), q); err != nil {
			t.Fatal(err)
		}
	}
	last := p.Calls()[2].Req.Messages
	want := []string{"one", "answer 1", "two", "answer 2", "three"}
	if len(last) != len(want) {
		t.Fatalf("got %d messages, want %d", len(last), len(want))
	}
	for i, w := range want {
		if last[i].Content != w {
			t.Errorf("message %d = %q, want %q", i, last[i].Content, w)
		}
	}
	if p.Calls()[0].Req.SystemPrompt != dialogue.DefaultSystemPrompt {
		t.Error("default system prompt not sent")
	}
}

func TestConversation_HistoryLimit(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	c := dialogue.NewConversation(p, dialogue.WithHistoryLimit(4))

	for i := range 5 {
		if _, err := c.Reply(context.Background(), fmt.Sprintf("q%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	h := c.History()
	if len(h) != 4 {
		t.Fatalf("history length = %d, want 4", len(h))
	}
	if h[0].Role != llm.RoleUser || h[0].Content != "q3" {
		t.Errorf("oldest kept message = %+v, want user q3", h[0])
	}
	if c.SystemPrompt() == "" {
		t.Error("system prompt lost after trimming")
	}
}

func TestConversation_ErrorLeavesHistoryUntouched(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	p := &mock.Provider{CompleteErr: boom}
	c := dialogue.NewConversation(p)

	if _, err := c.Reply(context.Background(), "hello"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
	if len(c.History()) != 0 {
		t.Errorf("history = %+v, want empty", c.History())
	}
}

func TestConversation_EmptyInput(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	c := dialogue.NewConversation(p)
	if _, err := c.Reply(context.Background(), "   "); !errors.Is(err, dialogue.ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
	if len(p.Calls()) != 0 {
		t.Error("provider called for empty input")
	}
}

func TestConversation_Reset(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	c := dialogue.NewConversation(p)
	if _, err := c.Reply(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	c.Reset()
	if len(c.History()) != 0 {
		t.Error("history not cleared")
	}
}

func TestTranslator_Translate(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Good morning\n"}}
	tr := dialogue.NewTranslator(p)

	got, err := tr.Translate(context.Background(), "Guten Morgen", "German", "English")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Good morning" {
		t.Errorf("got %q, want %q", got, "Good morning")
	}
	req := p.Calls()[0].Req
	if !strings.Contains(req.SystemPrompt, "from German to English") {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "Guten Morgen" {
		t.Errorf("Messages = %+v", req.Messages)
	}
}

func TestTranslator_SameLanguage(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{}
	got, err := dialogue.NewTranslator(p).Translate(context.Background(), "hello", "English", "english")
	if err != nil || got != "hello" {
		t.Errorf("got %q, %v; want hello, nil", got, err)
	}
	if len(p.Calls()) != 0 {
		t.Error("provider called for same-language translation")
	}
}

func TestTranslator_EmptyResult(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " "}}
	if _, err := dialogue.NewTranslator(p).Translate(context.Background(), "hola", "Spanish", "English"); err == nil {
		t.Error("expected error for empty translation")
	}
}
