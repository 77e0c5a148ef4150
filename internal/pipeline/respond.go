package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/observe"
)

// englishName is the language the response model is prompted in.
const englishName = "English"

// Responder produces the assistant's reply to one caller turn.
// [dialogue.Conversation] implements it.
type Responder interface {
	Reply(ctx context.Context, text string) (string, error)
}

// Translator translates one message between two named languages.
// [dialogue.Translator] implements it.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Response turns caller text into reply text. With translation enabled the
// caller's words are translated into English before the reply is generated,
// and the reply is translated back.
type Response struct {
	conv     Responder
	tr       Translator
	language string
	in       *Queue[string]
	out      *Queue[string]
	metrics  *observe.Metrics
}

// ResponseOption configures a [Response].
type ResponseOption func(*Response)

// WithTranslation translates through English when language is anything
// other than English. language is a display name such as "German".
func WithTranslation(tr Translator, language string) ResponseOption {
	return func(r *Response) {
		if tr != nil && !strings.EqualFold(language, englishName) {
			r.tr = tr
			r.language = language
		}
	}
}

// NewResponse returns a Response stage.
func NewResponse(conv Responder, in, out *Queue[string], m *observe.Metrics, opts ...ResponseOption) *Response {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	r := &Response{conv: conv, in: in, out: out, metrics: m}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name implements [Stage].
func (r *Response) Name() string { return "response" }

// Run implements [Stage].
func (r *Response) Run(ctx context.Context) error {
	defer r.in.PutShutdown()
	defer r.out.PutShutdown()
	log := observe.Logger(ctx)

	for {
		msg, err := r.in.Get(ctx)
		if err != nil {
			return err
		}
		text, ok := msg.Payload()
		if !ok {
			return nil
		}

		reply, err := r.respond(ctx, text)
		if err != nil {
			r.metrics.RecordProviderError(ctx, "llm", "reply")
			log.Warn("pipeline: response failed", "err", err)
			continue
		}
		log.Info("pipeline: assistant replies", "text", reply)

		if err := r.out.Put(ctx, reply); err != nil && !errors.Is(err, ErrQueueShutdown) {
			return err
		}
	}
}

func (r *Response) respond(ctx context.Context, text string) (string, error) {
	var err error
	if r.tr != nil {
		if text, err = r.translate(ctx, text, r.language, englishName); err != nil {
			return "", err
		}
	}

	start := time.Now()
	reply, err := r.conv.Reply(ctx, text)
	r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(), observeKind("reply"))
	if err != nil {
		return "", err
	}

	if r.tr != nil {
		return r.translate(ctx, reply, englishName, r.language)
	}
	return reply, nil
}

func (r *Response) translate(ctx context.Context, text, from, to string) (string, error) {
	start := time.Now()
	defer func() {
		r.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(), observeKind("translate"))
	}()
	return r.tr.Translate(ctx, text, from, to)
}
