package app

import (
	"sync"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/dialogue"
	"github.com/MrWong99/parley/internal/language"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// stageBuilder assembles the transcription → response → synthesis chain
// that sits between the segmented utterances and the playback queue. Calls
// and microphone mode share it; each build gets a fresh conversation.
type stageBuilder struct {
	providers  *Providers
	lang       language.Language
	speaker    string
	conv       config.ConversationConfig
	queueSize  int
	thresholds *liveThresholds
	metrics    *observe.Metrics
}

// chain is one built set of dialogue stages.
type chain struct {
	transcription *pipeline.Transcription
	stages        []pipeline.Stage
}

func (b *stageBuilder) build(in *pipeline.Queue[audio.Utterance], out *pipeline.Queue[audio.Waveform]) chain {
	texts := pipeline.NewQueue[string]("texts", b.queueSize)
	replies := pipeline.NewQueue[string]("replies", b.queueSize)

	tr := pipeline.NewTranscription(b.providers.STT, b.thresholds.current(), in, texts, b.metrics)

	conv := dialogue.NewConversation(b.providers.LLM,
		dialogue.WithSystemPrompt(b.conv.SystemPrompt),
		dialogue.WithMaxTokens(b.conv.MaxTokens),
		dialogue.WithHistoryLimit(b.conv.HistoryLimit),
	)
	var opts []pipeline.ResponseOption
	if b.conv.Translate && !b.lang.IsEnglish() {
		p := b.providers.Translation
		if p == nil {
			p = b.providers.LLM
		}
		opts = append(opts, pipeline.WithTranslation(dialogue.NewTranslator(p), b.lang.Name))
	}

	return chain{
		transcription: tr,
		stages: []pipeline.Stage{
			tr,
			pipeline.NewResponse(conv, texts, replies, b.metrics, opts...),
			pipeline.NewSynthesis(b.providers.TTS, b.lang.Code, b.speaker, replies, out, b.metrics),
		},
	}
}

// liveThresholds holds the transcription thresholds in effect and pushes
// changes to every running transcription stage.
type liveThresholds struct {
	mu     sync.Mutex
	th     stt.Thresholds
	stages map[*pipeline.Transcription]struct{}
}

func newLiveThresholds(th stt.Thresholds) *liveThresholds {
	return &liveThresholds{th: th, stages: make(map[*pipeline.Transcription]struct{})}
}

func (l *liveThresholds) current() stt.Thresholds {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.th
}

// attach keeps t in sync until the returned func is called.
func (l *liveThresholds) attach(t *pipeline.Transcription) (detach func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.SetThresholds(l.th)
	l.stages[t] = struct{}{}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.stages, t)
	}
}

func (l *liveThresholds) set(th stt.Thresholds) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.th = th
	for t := range l.stages {
		t.SetThresholds(th)
	}
}
