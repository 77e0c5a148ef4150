// Package openai provides an STT provider backed by the OpenAI audio
// transcription API or a compatible server (faster-whisper-server,
// LocalAI, mlx-whisper behind an OpenAI shim).
//
// Requests ask for verbose_json so the per-segment avg_logprob and
// no_speech_prob figures are available for confidence filtering.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI audio API.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 language hint (e.g. "en", "de"). Empty
// lets the server detect the language.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// verboseTranscription mirrors the fields of a verbose_json response that
// the typed SDK result does not expose.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		AvgLogProb   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, samples []int16, sampleRate int) (*stt.Result, error) {
	wav := audio.EncodeWAV(samples, sampleRate)

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model:          oai.AudioModel(p.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
		Temperature:    oai.Float(0),
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}

	tr, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}

	res := &stt.Result{
		Text:     strings.TrimSpace(tr.Text),
		Duration: time.Duration(len(samples)) * time.Second / time.Duration(max(sampleRate, 1)),
	}
	raw := tr.RawJSON()
	if raw == "" {
		return res, nil
	}
	var vt verboseTranscription
	if err := json.Unmarshal([]byte(raw), &vt); err != nil {
		return nil, fmt.Errorf("openai stt: parse verbose response: %w", err)
	}
	res.Language = vt.Language
	if vt.Duration > 0 {
		res.Duration = time.Duration(vt.Duration * float64(time.Second))
	}
	for _, s := range vt.Segments {
		res.Segments = append(res.Segments, stt.Segment{
			Text:         strings.TrimSpace(s.Text),
			AvgLogProb:   s.AvgLogProb,
			NoSpeechProb: s.NoSpeechProb,
			Start:        time.Duration(s.Start * float64(time.Second)),
			End:          time.Duration(s.End * float64(time.Second)),
		})
	}
	return res, nil
}
