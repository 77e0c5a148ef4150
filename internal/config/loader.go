package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/internal/language"
	"github.com/MrWong99/parley/pkg/provider/vad"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisper", "whisper-native"},
	"tts": {"openai", "coqui"},
	"vad": {"energy"},
}

// Environment variables that override the YAML file.
const (
	EnvOpenAIURL         = "OPENAI_API_URL"
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvVADAggressiveness = "VAD_AGGRESSIVENESS"
	EnvVADFrameMs        = "VAD_FRAME_MS"
)

const (
	defaultListenAddr     = ":8080"
	defaultAggressiveness = 3
	defaultFrameMs        = 30
	defaultSilenceMs      = 900
	defaultMinSpeechMs    = 2000
	defaultEchoWindow     = 2 * time.Second
	defaultCaptureRate    = 16000
	defaultPlaybackRate   = 22050
	defaultPollInterval   = 500 * time.Millisecond
	defaultSIPListen      = "0.0.0.0:5060"
	defaultWSPath         = "/media"
	defaultWSEncoding     = "mulaw"
	defaultWSSampleRate   = 8000
	defaultLanguage       = "english"
	defaultMaxTokens      = 200
	defaultHistoryLimit   = 20
	defaultQueueSize      = 64
	defaultJoinTimeout    = 5 * time.Second
)

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables already set are left alone. An empty path reads ".env" and
// tolerates its absence.
func LoadDotEnv(path string) error {
	optional := path == ""
	if optional {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load env file %q: %w", path, err)
	}
	return nil
}

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, nil)
}

func parse(r io.Reader, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if getenv != nil {
		if err := ApplyEnv(cfg, getenv); err != nil {
			return nil, err
		}
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with the supported environment variables.
// OPENAI_API_URL and OPENAI_API_KEY apply to every provider named "openai".
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	url, key := getenv(EnvOpenAIURL), getenv(EnvOpenAIKey)
	for _, e := range cfg.Providers.entries() {
		if e.Name != "openai" {
			continue
		}
		if url != "" {
			e.BaseURL = url
		}
		if key != "" {
			e.APIKey = key
		}
	}

	var errs []error
	if v := getenv(EnvVADAggressiveness); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", EnvVADAggressiveness, err))
		} else {
			cfg.Audio.VAD.Aggressiveness = &n
		}
	}
	if v := getenv(EnvVADFrameMs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", EnvVADFrameMs, err))
		} else {
			cfg.Audio.VAD.FrameMs = n
		}
	}
	return errors.Join(errs...)
}

// entries returns pointers to every provider entry, fallbacks included.
func (p *ProvidersConfig) entries() []*ProviderEntry {
	out := []*ProviderEntry{&p.LLM, &p.STT, &p.TTS, &p.Translation, &p.VAD}
	for _, list := range [][]ProviderEntry{p.LLMFallbacks, p.STTFallbacks, p.TTSFallbacks} {
		for i := range list {
			out = append(out, &list[i])
		}
	}
	return out
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, defaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Mode, ModeTelephony)

	a := &cfg.Audio
	setDefault(&a.VAD.FrameMs, defaultFrameMs)
	setDefault(&a.VAD.SilenceMs, defaultSilenceMs)
	setDefault(&a.VAD.MinSpeechMs, defaultMinSpeechMs)
	setDefault(&a.EchoWindow, defaultEchoWindow)
	setDefault(&a.CaptureRate, defaultCaptureRate)
	setDefault(&a.PlaybackRate, defaultPlaybackRate)
	setDefault(&a.Local.Encoding, "s16le")

	setDefault(&cfg.Telephony.PollInterval, defaultPollInterval)
	if sip := cfg.Telephony.SIP; sip != nil {
		setDefault(&sip.ListenAddr, defaultSIPListen)
	}
	if ws := cfg.Telephony.WebSocket; ws != nil {
		setDefault(&ws.Path, defaultWSPath)
		setDefault(&ws.Encoding, defaultWSEncoding)
		setDefault(&ws.SampleRate, defaultWSSampleRate)
	}

	setDefault(&cfg.Providers.VAD.Name, "energy")
	if cfg.Providers.Translation.Name == "" {
		cfg.Providers.Translation = cfg.Providers.LLM
	}

	c := &cfg.Conversation
	setDefault(&c.Language, defaultLanguage)
	setDefault(&c.MaxTokens, defaultMaxTokens)
	setDefault(&c.HistoryLimit, defaultHistoryLimit)

	setDefault(&cfg.Pipeline.QueueSize, defaultQueueSize)
	setDefault(&cfg.Pipeline.JoinTimeout, defaultJoinTimeout)
}

func setDefault[T comparable](field *T, v T) {
	var zero T
	if *field == zero {
		*field = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}
	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: telephony, microphone", cfg.Mode))
	}

	// Audio
	v := cfg.Audio.VAD
	if lvl := v.Level(); lvl < vad.MinAggressiveness || lvl > vad.MaxAggressiveness {
		errs = append(errs, fmt.Errorf("audio.vad.aggressiveness %d is out of range [%d, %d]", lvl, vad.MinAggressiveness, vad.MaxAggressiveness))
	}
	if !vad.ValidFrameMs(v.FrameMs) {
		errs = append(errs, fmt.Errorf("audio.vad.frame_ms %d is invalid; valid values: 10, 20, 30", v.FrameMs))
	}
	if v.SilenceMs < v.FrameMs {
		errs = append(errs, fmt.Errorf("audio.vad.silence_ms %d must be at least one frame (%d ms)", v.SilenceMs, v.FrameMs))
	}
	if v.MinSpeechMs < 0 {
		errs = append(errs, fmt.Errorf("audio.vad.min_speech_ms must not be negative"))
	}
	if cfg.Audio.EchoWindow < 0 {
		errs = append(errs, fmt.Errorf("audio.echo_window must not be negative"))
	}

	switch cfg.Mode {
	case ModeMicrophone:
		errs = append(errs, validateMicrophone(cfg.Audio)...)
	case ModeTelephony:
		errs = append(errs, validateTelephony(cfg.Telephony)...)
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.Translation.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	for kind, list := range map[string][]ProviderEntry{
		"llm": cfg.Providers.LLMFallbacks,
		"stt": cfg.Providers.STTFallbacks,
		"tts": cfg.Providers.TTSFallbacks,
	} {
		for i, e := range list {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			}
			validateProviderName(kind, e.Name)
		}
	}

	// Transcription
	th := cfg.Transcription.Thresholds()
	if th.MinAvgLogProb > 0 {
		errs = append(errs, fmt.Errorf("transcription.min_avg_logprob %v must not be positive", th.MinAvgLogProb))
	}
	if th.MaxNoSpeechProb < 0 || th.MaxNoSpeechProb > 1 {
		errs = append(errs, fmt.Errorf("transcription.max_no_speech_prob %v is out of range [0, 1]", th.MaxNoSpeechProb))
	}

	// Conversation
	lang, err := language.Lookup(cfg.Conversation.Language)
	if err != nil {
		errs = append(errs, fmt.Errorf("conversation.language: %w", err))
	} else if _, err := language.ResolveSpeaker(cfg.Conversation.Speaker, lang); err != nil {
		errs = append(errs, fmt.Errorf("conversation.speaker: %w", err))
	}
	if cfg.Conversation.MaxTokens < 0 {
		errs = append(errs, errors.New("conversation.max_tokens must not be negative"))
	}
	if cfg.Conversation.HistoryLimit < 0 {
		errs = append(errs, errors.New("conversation.history_limit must not be negative"))
	}

	// Pipeline
	if cfg.Pipeline.QueueSize < 0 {
		errs = append(errs, errors.New("pipeline.queue_size must not be negative"))
	}
	if cfg.Pipeline.JoinTimeout < 0 {
		errs = append(errs, errors.New("pipeline.join_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

func validateMicrophone(a AudioConfig) []error {
	var errs []error
	if !vad.ValidSampleRate(a.CaptureRate) {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d is invalid; valid values: 8000, 16000, 32000, 48000", a.CaptureRate))
	}
	if a.PlaybackRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must be positive", a.PlaybackRate))
	}
	if !slices.Contains([]string{"u8", "s8", "s16le"}, a.Local.Encoding) {
		errs = append(errs, fmt.Errorf("audio.local.encoding %q is invalid; valid values: u8, s8, s16le", a.Local.Encoding))
	}
	if a.Local.Input == "" {
		errs = append(errs, errors.New("audio.local.input is required in microphone mode"))
	}
	return errs
}

func validateTelephony(t TelephonyConfig) []error {
	var errs []error
	if t.SIP == nil && t.WebSocket == nil {
		errs = append(errs, errors.New("telephony requires telephony.sip or telephony.websocket"))
	}
	if t.PollInterval <= 0 {
		errs = append(errs, errors.New("telephony.poll_interval must be positive"))
	}
	if sip := t.SIP; sip != nil {
		if sip.RTPPortMin < 0 || sip.RTPPortMax < sip.RTPPortMin || sip.RTPPortMax > 65535 {
			errs = append(errs, fmt.Errorf("telephony.sip rtp port range [%d, %d] is invalid", sip.RTPPortMin, sip.RTPPortMax))
		}
		if r := sip.Register; r != nil {
			if r.Registrar == "" {
				errs = append(errs, errors.New("telephony.sip.register.registrar is required"))
			}
			if r.Username == "" {
				errs = append(errs, errors.New("telephony.sip.register.username is required"))
			}
		}
	}
	if ws := t.WebSocket; ws != nil {
		if !slices.Contains([]string{"mulaw", "alaw", "s16le", "opus"}, ws.Encoding) {
			errs = append(errs, fmt.Errorf("telephony.websocket.encoding %q is invalid; valid values: mulaw, alaw, s16le, opus", ws.Encoding))
		}
		if !vad.ValidSampleRate(ws.SampleRate) {
			errs = append(errs, fmt.Errorf("telephony.websocket.sample_rate %d is invalid; valid values: 8000, 16000, 32000, 48000", ws.SampleRate))
		}
		if len(ws.Path) == 0 || ws.Path[0] != '/' {
			errs = append(errs, fmt.Errorf("telephony.websocket.path %q must start with /", ws.Path))
		}
	}
	return errs
}

// validateProviderName logs a warning when name is non-empty and not in the
// known list for kind. It does not return an error because custom providers
// may be registered at runtime.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if !slices.Contains(known, name) {
		slog.Warn("unknown provider name; it must be registered at runtime",
			"kind", kind, "name", name, "known", known)
	}
}
