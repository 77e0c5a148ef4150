// Package config provides the configuration schema, loader, and provider registry
// for the parley voice front end.
package config

import (
	"time"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// LogLevel controls log verbosity for the parley server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Mode selects where audio comes from.
type Mode string

const (
	// ModeTelephony serves calls arriving over SIP or websocket media streams.
	ModeTelephony Mode = "telephony"

	// ModeMicrophone runs a single conversation over local raw PCM streams.
	ModeMicrophone Mode = "microphone"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeTelephony || m == ModeMicrophone
}

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Mode          Mode                `yaml:"mode"`
	Audio         AudioConfig         `yaml:"audio"`
	Telephony     TelephonyConfig     `yaml:"telephony"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for /metrics, /healthz, /readyz and the
	// websocket media endpoint (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TraceSampleRatio is the fraction of call traces kept, in [0, 1].
	// Zero keeps all of them.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// AudioConfig holds segmentation and local device settings.
type AudioConfig struct {
	VAD VADConfig `yaml:"vad"`

	// EchoWindow is how long captured audio is ignored after a playback
	// chunk starts.
	EchoWindow time.Duration `yaml:"echo_window"`

	// CaptureRate is the microphone sample rate in microphone mode.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the speaker sample rate in microphone mode.
	PlaybackRate int `yaml:"playback_rate"`

	Local LocalAudioConfig `yaml:"local"`
}

// VADConfig parameterises the voice activity segmenter.
type VADConfig struct {
	// Aggressiveness is 0 (least) to 3 (most). Nil means the default of 3.
	Aggressiveness *int `yaml:"aggressiveness"`

	// FrameMs is the classified frame duration: 10, 20 or 30.
	FrameMs int `yaml:"frame_ms"`

	// SilenceMs closes an utterance after this much trailing non-speech.
	SilenceMs int `yaml:"silence_ms"`

	// MinSpeechMs discards utterances no longer than this.
	MinSpeechMs int `yaml:"min_speech_ms"`
}

// Level returns the configured aggressiveness or the default.
func (v VADConfig) Level() int {
	if v.Aggressiveness == nil {
		return defaultAggressiveness
	}
	return *v.Aggressiveness
}

// LocalAudioConfig selects the raw PCM streams used in microphone mode.
type LocalAudioConfig struct {
	// Input is a file path, "-" for stdin, or empty for no capture.
	Input string `yaml:"input"`

	// Output is a file path, "-" for stdout, or empty to discard playback.
	Output string `yaml:"output"`

	// Encoding is u8, s8 or s16le.
	Encoding string `yaml:"encoding"`

	// Realtime paces capture to the audio clock; use it with an input file.
	// Playback is always paced.
	Realtime bool `yaml:"realtime"`
}

// TelephonyConfig configures the call transports. At least one of SIP and
// WebSocket must be set in telephony mode.
type TelephonyConfig struct {
	// PollInterval is how often the bridge checks the call state.
	PollInterval time.Duration `yaml:"poll_interval"`

	SIP       *SIPConfig       `yaml:"sip"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
}

// SIPConfig configures the SIP user agent server.
type SIPConfig struct {
	// ListenAddr is the UDP signalling address (e.g., "0.0.0.0:5060").
	ListenAddr string `yaml:"listen_addr"`

	// PublicIP is advertised in Contact headers and SDP. Defaults to the
	// listen host.
	PublicIP string `yaml:"public_ip"`

	RTPPortMin int `yaml:"rtp_port_min"`
	RTPPortMax int `yaml:"rtp_port_max"`

	// Register, when set, keeps a registration with a SIP provider.
	Register *RegisterConfig `yaml:"register"`
}

// RegisterConfig holds registrar credentials.
type RegisterConfig struct {
	Registrar    string        `yaml:"registrar"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Expires      time.Duration `yaml:"expires"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// WebSocketConfig configures the websocket media stream endpoint.
type WebSocketConfig struct {
	// Path is the HTTP path upgraded to websocket (e.g., "/media").
	Path string `yaml:"path"`

	// Encoding is the default media encoding: mulaw, alaw, s16le or opus.
	// A start event may override it.
	Encoding string `yaml:"encoding"`

	// SampleRate is the default media sample rate.
	SampleRate int `yaml:"sample_rate"`

	// OriginPatterns lists extra origins allowed to connect.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// Translation is the chat model used for translation mode. Defaults to
	// the LLM entry when its name is empty.
	Translation ProviderEntry `yaml:"translation"`

	VAD ProviderEntry `yaml:"vad"`

	// Fallbacks are tried in order when the primary fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// TranscriptionConfig holds the confidence thresholds a transcription must
// meet. Both are model dependent; unset values use [stt.DefaultThresholds].
type TranscriptionConfig struct {
	MinAvgLogProb   *float64 `yaml:"min_avg_logprob"`
	MaxNoSpeechProb *float64 `yaml:"max_no_speech_prob"`
}

// Thresholds returns the effective thresholds.
func (t TranscriptionConfig) Thresholds() stt.Thresholds {
	th := stt.DefaultThresholds()
	if t.MinAvgLogProb != nil {
		th.MinAvgLogProb = *t.MinAvgLogProb
	}
	if t.MaxNoSpeechProb != nil {
		th.MaxNoSpeechProb = *t.MaxNoSpeechProb
	}
	return th
}

// ConversationConfig shapes the assistant's replies.
type ConversationConfig struct {
	// Language is the caller's language by name; misspellings are tolerated.
	Language string `yaml:"language"`

	// Speaker is the TTS voice. Empty selects the language default.
	Speaker string `yaml:"speaker"`

	SystemPrompt string `yaml:"system_prompt"`
	MaxTokens    int    `yaml:"max_tokens"`
	HistoryLimit int    `yaml:"history_limit"`

	// Translate routes non-English conversations through English.
	Translate bool `yaml:"translate"`
}

// PipelineConfig sizes the stage queues and bounds shutdown.
type PipelineConfig struct {
	QueueSize   int           `yaml:"queue_size"`
	JoinTimeout time.Duration `yaml:"join_timeout"`
}
