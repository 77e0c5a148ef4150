package main

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/language"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	oaistt "github.com/MrWong99/parley/pkg/provider/stt/openai"
	"github.com/MrWong99/parley/pkg/provider/stt/whisper"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/coqui"
	oaitts "github.com/MrWong99/parley/pkg/provider/tts/openai"
	"github.com/MrWong99/parley/pkg/provider/vad"
	"github.com/MrWong99/parley/pkg/provider/vad/energy"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. vadLevel is the configured
// classifier aggressiveness.
func registerBuiltinProviders(reg *config.Registry, vadLevel int) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other any-llm backend takes an optional APIKey and BaseURL. Ollama,
	// llama.cpp and llamafile are local servers and usually only need BaseURL.
	for _, backend := range anyllm.Backends() {
		if backend == "openai" {
			continue
		}
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllm.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllm.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllm.WithBaseURL(entry.BaseURL))
			}
			if n, ok := entry.Options["reply_tokens"].(int); ok {
				opts = append(opts, anyllm.WithReplyTokens(n))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if speed, ok := optFloat(entry.Options, "speed"); ok {
			opts = append(opts, oaitts.WithSpeed(speed))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Classifier, error) {
		var opts []energy.Option
		if v, ok := optFloat(entry.Options, "rms_threshold"); ok {
			opts = append(opts, energy.WithRMSThreshold(v))
		}
		if v, ok := optFloat(entry.Options, "zcr_ceiling"); ok {
			opts = append(opts, energy.WithZCRCeiling(v))
		}
		return energy.New(vadLevel, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts", "vad"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
// Configured fallbacks are chained behind the primary with a circuit breaker
// per backend. STT and TTS entries without a language option get the
// conversation language.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, error) {
	lang, err := language.Lookup(cfg.Conversation.Language)
	if err != nil {
		return nil, err
	}
	pc := cfg.Providers
	fbCfg := resilience.FallbackConfig{Metrics: m}
	ps := &app.Providers{}

	ps.LLM, err = create("llm", pc.LLM, reg.CreateLLM)
	if err != nil {
		return nil, err
	}
	if len(pc.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(ps.LLM, label(pc.LLM), fbCfg)
		for _, e := range pc.LLMFallbacks {
			p, err := create("llm", e, reg.CreateLLM)
			if err != nil {
				return nil, err
			}
			fb.AddFallback(label(e), p)
		}
		ps.LLM = fb
	}

	ps.STT, err = create("stt", withLanguage(pc.STT, lang.Code), reg.CreateSTT)
	if err != nil {
		return nil, err
	}
	if len(pc.STTFallbacks) > 0 {
		fb := resilience.NewSTTFallback(ps.STT, label(pc.STT), fbCfg)
		for _, e := range pc.STTFallbacks {
			p, err := create("stt", withLanguage(e, lang.Code), reg.CreateSTT)
			if err != nil {
				return nil, err
			}
			fb.AddFallback(label(e), p)
		}
		ps.STT = fb
	}

	ps.TTS, err = create("tts", withLanguage(pc.TTS, lang.Code), reg.CreateTTS)
	if err != nil {
		return nil, err
	}
	if len(pc.TTSFallbacks) > 0 {
		fb := resilience.NewTTSFallback(ps.TTS, label(pc.TTS), fbCfg)
		for _, e := range pc.TTSFallbacks {
			p, err := create("tts", withLanguage(e, lang.Code), reg.CreateTTS)
			if err != nil {
				return nil, err
			}
			fb.AddFallback(label(e), p)
		}
		ps.TTS = fb
	}

	// Translation defaults to the chat entry; reuse the provider then.
	if pc.Translation.Name != "" && !sameEntry(pc.Translation, pc.LLM) {
		ps.Translation, err = create("translation", pc.Translation, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
	}

	if pc.VAD.Name != "" {
		ps.VAD, err = create("vad", pc.VAD, reg.CreateVAD)
		if err != nil {
			return nil, err
		}
	}
	return ps, nil
}

func create[T any](kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := fn(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// label names an entry in breaker logs and metrics.
func label(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

func sameEntry(a, b config.ProviderEntry) bool {
	return a.Name == b.Name && a.Model == b.Model && a.BaseURL == b.BaseURL && a.APIKey == b.APIKey
}

// withLanguage returns e with Options["language"] set to code unless it is
// already set. e's map is not modified.
func withLanguage(e config.ProviderEntry, code string) config.ProviderEntry {
	if optString(e.Options, "language") != "" {
		return e
	}
	opts := make(map[string]any, len(e.Options)+1)
	for k, v := range e.Options {
		opts[k] = v
	}
	opts["language"] = code
	e.Options = opts
	return e
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML decodes
// integers as int, so both are accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
