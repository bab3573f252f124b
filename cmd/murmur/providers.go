package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/murmur/pkg/provider/llm/openai"
	"github.com/MrWong99/murmur/pkg/provider/realtime"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	oastt "github.com/MrWong99/murmur/pkg/provider/stt/openai"
	"github.com/MrWong99/murmur/pkg/provider/stt/whisper"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/provider/tts/coqui"
	"github.com/MrWong99/murmur/pkg/provider/tts/elevenlabs"
)

// defaultAudio is used when providers.audio is not configured.
const defaultAudio = "portaudio"

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining chat backends share the any-llm pattern: optional APIKey
	// and optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
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

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, elevenlabs.WithTimeout(d))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Realtime ──────────────────────────────────────────────────────────────

	reg.RegisterRealtime("openai", func(_ config.ProviderEntry, session realtime.Config) (realtime.Client, error) {
		if err := realtime.ValidateAPIKey(session.APIKey); err != nil {
			return nil, err
		}
		return realtime.New(session), nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	registerAudio(reg)

	for _, kind := range []string{"llm", "stt", "tts", "realtime", "audio"} {
		for _, name := range reg.Names(kind) {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every provider the configured mode needs using
// the registry and returns them in an [app.Providers] struct for the
// application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	switch cfg.Mode {
	case config.ModeRealtime:
		entry := cfg.Providers.Realtime
		c, err := reg.CreateRealtime(entry, app.RealtimeSession(cfg))
		if err != nil {
			return nil, fmt.Errorf("create realtime provider %q: %w", entry.Name, err)
		}
		ps.Realtime = c
		slog.Info("provider created", "kind", "realtime", "name", entry.Name)

	default:
		var err error
		if ps.STT, err = create("stt", cfg.Providers.STT, reg.CreateSTT); err != nil {
			return nil, err
		}
		if ps.LLM, err = create("llm", cfg.Providers.LLM, reg.CreateLLM); err != nil {
			return nil, err
		}
		if ps.TTS, err = create("tts", cfg.Providers.TTS, reg.CreateTTS); err != nil {
			return nil, err
		}
		ps.STTFallbacks = createFallbacks("stt", cfg.Providers.STTFallbacks, reg.CreateSTT)
		ps.LLMFallbacks = createFallbacks("llm", cfg.Providers.LLMFallbacks, reg.CreateLLM)
		ps.TTSFallbacks = createFallbacks("tts", cfg.Providers.TTSFallbacks, reg.CreateTTS)
	}

	entry := audioEntry(cfg)
	dev, err := reg.CreateAudio(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) && entry.Name == defaultAudio {
		return nil, fmt.Errorf("create audio provider %q: %w (rebuild with -tags portaudio)", entry.Name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("create audio provider %q: %w", entry.Name, err)
	}
	ps.Audio = dev
	slog.Info("provider created", "kind", "audio", "name", entry.Name)

	return ps, nil
}

func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// createFallbacks builds the fallback chain of one kind. A fallback that
// cannot be built is skipped with a warning; the primary still serves.
func createFallbacks[T any](kind string, entries []config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) []app.Named[T] {
	var out []app.Named[T]
	for _, entry := range entries {
		p, err := factory(entry)
		if err != nil {
			slog.Warn("fallback provider skipped", "kind", kind, "name", entry.Name, "err", err)
			continue
		}
		out = append(out, app.Named[T]{Name: entry.Name, Provider: p})
		slog.Info("fallback provider created", "kind", kind, "name", entry.Name)
	}
	return out
}

func audioEntry(cfg *config.Config) config.ProviderEntry {
	entry := cfg.Providers.Audio
	if entry.Name == "" {
		entry.Name = defaultAudio
	}
	return entry
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration string such as "30s" from a provider Options
// map. Returns 0 when absent or malformed.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
