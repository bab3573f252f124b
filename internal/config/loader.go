package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/internal/turn"
	"github.com/MrWong99/murmur/pkg/provider/realtime"
	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to reject unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":      {"openai", "whisper", "whisper-native"},
	"tts":      {"elevenlabs", "coqui"},
	"realtime": {"openai"},
	"audio":    {"portaudio"},
}

// validate is the shared struct-tag validator.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report YAML key names instead of Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader expands ${ENV} references, decodes a YAML config from r,
// applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeCascade
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}

	if cfg.Turn.PollInterval == 0 {
		cfg.Turn.PollInterval = turn.DefaultPollInterval
	}
	if cfg.Turn.Silence == 0 {
		cfg.Turn.Silence = turn.DefaultSilence
	}
	if cfg.Turn.CaptureRetry == 0 {
		cfg.Turn.CaptureRetry = turn.DefaultCaptureRetry
	}
	if cfg.Turn.ProcessingRetry == 0 {
		cfg.Turn.ProcessingRetry = turn.DefaultProcessingRetry
	}
	if cfg.Turn.MaxDuration == nil {
		d := turn.DefaultMaxTurn
		cfg.Turn.MaxDuration = &d
	}

	d := cfg.VADParams()
	cfg.VAD = VADConfig{
		HistorySize:       d.HistorySize,
		MinSamples:        d.MinSamples,
		InitialNoiseFloor: d.InitialNoiseFloor,
		MinNoiseFloor:     d.MinNoiseFloor,
		Smoothing:         d.Smoothing,
		Percentile:        d.Percentile,
		Margin:            d.Margin,
		MinThreshold:      d.MinThreshold,
		AbsoluteFloor:     d.AbsoluteFloor,
		Corroboration:     d.Corroboration,
		ConfirmCount:      d.ConfirmCount,
	}

	if len(cfg.Transcript.NoisePatterns) == 0 {
		cfg.Transcript.NoisePatterns = slices.Clone(transcript.DefaultPatterns)
	}
	if cfg.Transcript.MinLength == nil {
		n := transcript.DefaultMinLength
		cfg.Transcript.MinLength = &n
	}

	if cfg.Chat.Temperature == nil {
		t := engine.DefaultTemperature
		cfg.Chat.Temperature = &t
	}
	if cfg.Chat.MaxTokens == 0 {
		cfg.Chat.MaxTokens = engine.DefaultMaxTokens
	}
	if cfg.Chat.HistoryWindow == 0 {
		cfg.Chat.HistoryWindow = engine.DefaultHistoryWindow
	}

	if cfg.Realtime.ConnectTimeout == 0 {
		cfg.Realtime.ConnectTimeout = realtime.DefaultConnectTimeout
	}
	if cfg.Journal.Backend == "" {
		cfg.Journal.Backend = JournalNone
	}
}

// VADParams converts the vad section into detector parameters, with zero
// fields replaced by the detector defaults.
func (c *Config) VADParams() vad.Config {
	return vad.Config{
		HistorySize:       c.VAD.HistorySize,
		MinSamples:        c.VAD.MinSamples,
		InitialNoiseFloor: c.VAD.InitialNoiseFloor,
		MinNoiseFloor:     c.VAD.MinNoiseFloor,
		Smoothing:         c.VAD.Smoothing,
		Percentile:        c.VAD.Percentile,
		Margin:            c.VAD.Margin,
		MinThreshold:      c.VAD.MinThreshold,
		AbsoluteFloor:     c.VAD.AbsoluteFloor,
		Corroboration:     c.VAD.Corroboration,
		ConfirmCount:      c.VAD.ConfirmCount,
	}.WithDefaults()
}

// TurnTiming converts the turn section into state machine timing.
func (c *Config) TurnTiming() turn.Timing {
	t := turn.Timing{
		Silence:         c.Turn.Silence,
		CaptureRetry:    c.Turn.CaptureRetry,
		ProcessingRetry: c.Turn.ProcessingRetry,
		MaxTurn:         turn.DefaultMaxTurn,
	}
	if c.Turn.MaxDuration != nil {
		t.MaxTurn = *c.Turn.MaxDuration
	}
	return t
}

// Validate checks that cfg contains a coherent set of values. Struct tags
// are checked first, then the semantic rules. It returns a joined error
// listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s %s", fieldPath(fe), formatValidationMessage(fe)))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if !cfg.HasLanguage(cfg.Language) {
		errs = append(errs, fmt.Errorf("language %q is not in the language table; built-in: %s", cfg.Language, strings.Join(BuiltinLanguages(), ", ")))
	}

	errs = append(errs, validateProviderName("llm", "providers.llm", cfg.Providers.LLM.Name))
	errs = append(errs, validateProviderName("stt", "providers.stt", cfg.Providers.STT.Name))
	errs = append(errs, validateProviderName("tts", "providers.tts", cfg.Providers.TTS.Name))
	errs = append(errs, validateProviderName("realtime", "providers.realtime", cfg.Providers.Realtime.Name))
	errs = append(errs, validateProviderName("audio", "providers.audio", cfg.Providers.Audio.Name))
	for i, e := range cfg.Providers.LLMFallbacks {
		errs = append(errs, requireProviderName("llm", fmt.Sprintf("providers.llm_fallbacks[%d]", i), e.Name))
	}
	for i, e := range cfg.Providers.STTFallbacks {
		errs = append(errs, requireProviderName("stt", fmt.Sprintf("providers.stt_fallbacks[%d]", i), e.Name))
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		errs = append(errs, requireProviderName("tts", fmt.Sprintf("providers.tts_fallbacks[%d]", i), e.Name))
	}

	// Mode ↔ provider cross-validation
	switch cfg.Mode {
	case ModeCascade:
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("mode cascade requires providers.stt"))
		}
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New("mode cascade requires providers.llm"))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, errors.New("mode cascade requires providers.tts"))
		}
	case ModeRealtime:
		if cfg.Providers.Realtime.Name == "" {
			errs = append(errs, errors.New("mode realtime requires providers.realtime"))
		} else if err := realtime.ValidateAPIKey(cfg.Providers.Realtime.APIKey); err != nil {
			errs = append(errs, fmt.Errorf("providers.realtime.api_key: %w", err))
		}
	}

	for i, p := range cfg.Transcript.NoisePatterns {
		if _, err := transcript.CompilePattern(p); err != nil {
			errs = append(errs, fmt.Errorf("transcript.noise_patterns[%d]: %w", i, err))
		}
	}
	for i, p := range cfg.Transcript.ExtraNoisePatterns {
		if _, err := transcript.CompilePattern(p); err != nil {
			errs = append(errs, fmt.Errorf("transcript.extra_noise_patterns[%d]: %w", i, err))
		}
	}

	if cfg.Journal.Backend != JournalPostgres && cfg.Journal.PostgresDSN != "" {
		slog.Warn("journal.postgres_dsn is set but journal.backend is not postgres; the DSN is ignored",
			"backend", cfg.Journal.Backend,
		)
	}

	return errors.Join(errs...)
}

// validateProviderName reports an error if name is non-empty and not found
// in the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, field, name string) error {
	if name == "" {
		return nil
	}
	known := ValidProviderNames[kind]
	if slices.Contains(known, name) {
		return nil
	}
	return fmt.Errorf("%s.name %q is unknown; valid values: %s", field, name, strings.Join(known, ", "))
}

func requireProviderName(kind, field, name string) error {
	if name == "" {
		return fmt.Errorf("%s.name is required", field)
	}
	return validateProviderName(kind, field, name)
}

// fieldPath turns a validator namespace ("Config.turn.silence") into the
// YAML path of the field ("turn.silence").
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

// formatValidationMessage creates a human-readable message from a validator error.
func formatValidationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "hostname_port":
		return "must be a host:port address"
	default:
		return fmt.Sprintf("failed validation '%s'", fe.Tag())
	}
}
