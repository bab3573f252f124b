// Package app wires the murmur subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the pipeline, journal
// and probes from the config, Run serves health and metrics while one
// conversation session runs, ApplyConfig hot-reloads what can change
// without a restart, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via [Providers] and the
// functional options (WithJournal, WithVADEngine, ...). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/health"
	"github.com/MrWong99/murmur/internal/journal"
	pgjournal "github.com/MrWong99/murmur/internal/journal/postgres"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/resilience"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/internal/transcript/phonetic"
	"github.com/MrWong99/murmur/internal/turn"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/realtime"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/provider/vad"
	"github.com/MrWong99/murmur/pkg/provider/vad/energy"
)

// shutdownTimeout bounds the graceful stop of the HTTP server.
const shutdownTimeout = 5 * time.Second

// cascadeFormat is what cascade mode records for transcription.
var cascadeFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Named pairs a provider with the registry name it was built from.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// Fallbacks are tried in order when the primary of their kind fails.
	LLMFallbacks []Named[llm.Provider]
	STTFallbacks []Named[stt.Provider]
	TTSFallbacks []Named[tts.Provider]

	Realtime realtime.Client
	Audio    audio.Device
}

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	journal   journal.Journal
	vadEngine vad.Engine
	levelVar  *slog.LevelVar
	breaker   resilience.FallbackConfig

	mu  sync.Mutex
	cfg *config.Config

	// Cascade mode only.
	pipeline *engine.Pipeline
	llmFB    *resilience.LLMFallback
	sttFB    *resilience.STTFallback
	ttsFB    *resilience.TTSFallback

	health   *health.Handler
	sessions *SessionManager

	// runSession drives sessions; realtime mode wraps it in a Reconnector.
	runSession func(context.Context) error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithJournal injects a journal instead of creating one from config.
func WithJournal(j journal.Journal) Option {
	return func(a *App) { a.journal = j }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithVADEngine replaces the energy detector factory.
func WithVADEngine(e vad.Engine) Option {
	return func(a *App) { a.vadEngine = e }
}

// WithLevelVar lets ApplyConfig change the level of the process logger.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithBreakerConfig tunes the circuit breakers of the provider fallbacks.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(a *App) { a.breaker = resilience.FallbackConfig{CircuitBreaker: cfg} }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from a validated config. The providers come from
// main.go (populated via the config registry); the ones the configured mode
// needs must be non-nil.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.vadEngine == nil {
		a.vadEngine = energy.New()
	}
	if providers.Audio == nil {
		return nil, errors.New("app: an audio device is required")
	}

	if err := a.initJournal(ctx); err != nil {
		return nil, fmt.Errorf("app: init journal: %w", err)
	}

	a.health = health.New()
	var factory SessionFactory
	switch cfg.Mode {
	case config.ModeRealtime:
		if providers.Realtime == nil {
			return nil, errors.New("app: realtime mode requires a realtime provider")
		}
		a.health.Add(health.RealtimeCheck(providers.Realtime))
		factory = a.newRealtimeSession
	default:
		if err := a.initPipeline(); err != nil {
			return nil, fmt.Errorf("app: init pipeline: %w", err)
		}
		a.health.Add(
			health.LoopCheck(loopProbe{a}, time.Now),
			health.BreakerCheck("llm", a.llmFB.Status),
			health.BreakerCheck("stt", a.sttFB.Status),
			health.BreakerCheck("tts", a.ttsFB.Status),
		)
		factory = a.newCascadeSession
	}
	a.sessions = NewSessionManager(cfg.Mode, cfg.Language, factory)
	a.runSession = a.sessions.Run
	if cfg.Mode == config.ModeRealtime {
		a.runSession = NewReconnector(cfg.Realtime.Reconnect, a.sessions.Run).Run
	}
	if a.pipeline != nil {
		if err := a.initNoiseFloorGauge(); err != nil {
			slog.Warn("noise floor gauge unavailable", "err", err)
		}
	}

	a.closers = append(a.closers, providers.Audio.Close)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initJournal opens the configured journal backend unless one was injected.
func (a *App) initJournal(ctx context.Context) error {
	if a.journal != nil {
		return nil
	}
	switch a.cfg.Journal.Backend {
	case config.JournalMemory:
		a.journal = journal.NewMemory()
	case config.JournalPostgres:
		j, err := pgjournal.New(ctx, a.cfg.Journal.PostgresDSN)
		if err != nil {
			return err
		}
		a.journal = j
	default:
		return nil
	}
	a.closers = append(a.closers, a.journal.Close)
	return nil
}

// initPipeline wraps the cascade providers in fallback groups and builds the
// response pipeline.
func (a *App) initPipeline() error {
	p := a.providers
	if p.STT == nil || p.LLM == nil || p.TTS == nil {
		return errors.New("cascade mode requires stt, llm and tts providers")
	}
	names := a.cfg.Providers

	a.llmFB = resilience.NewLLMFallback(p.LLM, names.LLM.Name, a.breaker)
	for _, fb := range p.LLMFallbacks {
		a.llmFB.AddFallback(fb.Name, fb.Provider)
	}
	a.sttFB = resilience.NewSTTFallback(p.STT, names.STT.Name, a.breaker)
	for _, fb := range p.STTFallbacks {
		a.sttFB.AddFallback(fb.Name, fb.Provider)
	}
	a.ttsFB = resilience.NewTTSFallback(p.TTS, names.TTS.Name, a.breaker)
	for _, fb := range p.TTSFallbacks {
		a.ttsFB.AddFallback(fb.Name, fb.Provider)
	}

	filter, err := BuildFilter(a.cfg.Transcript)
	if err != nil {
		return err
	}

	temperature := engine.DefaultTemperature
	if a.cfg.Chat.Temperature != nil {
		temperature = *a.cfg.Chat.Temperature
	}
	a.pipeline = engine.New(a.sttFB, a.llmFB, a.ttsFB, Persona(a.cfg),
		engine.WithFilter(filter),
		engine.WithHistory(engine.NewHistory(a.cfg.Chat.HistoryWindow)),
		engine.WithMetrics(a.metrics),
		engine.WithTemperature(temperature),
		engine.WithMaxTokens(a.cfg.Chat.MaxTokens),
		engine.WithProviderNames(names.STT.Name, names.LLM.Name, names.TTS.Name),
	)
	return nil
}

// initNoiseFloorGauge reports the active detector's noise floor, or the
// configured initial floor between sessions.
func (a *App) initNoiseFloorGauge() error {
	initial := a.cfg.VADParams().InitialNoiseFloor
	reg, err := a.metrics.ObserveNoiseFloor(func() float64 {
		if s, ok := a.sessions.Current().(*cascadeSession); ok {
			return s.NoiseFloor()
		}
		return initial
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, reg.Unregister)
	return nil
}

// ─── Sessions ────────────────────────────────────────────────────────────────

// cascadeSession owns the detector session of one turn controller.
type cascadeSession struct {
	*turn.Controller
	det vad.SessionHandle
}

func (s *cascadeSession) Run(ctx context.Context) error {
	defer s.det.Close()
	return s.Controller.Run(ctx)
}

func (a *App) newCascadeSession(info SessionInfo) (Session, error) {
	cfg := a.config()
	det, err := a.vadEngine.NewSession(cfg.VADParams())
	if err != nil {
		return nil, fmt.Errorf("vad session: %w", err)
	}
	opts := []turn.Option{turn.WithMetrics(a.metrics)}
	if a.journal != nil {
		opts = append(opts, turn.WithJournal(a.journal))
	}
	ctrl := turn.New(turn.Config{
		Timing:       cfg.TurnTiming(),
		PollInterval: cfg.Turn.PollInterval,
		Greet:        cfg.Greet,
		Capture:      audio.CaptureOptions{Format: cascadeFormat, Metering: true},
		SessionID:    info.SessionID,
		Language:     info.Language,
	}, a.providers.Audio, a.providers.Audio, det, a.pipeline, opts...)
	return &cascadeSession{Controller: ctrl, det: det}, nil
}

func (a *App) newRealtimeSession(info SessionInfo) (Session, error) {
	cfg := a.config()
	opts := []RealtimeOption{WithRealtimeMetrics(a.metrics)}
	if a.journal != nil {
		opts = append(opts, WithRealtimeJournal(a.journal))
	}
	return NewRealtimeRunner(RealtimeConfig{
		Greet:     cfg.Greet,
		SessionID: info.SessionID,
		Language:  info.Language,
	}, a.providers.Realtime, a.providers.Audio, a.providers.Audio, opts...), nil
}

// loopProbe exposes the active controller to the loop health check.
type loopProbe struct{ a *App }

func (p loopProbe) current() health.Loop {
	if l, ok := p.a.sessions.Current().(health.Loop); ok {
		return l
	}
	return nil
}

func (p loopProbe) Running() bool {
	l := p.current()
	return l != nil && l.Running()
}

func (p loopProbe) LastPoll() time.Time {
	if l := p.current(); l != nil {
		return l.LastPoll()
	}
	return time.Time{}
}

func (p loopProbe) PollInterval() time.Duration {
	if l := p.current(); l != nil {
		return l.PollInterval()
	}
	return p.a.config().Turn.PollInterval
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the health and metrics endpoints and runs one conversation
// session until ctx is cancelled or the session fails. It returns nil on
// cancellation.
func (a *App) Run(ctx context.Context) error {
	cfg := a.config()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
			var err error
			if tls := cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		err := a.runSession(gctx)
		if gctx.Err() != nil {
			return nil
		}
		if err == nil {
			// The session ended on its own; stop the server too.
			return errors.New("app: session ended")
		}
		return err
	})

	slog.Info("app running", "mode", cfg.Mode, "language", cfg.Language)
	return g.Wait()
}

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Journal returns the configured journal, or nil when journaling is off.
func (a *App) Journal() journal.Journal { return a.journal }

// Pipeline returns the response pipeline, or nil in realtime mode.
func (a *App) Pipeline() *engine.Pipeline { return a.pipeline }

func (a *App) config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable differences between the running
// config and next: the log level, the transcript filter and the language
// persona. Sections that need a restart are logged and otherwise ignored.
// It is safe to call from the config watcher goroutine.
func (a *App) ApplyConfig(next *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, next)
	if !d.Changed() {
		return nil
	}

	var errs []error
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TranscriptChanged && a.pipeline != nil {
		f, err := BuildFilter(next.Transcript)
		if err != nil {
			errs = append(errs, err)
		} else {
			a.pipeline.SetFilter(f)
			slog.Info("transcript filter reloaded",
				"patterns", len(next.Transcript.NoisePatterns)+len(next.Transcript.ExtraNoisePatterns))
		}
	}
	if d.LanguageChanged {
		if a.pipeline != nil {
			a.pipeline.SetPersona(Persona(next))
			slog.Info("language changed", "language", d.NewLanguage)
		} else {
			slog.Warn("language change in realtime mode takes effect after a restart", "language", d.NewLanguage)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that require a restart", "sections", d.RestartRequired)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	// Restart-only sections keep their running values.
	merged := *a.cfg
	merged.Server.LogLevel = next.Server.LogLevel
	merged.Transcript = next.Transcript
	merged.Language = next.Language
	merged.Languages = next.Languages
	a.cfg = &merged
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.sessions.IsActive() {
			_ = a.sessions.Stop()
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Persona builds the pipeline persona for the config's active language.
func Persona(cfg *config.Config) engine.Persona {
	p := cfg.ActiveProfile()
	return engine.Persona{
		Language:     cfg.Language,
		SystemPrompt: p.ChatPrompt,
		Greeting:     p.Greeting,
		Voice:        tts.NewVoice(p.TTSVoiceID, cfg.Providers.TTS.Name),
		STTLanguage: p.STTHint,
	}
}

// RealtimeSession builds the realtime socket settings for the config's
// active language.
func RealtimeSession(cfg *config.Config) realtime.Config {
	p := cfg.ActiveProfile()
	entry := cfg.Providers.Realtime
	return realtime.Config{
		APIKey:         entry.APIKey,
		URL:            entry.BaseURL,
		Model:          entry.Model,
		Voice:          p.RealtimeVoice,
		Instructions:   p.RealtimeInstructions,
		ConnectTimeout: cfg.Realtime.ConnectTimeout,
	}
}

// BuildFilter compiles the transcript section into a filter.
func BuildFilter(tc config.TranscriptConfig) (*transcript.Filter, error) {
	opts := []transcript.Option{
		transcript.WithPatterns(tc.NoisePatterns),
		transcript.WithExtraPatterns(tc.ExtraNoisePatterns),
	}
	if tc.MinLength != nil {
		opts = append(opts, transcript.WithMinLength(*tc.MinLength))
	}
	if tc.FuzzyFillers {
		fillers := tc.Fillers
		if len(fillers) == 0 {
			fillers = transcript.DefaultFillers
		}
		opts = append(opts, transcript.WithFillerMatcher(phonetic.New(), fillers))
	}
	f, err := transcript.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("transcript filter: %w", err)
	}
	return f, nil
}
