package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/types"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 150
)

var _ Responder = (*Pipeline)(nil)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFilter replaces the default transcript filter.
func WithFilter(f *transcript.Filter) Option {
	return func(p *Pipeline) { p.filter = f }
}

// WithHistory shares h as the conversation window.
func WithHistory(h *History) Option {
	return func(p *Pipeline) { p.history = h }
}

// WithMetrics records latencies and provider outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTemperature sets the chat sampling temperature.
func WithTemperature(t float64) Option {
	return func(p *Pipeline) { p.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(p *Pipeline) { p.maxTokens = n }
}

// WithProviderNames labels metrics with the configured backend names.
func WithProviderNames(sttName, llmName, ttsName string) Option {
	return func(p *Pipeline) { p.names = [3]string{sttName, llmName, ttsName} }
}

// Pipeline is the transcribe → filter → chat → synthesize responder.
// It is safe for concurrent use, although the turn controller never runs two
// turns at once.
type Pipeline struct {
	stt stt.Provider
	llm llm.Provider
	tts tts.Provider

	history     *History
	metrics     *observe.Metrics
	temperature float64
	maxTokens   int
	names       [3]string

	mu      sync.RWMutex
	persona Persona
	filter  *transcript.Filter
}

// New builds a Pipeline speaking as persona.
func New(s stt.Provider, l llm.Provider, t tts.Provider, persona Persona, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:         s,
		llm:         l,
		tts:         t,
		persona:     persona,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		names:       [3]string{"stt", "llm", "tts"},
	}
	for _, o := range opts {
		o(p)
	}
	if p.filter == nil {
		p.filter = transcript.Default()
	}
	if p.history == nil {
		p.history = NewHistory(DefaultHistoryWindow)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Persona returns the active persona.
func (p *Pipeline) Persona() Persona {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.persona
}

// SetPersona switches persona for subsequent runs.
func (p *Pipeline) SetPersona(persona Persona) {
	p.mu.Lock()
	p.persona = persona
	p.mu.Unlock()
}

// SetFilter swaps the transcript filter for subsequent runs.
func (p *Pipeline) SetFilter(f *transcript.Filter) {
	p.mu.Lock()
	p.filter = f
	p.mu.Unlock()
}

// History returns the conversation window.
func (p *Pipeline) History() *History { return p.history }

// Run processes one captured clip.
func (p *Pipeline) Run(ctx context.Context, clip audio.Clip) (res Result, err error) {
	p.mu.RLock()
	persona, filter := p.persona, p.filter
	p.mu.RUnlock()

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("language", persona.Language)))
	defer func() {
		span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
		p.metrics.RecordTurn(ctx, res.Outcome.String())
	}()
	log := observe.Logger(ctx)

	if clip.Empty() {
		return Result{Outcome: OutcomeEmpty, Reason: ReasonNoAudio}, nil
	}

	tr, err := p.transcribe(ctx, clip, persona)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	res.Transcript = tr

	if reason := filter.Check(tr.Text); reason != transcript.Accepted {
		log.Debug("engine: transcript filtered", "text", tr.Text, "reason", reason)
		res.Outcome, res.Reason = OutcomeEmpty, string(reason)
		return res, nil
	}
	log.Info("engine: transcript", "text", tr.Text, "language", tr.Language)

	userMsg := types.Message{Role: types.RoleUser, Content: strings.TrimSpace(tr.Text)}
	reply, err := p.chat(ctx, persona, userMsg)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, err
	}
	if reply == "" {
		res.Outcome, res.Reason = OutcomeEmpty, ReasonEmptyReply
		return res, nil
	}
	res.Reply = reply

	clipOut, err := p.synthesize(ctx, persona, reply)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, err
	}

	p.history.Append(userMsg, types.Message{Role: types.RoleAssistant, Content: reply})
	res.Outcome, res.Audio = OutcomeReply, clipOut
	return res, nil
}

// Greet synthesises the persona's greeting. The greeting is not added to the
// conversation window, which always opens with a user turn.
func (p *Pipeline) Greet(ctx context.Context) (audio.Clip, error) {
	persona := p.Persona()
	if strings.TrimSpace(persona.Greeting) == "" {
		return audio.Clip{}, nil
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.greet")
	defer span.End()

	clip, err := p.synthesize(ctx, persona, persona.Greeting)
	if err != nil {
		span.RecordError(err)
		return audio.Clip{}, err
	}
	return clip, nil
}

// Stream answers text incrementally without synthesis. The reply is not
// added to the conversation window.
func (p *Pipeline) Stream(ctx context.Context, text string) (<-chan llm.Chunk, error) {
	persona := p.Persona()
	req := p.request(persona, types.Message{Role: types.RoleUser, Content: text})
	ch, err := p.llm.StreamCompletion(ctx, req)
	if err != nil {
		p.metrics.RecordProviderError(ctx, p.names[1], "llm")
		return nil, fmt.Errorf("engine: stream: %w", err)
	}
	return ch, nil
}

func (p *Pipeline) transcribe(ctx context.Context, clip audio.Clip, persona Persona) (types.Transcript, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe")
	defer span.End()

	start := time.Now()
	tr, err := p.stt.Transcribe(ctx, clip, stt.Options{Language: persona.STTLanguage, Prompt: persona.STTPrompt})
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.fail(ctx, span, p.names[0], "stt", err)
		return types.Transcript{}, fmt.Errorf("engine: transcribe: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, p.names[0], "stt", "ok")
	return tr, nil
}

func (p *Pipeline) chat(ctx context.Context, persona Persona, user types.Message) (string, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.chat")
	defer span.End()

	start := time.Now()
	resp, err := p.llm.Complete(ctx, p.request(persona, user))
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.fail(ctx, span, p.names[1], "llm", err)
		return "", fmt.Errorf("engine: chat: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, p.names[1], "llm", "ok")
	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	return strings.TrimSpace(resp.Content), nil
}

func (p *Pipeline) synthesize(ctx context.Context, persona Persona, text string) (audio.Clip, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.synthesize")
	defer span.End()

	start := time.Now()
	clip, err := p.tts.Synthesize(ctx, text, persona.Voice)
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && clip.Empty() {
		err = ErrNoAudio
	}
	if err != nil {
		p.fail(ctx, span, p.names[2], "tts", err)
		return audio.Clip{}, fmt.Errorf("engine: synthesize: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, p.names[2], "tts", "ok")
	return clip, nil
}

// request lays out the chat context as [system, ...window, user].
func (p *Pipeline) request(persona Persona, user types.Message) llm.CompletionRequest {
	window := p.history.Messages()
	msgs := make([]types.Message, 0, len(window)+1)
	msgs = append(msgs, window...)
	msgs = append(msgs, user)
	maxTokens := p.maxTokens
	if limit := p.llm.Capabilities().MaxOutputTokens; limit > 0 && maxTokens > limit {
		maxTokens = limit
	}
	return llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: persona.SystemPrompt,
		Temperature:  p.temperature,
		MaxTokens:    maxTokens,
	}
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, provider, kind string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	p.metrics.RecordProviderRequest(ctx, provider, kind, "error")
	p.metrics.RecordProviderError(ctx, provider, kind)
}
