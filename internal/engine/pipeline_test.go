package engine_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	llmmock "github.com/MrWong99/murmur/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/murmur/pkg/provider/stt/mock"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	ttsmock "github.com/MrWong99/murmur/pkg/provider/tts/mock"
	"github.com/MrWong99/murmur/pkg/types"
)

var (
	captured = audio.Clip{Data: make([]byte, 3200), Format: audio.Format{SampleRate: 16000, Channels: 1}}
	spoken   = audio.Clip{Data: []byte{1, 0, 2, 0}, Format: audio.Format{SampleRate: 24000, Channels: 1}}
	persona  = engine.Persona{
		Language:     "en",
		SystemPrompt: "You are a friendly companion.",
		Greeting:     "Hi! What shall we talk about?",
		Voice:        tts.VoiceProfile{ID: "voice-en"},
		STTLanguage:  "en",
	}
)

type fixture struct {
	stt    *sttmock.Provider
	llm    *llmmock.Provider
	tts    *ttsmock.Provider
	reader *sdkmetric.ManualReader
	p      *engine.Pipeline
}

func newFixture(t *testing.T, heard string, opts ...engine.Option) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{
		stt:    &sttmock.Provider{Fallback: sttmock.Result{Transcript: types.Transcript{Text: heard, Language: "en"}}},
		llm:    &llmmock.Provider{Fallback: llmmock.Reply{Content: "  Sure, here you go.  "}},
		tts:    &ttsmock.Provider{Clip: spoken},
		reader: reader,
	}
	opts = append([]engine.Option{engine.WithMetrics(m), engine.WithProviderNames("whisper", "openai", "elevenlabs")}, opts...)
	f.p = engine.New(f.stt, f.llm, f.tts, persona, opts...)
	return f
}

func (f *fixture) turns(t *testing.T, outcome string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "murmur.turns.completed" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if v, ok := dp.Attributes.Value("outcome"); ok && v.AsString() == outcome {
					return dp.Value
				}
			}
		}
	}
	return 0
}

func TestRun_Reply(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "I would like some tea please")

	res, err := f.p.Run(context.Background(), captured)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcome != engine.OutcomeReply {
		t.Fatalf("outcome = %v, want reply", res.Outcome)
	}
	if res.Reply != "Sure, here you go." {
		t.Errorf("reply = %q", res.Reply)
	}
	if string(res.Audio.Data) != string(spoken.Data) {
		t.Errorf("audio = %v", res.Audio.Data)
	}
	if res.Transcript.Text != "I would like some tea please" {
		t.Errorf("transcript = %q", res.Transcript.Text)
	}

	if got := f.stt.Calls[0].Opts.Language; got != "en" {
		t.Errorf("stt language = %q, want en", got)
	}
	req := f.llm.LastRequest()
	if req.SystemPrompt != persona.SystemPrompt {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if req.Temperature != engine.DefaultTemperature || req.MaxTokens != engine.DefaultMaxTokens {
		t.Errorf("temperature/max tokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != types.RoleUser {
		t.Errorf("messages = %+v, want the single user turn", req.Messages)
	}
	if f.tts.Calls[0].Voice.ID != "voice-en" || f.tts.Calls[0].Text != "Sure, here you go." {
		t.Errorf("tts call = %+v", f.tts.Calls[0])
	}
	if f.p.History().Len() != 2 {
		t.Errorf("history len = %d, want 2", f.p.History().Len())
	}
	if got := f.turns(t, "reply"); got != 1 {
		t.Errorf("turns{reply} = %d, want 1", got)
	}
}

func TestRun_SecondTurnCarriesHistory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "Tell me about tea")
	ctx := context.Background()

	for range 2 {
		if _, err := f.p.Run(ctx, captured); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	msgs := f.llm.LastRequest().Messages
	wantRoles := []string{types.RoleUser, types.RoleAssistant, types.RoleUser}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("messages = %+v", msgs)
	}
	for i, r := range wantRoles {
		if msgs[i].Role != r {
			t.Errorf("message %d role = %q, want %q", i, msgs[i].Role, r)
		}
	}
}

func TestRun_FilteredTranscriptSkipsChat(t *testing.T) {
	t.Parallel()

	for _, heard := range []string{"uh", "", "  ", "um", "42", "the"} {
		f := newFixture(t, heard)
		res, err := f.p.Run(context.Background(), captured)
		if err != nil {
			t.Fatalf("Run(%q): %v", heard, err)
		}
		if res.Outcome != engine.OutcomeEmpty {
			t.Errorf("Run(%q) outcome = %v, want empty", heard, res.Outcome)
		}
		if res.Reason == "" {
			t.Errorf("Run(%q) has no reason", heard)
		}
		if n := f.llm.CallCount(); n != 0 {
			t.Errorf("Run(%q): chat called %d times, want 0", heard, n)
		}
		if n := f.tts.CallCount(); n != 0 {
			t.Errorf("Run(%q): tts called %d times, want 0", heard, n)
		}
		if f.p.History().Len() != 0 {
			t.Errorf("Run(%q) touched history", heard)
		}
	}
}

func TestRun_ChatFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "I would like some tea please")
	f.llm.Fallback = llmmock.Reply{Err: &provider.APIError{Provider: "openai", StatusCode: http.StatusInternalServerError, Body: "boom"}}

	res, err := f.p.Run(context.Background(), captured)
	if res.Outcome != engine.OutcomeFailed {
		t.Fatalf("outcome = %v, want failed", res.Outcome)
	}
	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Fatalf("error = %v, want wrapped 500 APIError", err)
	}
	if f.tts.CallCount() != 0 {
		t.Error("tts called after chat failure")
	}
	if f.p.History().Len() != 0 {
		t.Error("failed turn recorded in history")
	}
	if got := f.turns(t, "failed"); got != 1 {
		t.Errorf("turns{failed} = %d, want 1", got)
	}
}

func TestRun_TranscriptionFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	f.stt.Fallback = sttmock.Result{Err: errors.New("whisper down")}

	res, err := f.p.Run(context.Background(), captured)
	if err == nil || res.Outcome != engine.OutcomeFailed {
		t.Fatalf("Run = %v, %v; want failed", res.Outcome, err)
	}
	if f.llm.CallCount() != 0 {
		t.Error("chat called after transcription failure")
	}
}

func TestRun_EmptySynthesisFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "I would like some tea please")
	f.tts.Clip = audio.Clip{}

	res, err := f.p.Run(context.Background(), captured)
	if !errors.Is(err, engine.ErrNoAudio) || res.Outcome != engine.OutcomeFailed {
		t.Fatalf("Run = %v, %v; want ErrNoAudio", res.Outcome, err)
	}
}

func TestRun_EmptyReplyAndEmptyClip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "I would like some tea please")
	f.llm.Fallback = llmmock.Reply{Content: "   "}
	res, err := f.p.Run(context.Background(), captured)
	if err != nil || res.Outcome != engine.OutcomeEmpty || res.Reason != engine.ReasonEmptyReply {
		t.Errorf("blank reply: %+v, %v", res, err)
	}

	f = newFixture(t, "anything")
	res, err = f.p.Run(context.Background(), audio.Clip{})
	if err != nil || res.Outcome != engine.OutcomeEmpty || res.Reason != engine.ReasonNoAudio {
		t.Errorf("empty clip: %+v, %v", res, err)
	}
	if f.stt.CallCount() != 0 {
		t.Error("empty clip sent to transcription")
	}
}

func TestRun_FilterSwap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "thank you for watching")

	if res, _ := f.p.Run(context.Background(), captured); res.Outcome != engine.OutcomeReply {
		t.Fatalf("outcome = %v, want reply with default filter", res.Outcome)
	}
	flt, err := transcript.New(transcript.WithPatterns([]string{`^thank you for watching$`}))
	if err != nil {
		t.Fatal(err)
	}
	f.p.SetFilter(flt)
	if res, _ := f.p.Run(context.Background(), captured); res.Outcome != engine.OutcomeEmpty {
		t.Errorf("outcome = %v, want empty after filter swap", res.Outcome)
	}
}

func TestGreet(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	clip, err := f.p.Greet(context.Background())
	if err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if clip.Empty() || f.tts.Calls[0].Text != persona.Greeting {
		t.Errorf("greet synthesised %+v", f.tts.Calls)
	}
	if n := f.p.History().Len(); n != 0 {
		t.Errorf("history after greeting = %d messages, want 0", n)
	}

	silent := persona
	silent.Greeting = ""
	f.p.SetPersona(silent)
	clip, err = f.p.Greet(context.Background())
	if err != nil || !clip.Empty() {
		t.Errorf("Greet without greeting = %v, %v", clip, err)
	}
	if f.tts.CallCount() != 1 {
		t.Errorf("tts calls = %d, want 1", f.tts.CallCount())
	}
}

func TestStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	f.llm.StreamChunkSize = 3
	f.llm.Fallback = llmmock.Reply{Content: "Hello there!"}

	ch, err := f.p.Stream(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := llm.Collect(context.Background(), ch)
	if err != nil || text != "Hello there!" {
		t.Errorf("Collect = %q, %v", text, err)
	}
	if f.p.History().Len() != 0 {
		t.Error("Stream must not record history")
	}
}

func TestRun_MaxTokensCappedByModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"unknown limit", 0, 500},
		{"above limit", 256, 256},
		{"below limit", 4096, 500},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, "tell me a story", engine.WithMaxTokens(500))
			f.llm.ModelCapabilities = types.ModelCapabilities{MaxOutputTokens: tc.limit}
			if _, err := f.p.Run(context.Background(), captured); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := f.llm.LastRequest().MaxTokens; got != tc.want {
				t.Errorf("MaxTokens = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRun_Spans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	f := newFixture(t, "I would like some tea please")
	if _, err := f.p.Run(context.Background(), captured); err != nil {
		t.Fatalf("Run: %v", err)
	}

	names := map[string]bool{}
	for _, s := range exp.GetSpans() {
		names[s.Name] = true
	}
	for _, want := range []string{"pipeline.run", "pipeline.transcribe", "pipeline.chat", "pipeline.synthesize"} {
		if !names[want] {
			t.Errorf("missing span %q (have %v)", want, names)
		}
	}
}
