// Package observe holds murmur's observability primitives: OpenTelemetry
// metrics and tracing, trace-aware structured logging, and HTTP middleware
// that ties them together.
//
// Metrics go through the OpenTelemetry Metrics API and are exposed to
// Prometheus by the exporter bridge installed in [InitProvider]. Tests should
// build their own [Metrics] with [NewMetrics] and a manual reader instead of
// using [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/murmur"

// Metrics holds every instrument murmur records. The OTel types handle their
// own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// PipelineDuration covers one full transcribe → chat → synthesize run.
	PipelineDuration metric.Float64Histogram

	// SpeechConfirmLatency is the time from capture start to the first
	// confirmed speech frame.
	SpeechConfirmLatency metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests uses attributes provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors uses attributes provider, kind.
	ProviderErrors metric.Int64Counter

	// TurnTransitions uses attributes from, to.
	TurnTransitions metric.Int64Counter

	// TurnsCompleted uses attribute outcome (reply|empty|failed).
	TurnsCompleted metric.Int64Counter

	// RealtimeEvents uses attribute type.
	RealtimeEvents metric.Int64Counter

	// --- Gauges ---

	// RealtimeConnections is +1 on connect and -1 on close.
	RealtimeConnections metric.Int64UpDownCounter

	// NoiseFloor reports the estimator's current floor in dBFS. Values come
	// from callbacks registered with ObserveNoiseFloor.
	NoiseFloor metric.Float64ObservableGauge

	// --- HTTP middleware ---

	// HTTPRequestDuration uses attributes method, path.
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "murmur.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "murmur.llm.duration", "Latency of chat completion."},
		{&met.TTSDuration, "murmur.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.PipelineDuration, "murmur.pipeline.duration", "Latency of a full response pipeline run."},
		{&met.SpeechConfirmLatency, "murmur.turn.speech_confirm.duration", "Time from capture start to confirmed speech."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "murmur.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.ProviderErrors, "murmur.provider.errors", "Provider errors by provider and kind."},
		{&met.TurnTransitions, "murmur.turn.transitions", "Turn state transitions by source and target state."},
		{&met.TurnsCompleted, "murmur.turns.completed", "Completed turns by outcome."},
		{&met.RealtimeEvents, "murmur.realtime.events", "Realtime session events by type."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.RealtimeConnections, err = m.Int64UpDownCounter("murmur.realtime.connections",
		metric.WithDescription("Open realtime connections."),
	); err != nil {
		return nil, err
	}
	if met.NoiseFloor, err = m.Float64ObservableGauge("murmur.vad.noise_floor",
		metric.WithDescription("Current adaptive noise floor."),
		metric.WithUnit("dBFS"),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("murmur.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics built on the global meter
// provider. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransition counts one turn state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.TurnTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordTurn counts one finished pipeline run.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.TurnsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRealtimeEvent counts one realtime event.
func (m *Metrics) RecordRealtimeEvent(ctx context.Context, eventType string) {
	m.RealtimeEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// ObserveNoiseFloor registers fn as the source of the noise floor gauge.
// Unregister the returned registration when the source goes away.
func (m *Metrics) ObserveNoiseFloor(fn func() float64) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(m.NoiseFloor, fn())
		return nil
	}, m.NoiseFloor)
}
