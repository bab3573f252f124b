package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareFixture struct {
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	handler http.Handler
}

// newMiddlewareFixture serves a mux with a probe route and a 404 route
// through Middleware, with in-memory metric and span sinks.
func newMiddlewareFixture(t *testing.T) *middlewareFixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})

	return &middlewareFixture{reader: reader, spans: exp, handler: Middleware(m)(mux)}
}

func (f *middlewareFixture) get(path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_CorrelationID(t *testing.T) {
	f := newMiddlewareFixture(t)

	rec := f.get("/readyz", nil)
	cid := rec.Header().Get(CorrelationHeader)
	if len(cid) != 32 {
		t.Fatalf("%s = %q, want a 32 char trace ID", CorrelationHeader, cid)
	}
	if seen := rec.Header().Get("X-Seen-Correlation"); seen != cid {
		t.Errorf("handler saw correlation %q, response carries %q", seen, cid)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("traceparent not injected into the response")
	}
}

func TestMiddleware_JoinsIncomingTrace(t *testing.T) {
	f := newMiddlewareFixture(t)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	rec := f.get("/healthz", map[string]string{
		"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01",
	})
	if got := rec.Header().Get(CorrelationHeader); got != traceID {
		t.Errorf("%s = %q, want %q", CorrelationHeader, got, traceID)
	}
}

func TestMiddleware_ServerSpan(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.get("/readyz", nil)

	spans := f.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /readyz" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("span status_code = %d, want 503", status)
	}
}

func TestMiddleware_DurationLabels(t *testing.T) {
	f := newMiddlewareFixture(t)
	f.get("/readyz", nil)
	f.get("/readyz", nil)
	f.get("/nope", nil)

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "murmur.http.request.duration")
	if met == nil {
		t.Fatal("murmur.http.request.duration not recorded")
	}
	hist := met.Data.(metricdata.Histogram[float64])

	counts := map[[2]string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value(attribute.Key("path"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		counts[[2]string{path.AsString(), status.AsString()}] += dp.Count
	}

	if n := counts[[2]string{"GET /readyz", "503"}]; n != 2 {
		t.Errorf("GET /readyz 503 count = %d, want 2 (got %v)", n, counts)
	}
	if n := counts[[2]string{"/nope", "404"}]; n != 1 {
		t.Errorf("unmatched path count = %d, want 1 (got %v)", n, counts)
	}
}
