package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/resilience"
)

func pass(context.Context) error { return nil }

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "turn_loop", Check: pass}, {Name: "realtime", Check: pass}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"turn_loop": "ok", "realtime": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "turn_loop", Check: pass},
				{Name: "realtime", Check: func(context.Context) error { return errors.New("socket not open") }},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"turn_loop": "ok", "realtime": "fail: socket not open"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for k, want := range tt.wantChecks {
				if got := body.Checks[k]; got != want {
					t.Errorf("checks[%s] = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestReadyz_AddAfterConstruction(t *testing.T) {
	t.Parallel()

	h := New()
	h.Add(Checker{Name: "late", Check: func(context.Context) error { return errors.New("nope") }})
	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Checks["late"] != "fail: nope" {
		t.Errorf("readyz = %d %+v", code, body)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type fakeLoop struct {
	running bool
	last    time.Time
}

func (f fakeLoop) Running() bool               { return f.running }
func (f fakeLoop) LastPoll() time.Time         { return f.last }
func (f fakeLoop) PollInterval() time.Duration { return 150 * time.Millisecond }

func TestLoopCheck(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	tests := []struct {
		name    string
		loop    fakeLoop
		wantErr bool
	}{
		{name: "stopped", loop: fakeLoop{}, wantErr: true},
		{name: "never polled", loop: fakeLoop{running: true}, wantErr: true},
		{name: "fresh", loop: fakeLoop{running: true, last: now.Add(-200 * time.Millisecond)}},
		{name: "stalled", loop: fakeLoop{running: true, last: now.Add(-time.Second)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := LoopCheck(tt.loop, clock).Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type fakeConn bool

func (c fakeConn) Connected() bool { return bool(c) }

func TestRealtimeCheck(t *testing.T) {
	t.Parallel()

	if err := RealtimeCheck(fakeConn(true)).Check(context.Background()); err != nil {
		t.Errorf("open socket: %v", err)
	}
	if err := RealtimeCheck(fakeConn(false)).Check(context.Background()); err == nil {
		t.Error("closed socket passed")
	}
}

func TestBreakerCheck(t *testing.T) {
	t.Parallel()

	status := func(states ...resilience.State) func() []resilience.EntryStatus {
		return func() []resilience.EntryStatus {
			out := make([]resilience.EntryStatus, len(states))
			for i, s := range states {
				out[i] = resilience.EntryStatus{Name: []string{"primary", "secondary"}[i], State: s}
			}
			return out
		}
	}

	if err := BreakerCheck("llm", status(resilience.StateOpen, resilience.StateClosed)).Check(context.Background()); err != nil {
		t.Errorf("one healthy backend: %v", err)
	}
	err := BreakerCheck("llm", status(resilience.StateOpen, resilience.StateOpen)).Check(context.Background())
	if err == nil || err.Error() != "circuit open: primary, secondary" {
		t.Errorf("all open: err = %v", err)
	}
}
