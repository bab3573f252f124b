package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/turn"
	"github.com/MrWong99/murmur/pkg/eventbus"
)

// fakeSession blocks in Run until its context is cancelled.
type fakeSession struct {
	bus     *eventbus.Bus[turn.Event]
	started chan struct{}
	err     error
}

func newFakeSession(err error) *fakeSession {
	return &fakeSession{
		bus:     eventbus.New[turn.Event](eventbus.DefaultBuffer),
		started: make(chan struct{}),
		err:     err,
	}
}

func (f *fakeSession) Run(ctx context.Context) error {
	defer f.bus.Close()
	close(f.started)
	f.bus.Publish(turn.Event{Kind: turn.EventState, From: turn.StateIdle, To: turn.StateArmedListening})
	<-ctx.Done()
	return f.err
}

func (f *fakeSession) Subscribe() *eventbus.Subscription[turn.Event] { return f.bus.Subscribe() }
func (f *fakeSession) State() turn.State                             { return turn.StateArmedListening }

// startManager runs sm in the background and waits for the session to start.
func startManager(t *testing.T, sm *app.SessionManager, sess *fakeSession) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()
	select {
	case <-sess.started:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("session did not start")
	}
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestSessionManager_RunAndStop(t *testing.T) {
	t.Parallel()

	sess := newFakeSession(nil)
	var got app.SessionInfo
	sm := app.NewSessionManager(config.ModeCascade, "ja", func(info app.SessionInfo) (app.Session, error) {
		got = info
		return sess, nil
	})

	if sm.IsActive() {
		t.Fatal("expected no active session before Run")
	}

	cancel, done := startManager(t, sm, sess)
	defer cancel()

	if !sm.IsActive() {
		t.Fatal("expected session to be active")
	}
	info, ok := sm.Info()
	if !ok {
		t.Fatal("Info() ok = false while active")
	}
	if info.SessionID == "" || info.SessionID != got.SessionID {
		t.Errorf("SessionID = %q, factory saw %q", info.SessionID, got.SessionID)
	}
	if info.Mode != config.ModeCascade {
		t.Errorf("Mode = %q, want cascade", info.Mode)
	}
	if info.Language != "ja" {
		t.Errorf("Language = %q, want ja", info.Language)
	}
	if info.StartedAt.IsZero() {
		t.Error("StartedAt is zero")
	}
	if sm.Current() != app.Session(sess) {
		t.Error("Current() does not return the running session")
	}

	if err := sm.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	if sm.IsActive() {
		t.Error("expected no active session after Stop")
	}
	if _, ok := sm.Info(); ok {
		t.Error("Info() ok = true after Stop")
	}
	if sm.Current() != nil {
		t.Error("Current() should be nil after Stop")
	}
}

func TestSessionManager_StopWithoutSession(t *testing.T) {
	t.Parallel()

	sm := app.NewSessionManager(config.ModeCascade, "en", func(app.SessionInfo) (app.Session, error) {
		return newFakeSession(nil), nil
	})
	if err := sm.Stop(); err == nil {
		t.Fatal("expected error stopping an idle manager")
	}
}

func TestSessionManager_SecondRunRejected(t *testing.T) {
	t.Parallel()

	sess := newFakeSession(nil)
	calls := 0
	sm := app.NewSessionManager(config.ModeRealtime, "en", func(app.SessionInfo) (app.Session, error) {
		calls++
		return sess, nil
	})

	cancel, done := startManager(t, sm, sess)
	defer cancel()

	err := sm.Run(context.Background())
	if !errors.Is(err, app.ErrSessionActive) {
		t.Fatalf("second Run() = %v, want ErrSessionActive", err)
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
}

func TestSessionManager_FactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no detector")
	sm := app.NewSessionManager(config.ModeCascade, "en", func(app.SessionInfo) (app.Session, error) {
		return nil, boom
	})

	err := sm.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want wrapped %v", err, boom)
	}
	if sm.IsActive() {
		t.Error("expected no active session after factory failure")
	}
}

func TestSessionManager_SessionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("mic unplugged")
	sess := newFakeSession(boom)
	sm := app.NewSessionManager(config.ModeCascade, "en", func(app.SessionInfo) (app.Session, error) {
		return sess, nil
	})

	cancel, done := startManager(t, sm, sess)
	cancel()
	if err := waitDone(t, done); !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want %v", err, boom)
	}
}

func TestSessionManager_NewIDPerSession(t *testing.T) {
	t.Parallel()

	var ids []string
	var current *fakeSession
	sm := app.NewSessionManager(config.ModeCascade, "en", func(info app.SessionInfo) (app.Session, error) {
		ids = append(ids, info.SessionID)
		return current, nil
	})

	for range 2 {
		current = newFakeSession(nil)
		cancel, done := startManager(t, sm, current)
		cancel()
		if err := waitDone(t, done); err != nil {
			t.Fatalf("Run() = %v", err)
		}
	}

	if len(ids) != 2 {
		t.Fatalf("factory calls = %d, want 2", len(ids))
	}
	if ids[0] == ids[1] {
		t.Errorf("both sessions got ID %q", ids[0])
	}
}
