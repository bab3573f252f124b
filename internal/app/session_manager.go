package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/turn"
	"github.com/MrWong99/murmur/pkg/eventbus"
)

// ErrSessionActive is returned by [SessionManager.Run] while another session
// is running.
var ErrSessionActive = errors.New("app: a session is already active")

// SessionInfo holds metadata about a conversation session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session. Journal records
	// carry it.
	SessionID string

	// Mode is the transport the session runs on.
	Mode config.Mode

	// Language is the session language code.
	Language string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// Session is one runnable conversation loop: a [turn.Controller] in cascade
// mode or a [RealtimeRunner] in realtime mode.
type Session interface {
	Run(ctx context.Context) error
	Subscribe() *eventbus.Subscription[turn.Event]
	State() turn.State
}

// SessionFactory builds the loop for a new session.
type SessionFactory func(info SessionInfo) (Session, error)

// SessionManager runs at most one conversation session at a time. All
// exported methods are safe for concurrent use.
type SessionManager struct {
	mode     config.Mode
	language string
	factory  SessionFactory

	mu      sync.Mutex
	active  bool
	info    SessionInfo
	session Session
	cancel  context.CancelFunc
}

// NewSessionManager returns a manager that builds sessions with factory.
func NewSessionManager(mode config.Mode, language string, factory SessionFactory) *SessionManager {
	return &SessionManager{mode: mode, language: language, factory: factory}
}

// Run starts a new session and blocks until it ends. It returns
// [ErrSessionActive] if a session is already running, the factory error if
// the session cannot be built, and otherwise whatever the session loop
// returns.
func (sm *SessionManager) Run(ctx context.Context) error {
	sm.mu.Lock()
	if sm.active {
		id := sm.info.SessionID
		sm.mu.Unlock()
		return fmt.Errorf("%w (id=%s)", ErrSessionActive, id)
	}
	info := SessionInfo{
		SessionID: uuid.NewString(),
		Mode:      sm.mode,
		Language:  sm.language,
		StartedAt: time.Now().UTC(),
	}
	sess, err := sm.factory(info)
	if err != nil {
		sm.mu.Unlock()
		return fmt.Errorf("app: build session: %w", err)
	}
	sessCtx, cancel := context.WithCancel(ctx)
	sm.active = true
	sm.info = info
	sm.session = sess
	sm.cancel = cancel
	sm.mu.Unlock()

	defer func() {
		cancel()
		sm.mu.Lock()
		sm.active = false
		sm.info = SessionInfo{}
		sm.session = nil
		sm.cancel = nil
		sm.mu.Unlock()
		slog.Info("session stopped", "session_id", info.SessionID)
	}()

	slog.Info("session started",
		"session_id", info.SessionID,
		"mode", info.Mode,
		"language", info.Language,
	)

	sub := sess.Subscribe()
	var wg sync.WaitGroup
	wg.Go(func() { logEvents(info.SessionID, sub) })
	defer wg.Wait()

	return sess.Run(sessCtx)
}

// Stop cancels the active session. It returns an error if no session is
// active.
func (sm *SessionManager) Stop() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active {
		return errors.New("app: no active session to stop")
	}
	sm.cancel()
	return nil
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns the active session's metadata. The second result is false
// when no session is running.
func (sm *SessionManager) Info() (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info, sm.active
}

// Current returns the active session loop, or nil.
func (sm *SessionManager) Current() Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.session
}

// logEvents drains sub until the session closes its bus.
func logEvents(sessionID string, sub *eventbus.Subscription[turn.Event]) {
	for evt := range sub.C() {
		switch evt.Kind {
		case turn.EventState:
			slog.Debug("turn state", "session_id", sessionID, "from", evt.From, "to", evt.To)
		case turn.EventTurn:
			slog.Info("turn finished",
				"session_id", sessionID,
				"outcome", evt.Result.Outcome,
				"reason", evt.Result.Reason,
				"heard", evt.Result.Transcript.Text,
			)
		case turn.EventTranscript:
			slog.Debug("user transcript", "session_id", sessionID, "heard", evt.Result.Transcript.Text)
		case turn.EventError:
			slog.Warn("turn error", "session_id", sessionID, "err", evt.Err)
		}
	}
}
