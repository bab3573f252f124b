// Package realtime is a client for the OpenAI Realtime API, a duplex
// WebSocket protocol that streams microphone audio up and synthesized speech
// down while the server runs its own voice activity detection.
//
// A Session moves through Disconnected → Connecting → Open → Closing →
// Disconnected. Inbound frames are decoded into typed [Event] values and fanned
// out to every subscriber; unknown frame types are ignored. Outbound audio is
// PCM16 at 24 kHz mono, base64-encoded into input_audio_buffer.append frames.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/murmur/pkg/eventbus"
)

const (
	DefaultURL            = "wss://api.openai.com/v1/realtime"
	DefaultModel          = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice          = "alloy"
	DefaultConnectTimeout = 10 * time.Second

	// SampleRate is the PCM16 rate used in both directions.
	SampleRate = 24000

	transcriptionModel = "whisper-1"
	vadThreshold       = 0.4
	vadPrefixPadding   = 200
	vadSilence         = 400

	writeTimeout = 5 * time.Second
	readLimit    = 4 << 20
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// Config describes one realtime session.
type Config struct {
	APIKey string
	// URL is the WebSocket endpoint without query. Defaults to DefaultURL.
	URL string
	// Model is appended as ?model=. Defaults to DefaultModel.
	Model string
	// Voice is the assistant voice. Defaults to DefaultVoice.
	Voice string
	// Instructions is the system prompt, typically chosen by language.
	Instructions string
	// ConnectTimeout bounds the handshake and the initial session.update.
	ConnectTimeout time.Duration
}

// Option is a functional option for a Session.
type Option func(*Session)

// WithHTTPClient sets the client used for the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.httpClient = c }
}

// WithEventBuffer sets the per-subscriber event buffer.
func WithEventBuffer(n int) Option {
	return func(s *Session) { s.bufferSize = n }
}

// Session is one realtime conversation. It owns its socket exclusively and
// is safe for concurrent use.
type Session struct {
	cfg        Config
	httpClient *http.Client
	bufferSize int
	bus        *eventbus.Bus[Event]

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

// New returns a disconnected Session. Defaults are filled in for empty
// Config fields.
func New(cfg Config, opts ...Option) *Session {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	s := &Session{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	s.bus = eventbus.New[Event](s.bufferSize)
	return s
}

// ValidateAPIKey reports whether key is usable before any network attempt.
func ValidateAPIKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrMissingAPIKey
	}
	if !strings.HasPrefix(key, "sk-") {
		return ErrInvalidAPIKey
	}
	return nil
}

// Subscribe returns a new event subscription. Close it when done.
func (s *Session) Subscribe() *eventbus.Subscription[Event] {
	return s.bus.Subscribe()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the socket is open.
func (s *Session) Connected() bool { return s.State() == StateOpen }

// Connect opens the socket and sends the session configuration. It returns
// once the handshake has completed and the configuration has been written.
// Calling Connect on an open session is a no-op.
func (s *Session) Connect(ctx context.Context) (err error) {
	if err := ValidateAPIKey(s.cfg.APIKey); err != nil {
		return err
	}

	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return nil
	case StateConnecting, StateClosing:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("realtime: connect while %s", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, span := otel.Tracer("github.com/MrWong99/murmur/pkg/provider/realtime").Start(ctx, "realtime.connect")
	span.SetAttributes(attribute.String("realtime.model", s.cfg.Model))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.setState(StateDisconnected)
		}
		span.End()
	}()

	dialCtx, cancelDial := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancelDial()

	conn, resp, err := websocket.Dial(dialCtx, s.endpoint(), &websocket.DialOptions{
		HTTPClient: s.httpClient,
		Subprotocols: []string{
			"realtime",
			"openai-insecure-api-key." + s.cfg.APIKey,
			"openai-beta.realtime-v1",
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: handshake status %d: %w", ErrCredential, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: dial: %w", ErrConnectivity, err)
	}
	conn.SetReadLimit(readLimit)

	if err := writeFrame(dialCtx, conn, s.sessionUpdate()); err != nil {
		conn.Close(websocket.StatusInternalError, "session update failed")
		return fmt.Errorf("%w: session update: %w", ErrConnectivity, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.done = done
	s.state = StateOpen
	s.mu.Unlock()

	go s.readLoop(loopCtx, conn, done)
	slog.Info("realtime: connected", "model", s.cfg.Model, "voice", s.cfg.Voice)
	return nil
}

func (s *Session) endpoint() string {
	sep := "?"
	if strings.Contains(s.cfg.URL, "?") {
		sep = "&"
	}
	return s.cfg.URL + sep + "model=" + url.QueryEscape(s.cfg.Model)
}

func (s *Session) sessionUpdate() sessionUpdateMessage {
	return sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Modalities:              []string{"audio", "text"},
			Instructions:            s.cfg.Instructions,
			Voice:                   s.cfg.Voice,
			InputAudioFormat:        "pcm16",
			OutputAudioFormat:       "pcm16",
			InputAudioTranscription: &transcriptionParams{Model: transcriptionModel},
			TurnDetection: &turnDetection{
				Type:              "server_vad",
				Threshold:         vadThreshold,
				PrefixPaddingMs:   vadPrefixPadding,
				SilenceDurationMs: vadSilence,
			},
		},
	}
}

// SendAudio appends a PCM16 chunk to the server-side input buffer. When the
// session is not open it logs a warning and drops the chunk.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	conn := s.openConn()
	if conn == nil {
		slog.Warn("realtime: dropping audio, not connected", "bytes", len(pcm))
		return nil
	}
	if len(pcm) == 0 {
		return nil
	}
	return s.write(ctx, conn, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitAudio closes the current input buffer and requests a response.
func (s *Session) CommitAudio(ctx context.Context) error {
	conn := s.openConn()
	if conn == nil {
		return ErrNotConnected
	}
	if err := s.write(ctx, conn, typeOnlyMessage{Type: "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return s.write(ctx, conn, typeOnlyMessage{Type: "response.create"})
}

// TriggerGreeting asks the assistant to speak first.
func (s *Session) TriggerGreeting(ctx context.Context) error {
	conn := s.openConn()
	if conn == nil {
		return ErrNotConnected
	}
	return s.write(ctx, conn, typeOnlyMessage{Type: "response.create"})
}

// Disconnect closes the socket with a normal closure and waits for the read
// loop to finish. Safe to call on a closed session.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	conn, cancel, done := s.conn, s.cancel, s.done
	s.mu.Unlock()

	if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		slog.Debug("realtime: close handshake", "err", err)
	}
	cancel()
	<-done
	return nil
}

// Close disconnects and closes every subscription.
func (s *Session) Close() error {
	err := s.Disconnect()
	s.bus.Close()
	return err
}

func (s *Session) openConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return nil
	}
	return s.conn
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := writeFrame(ctx, conn, v); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// readLoop owns the read side of conn until it fails or the session is
// disconnected. It publishes EventClosed exactly once on exit.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.handleReadError(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("realtime: undecodable frame", "err", err)
			continue
		}
		s.dispatch(&evt)
	}
}

func (s *Session) handleReadError(err error) {
	s.mu.Lock()
	requested := s.state == StateClosing
	s.state = StateDisconnected
	s.conn = nil
	s.mu.Unlock()

	if requested {
		s.bus.Publish(Event{Type: EventClosed})
		return
	}

	reason := ""
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		reason = ce.Reason
	}
	closeErr := classifyClose(websocket.CloseStatus(err), reason)
	if closeErr != nil {
		slog.Error("realtime: connection closed", "err", closeErr)
		s.bus.Publish(Event{Type: EventError, Err: closeErr})
	}
	s.bus.Publish(Event{Type: EventClosed, Err: closeErr})
}

func (s *Session) dispatch(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			slog.Debug("realtime: bad audio delta", "err", err)
			return
		}
		s.bus.Publish(Event{Type: EventAudioDelta, Audio: pcm})

	case "response.audio.done":
		s.bus.Publish(Event{Type: EventAudioDone})

	case "input_audio_buffer.speech_started":
		s.bus.Publish(Event{Type: EventSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		s.bus.Publish(Event{Type: EventSpeechStopped})

	case "conversation.item.input_audio_transcription.completed":
		slog.Debug("realtime: user transcript", "text", evt.Transcript)
		s.bus.Publish(Event{Type: EventTranscript, Transcript: evt.Transcript})

	case "error":
		se := &ServerError{}
		if evt.Error != nil {
			se.Type, se.Code, se.Message = evt.Error.Type, evt.Error.Code, evt.Error.Message
		}
		slog.Warn("realtime: server error", "type", se.Type, "code", se.Code, "message", se.Message)
		s.bus.Publish(Event{Type: EventError, Err: se})
	}
}

// Client is the behaviour runtime code needs from a realtime session.
type Client interface {
	Connect(ctx context.Context) error
	Subscribe() *eventbus.Subscription[Event]
	SendAudio(ctx context.Context, pcm []byte) error
	CommitAudio(ctx context.Context) error
	TriggerGreeting(ctx context.Context) error
	Disconnect() error
	Connected() bool
}

var _ Client = (*Session)(nil)
