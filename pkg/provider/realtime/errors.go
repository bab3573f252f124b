package realtime

import (
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

var (
	// ErrMissingAPIKey is returned by Connect when no API key is configured.
	ErrMissingAPIKey = errors.New("realtime: OpenAI API key is missing")

	// ErrInvalidAPIKey is returned by Connect when the key does not look like
	// an OpenAI secret key. No network attempt is made.
	ErrInvalidAPIKey = errors.New("realtime: invalid API key format (expected sk- prefix)")

	// ErrCredential classifies closes caused by a policy violation, which the
	// API uses for rejected keys and missing entitlements.
	ErrCredential = errors.New("realtime: credential or policy error")

	// ErrConnectivity classifies abnormal closes, failed dials and handshake
	// timeouts.
	ErrConnectivity = errors.New("realtime: connectivity error")

	// ErrNotConnected is returned by operations that need an open socket.
	ErrNotConnected = errors.New("realtime: not connected")
)

// ServerError is a server-sent "error" frame. The connection stays open.
type ServerError struct {
	Type    string
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("realtime: server error %s (%s): %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("realtime: server error %s: %s", e.Type, msg)
}

// CloseKind groups close codes into categories a user can act on.
type CloseKind int

const (
	// CloseUnexpected is any close that is neither clean nor classified.
	CloseUnexpected CloseKind = iota
	// CloseConnectivity means the network went away (1006 or no close frame).
	CloseConnectivity
	// CloseCredential means the server rejected the session on policy (1008).
	CloseCredential
)

func (k CloseKind) String() string {
	switch k {
	case CloseConnectivity:
		return "connectivity"
	case CloseCredential:
		return "credential"
	default:
		return "unexpected"
	}
}

// CloseError describes a socket close that was not requested by Disconnect.
// It unwraps to ErrConnectivity or ErrCredential depending on Kind.
type CloseError struct {
	Code   websocket.StatusCode
	Reason string
	Kind   CloseKind
}

func (e *CloseError) Error() string {
	switch e.Kind {
	case CloseCredential:
		return fmt.Sprintf("realtime: connection rejected by policy (code: %d): check API key and realtime access: %s", int(e.Code), e.Reason)
	case CloseConnectivity:
		return fmt.Sprintf("realtime: connection lost (code: %d): check network connectivity", int(e.Code))
	default:
		return fmt.Sprintf("realtime: WebSocket closed unexpectedly (code: %d): %s", int(e.Code), e.Reason)
	}
}

func (e *CloseError) Unwrap() error {
	switch e.Kind {
	case CloseCredential:
		return ErrCredential
	case CloseConnectivity:
		return ErrConnectivity
	default:
		return nil
	}
}

// classifyClose maps a close code to an error. A normal closure yields nil.
// code is -1 when the connection ended without a close frame.
func classifyClose(code websocket.StatusCode, reason string) error {
	switch code {
	case websocket.StatusNormalClosure:
		return nil
	case websocket.StatusPolicyViolation:
		return &CloseError{Code: code, Reason: reason, Kind: CloseCredential}
	case websocket.StatusAbnormalClosure, -1:
		return &CloseError{Code: code, Reason: reason, Kind: CloseConnectivity}
	default:
		return &CloseError{Code: code, Reason: reason, Kind: CloseUnexpected}
	}
}
