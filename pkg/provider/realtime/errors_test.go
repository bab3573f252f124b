package realtime

import (
	"errors"
	"strings"
	"testing"

	"github.com/coder/websocket"
)

func TestClassifyClose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code    websocket.StatusCode
		reason  string
		want    error
		wantMsg string
	}{
		{code: websocket.StatusNormalClosure},
		{code: websocket.StatusPolicyViolation, reason: "no access", want: ErrCredential, wantMsg: "code: 1008"},
		{code: websocket.StatusAbnormalClosure, want: ErrConnectivity, wantMsg: "code: 1006"},
		{code: -1, want: ErrConnectivity, wantMsg: "connection lost"},
		{code: websocket.StatusInternalError, reason: "boom", wantMsg: "WebSocket closed unexpectedly (code: 1011): boom"},
	}
	for _, tt := range tests {
		err := classifyClose(tt.code, tt.reason)
		if tt.wantMsg == "" {
			if err != nil {
				t.Errorf("code %d: got %v, want nil", tt.code, err)
			}
			continue
		}
		if err == nil {
			t.Fatalf("code %d: got nil error", tt.code)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("code %d: %v is not %v", tt.code, err, tt.want)
		}
		if tt.want == nil && (errors.Is(err, ErrCredential) || errors.Is(err, ErrConnectivity)) {
			t.Errorf("code %d: unexpected classification %v", tt.code, err)
		}
		if !strings.Contains(err.Error(), tt.wantMsg) {
			t.Errorf("code %d: message %q missing %q", tt.code, err.Error(), tt.wantMsg)
		}
	}
}

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()
	if err := ValidateAPIKey("sk-abc"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if !errors.Is(ValidateAPIKey(""), ErrMissingAPIKey) {
		t.Error("empty key should be ErrMissingAPIKey")
	}
	if !errors.Is(ValidateAPIKey("pk-abc"), ErrInvalidAPIKey) {
		t.Error("wrong prefix should be ErrInvalidAPIKey")
	}
}

func TestServerErrorMessage(t *testing.T) {
	t.Parallel()
	err := &ServerError{Type: "invalid_request_error", Code: "x", Message: "nope"}
	if got := err.Error(); got != "realtime: server error invalid_request_error (x): nope" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ServerError{Type: "server_error"}).Error(); !strings.Contains(got, "unknown error") {
		t.Errorf("Error() = %q", got)
	}
}
