package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/app"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/provider/realtime"
)

func fastReconnect(retries int) config.ReconnectConfig {
	return config.ReconnectConfig{
		MaxRetries: retries,
		Backoff:    time.Millisecond,
		MaxBackoff: 4 * time.Millisecond,
	}
}

// connLost mimics what RealtimeRunner returns after an abnormal close.
func connLost() error {
	return fmt.Errorf("%w: %w", app.ErrSessionClosed,
		&realtime.CloseError{Code: 1006, Kind: realtime.CloseConnectivity})
}

func TestReconnector_RetriesConnectivityLoss(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := app.NewReconnector(fastReconnect(5), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return connLost()
		}
		return nil
	})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("session runs = %d, want 3", got)
	}
}

func TestReconnector_GivesUp(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := app.NewReconnector(fastReconnect(2), func(ctx context.Context) error {
		calls.Add(1)
		return connLost()
	})

	err := r.Run(context.Background())
	if !errors.Is(err, app.ErrReconnectExhausted) {
		t.Fatalf("Run() = %v, want ErrReconnectExhausted", err)
	}
	if !errors.Is(err, realtime.ErrConnectivity) {
		t.Errorf("Run() = %v, want the last cause attached", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("session runs = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestReconnector_NoRetry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		retries int
		err     error
	}{
		{"credential", 5, fmt.Errorf("%w: %w", app.ErrSessionClosed,
			&realtime.CloseError{Code: 1008, Kind: realtime.CloseCredential})},
		{"unclassified", 5, errors.New("mic unplugged")},
		{"disabled", -1, connLost()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var calls atomic.Int32
			r := app.NewReconnector(fastReconnect(tc.retries), func(ctx context.Context) error {
				calls.Add(1)
				return tc.err
			})
			if err := r.Run(context.Background()); !errors.Is(err, tc.err) {
				t.Fatalf("Run() = %v, want %v", err, tc.err)
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("session runs = %d, want 1", got)
			}
		})
	}
}

func TestReconnector_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	r := app.NewReconnector(config.ReconnectConfig{Backoff: time.Hour}, func(context.Context) error {
		calls.Add(1)
		return connLost()
	})
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("session runs = %d, want 1", got)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	if !app.Retryable(fmt.Errorf("%w: dial: refused", realtime.ErrConnectivity)) {
		t.Error("failed dial should be retryable")
	}
	if app.Retryable(realtime.ErrCredential) {
		t.Error("credential errors are not retryable")
	}
	if app.Retryable(nil) {
		t.Error("nil is not retryable")
	}
}
