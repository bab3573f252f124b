package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/provider/realtime"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ErrReconnectExhausted wraps the last session error once every retry failed.
var ErrReconnectExhausted = errors.New("app: reconnect attempts exhausted")

// Reconnector reruns a realtime session after the socket was lost to a
// network failure. Credential rejections and every other error end the run
// immediately.
//
// Attempts back off exponentially from Backoff up to MaxBackoff. A session
// that stayed up for at least MaxBackoff counts as a successful reconnect
// and resets the attempt counter.
type Reconnector struct {
	run        func(context.Context) error
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewReconnector creates a [Reconnector] around run. Zero fields of cfg use
// the defaults; a negative MaxRetries disables retrying.
func NewReconnector(cfg config.ReconnectConfig, run func(context.Context) error) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	return &Reconnector{
		run:        run,
		maxRetries: maxRetries,
		backoff:    backoff,
		maxBackoff: maxBackoff,
	}
}

// Retryable reports whether err is a connectivity loss worth reconnecting
// after: a failed dial, a failed handshake write or an abnormal close.
func Retryable(err error) bool {
	return errors.Is(err, realtime.ErrConnectivity)
}

// Run calls the session until ctx is cancelled, the session fails with a
// non-retryable error, or the retry budget is spent. It returns nil on
// cancellation.
func (r *Reconnector) Run(ctx context.Context) error {
	attempt := 0
	wait := r.backoff
	for {
		began := time.Now()
		err := r.run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if !Retryable(err) || r.maxRetries < 0 {
			return err
		}
		if time.Since(began) >= r.maxBackoff {
			attempt, wait = 0, r.backoff
		}
		attempt++
		if attempt > r.maxRetries {
			slog.Error("reconnection failed after max retries", "max_retries", r.maxRetries, "err", err)
			return fmt.Errorf("%w: %w", ErrReconnectExhausted, err)
		}

		slog.Info("attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", wait,
			"err", err,
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}

		wait = min(wait*2, r.maxBackoff)
	}
}
