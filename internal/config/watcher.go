package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// ErrUnchanged is returned by [Watcher.Reload] when the file content matches
// the last one seen.
var ErrUnchanged = errors.New("config: file unchanged")

// ApplyFunc hands a freshly loaded config to the running process. A non-nil
// error rejects it and the previous config stays current.
type ApplyFunc func(old, next *Config) error

// Watcher reloads a config file when its content changes. Edits that fail
// to parse or validate, or that apply rejects, are logged and skipped; the
// same bytes are not retried until the file changes again.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ApplyFunc

	mu      sync.Mutex
	current *Config
	seen    fileStamp
}

// fileStamp identifies one version of the file. The mtime lets the poll
// skip hashing untouched files.
type fileStamp struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher holding it as the current
// config. Polling starts with [Watcher.Run]. apply may be nil.
func NewWatcher(path string, apply ApplyFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		apply:    apply,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = stamp
	return w, nil
}

// Current returns the config most recently accepted.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			untouched := info.ModTime().Equal(w.seen.mtime)
			w.mu.Unlock()
			if untouched {
				continue
			}
			if err := w.Reload(); err != nil && !errors.Is(err, ErrUnchanged) {
				slog.Warn("config watcher: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Reload reads the file now, independent of the poll, and applies it when
// the content changed. It is what a SIGHUP handler calls.
func (w *Watcher) Reload() error {
	cfg, stamp, err := w.read()
	if err != nil {
		return err
	}

	w.mu.Lock()
	if stamp.sum == w.seen.sum {
		w.seen.mtime = stamp.mtime
		w.mu.Unlock()
		return ErrUnchanged
	}
	w.seen = stamp
	old := w.current
	w.mu.Unlock()

	// apply runs unlocked so it may call Current.
	if w.apply != nil {
		if err := w.apply(old, cfg); err != nil {
			return fmt.Errorf("config: apply: %w", err)
		}
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	return nil
}

func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	stamp := fileStamp{mtime: info.ModTime(), sum: sha256.Sum256(data)}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		// Remember the bad bytes so the poll does not re-log them every tick.
		w.mu.Lock()
		w.seen = stamp
		w.mu.Unlock()
		return nil, stamp, err
	}
	return cfg, stamp, nil
}
