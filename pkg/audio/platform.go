// Package audio defines the capture and playback capability the turn
// controller depends on, plus PCM helpers shared by providers.
//
// The two primary abstractions are:
//
//   - [Recorder] starts a capture session and returns a [Recording], which
//     can be metered while it runs and stopped to obtain the captured [Clip].
//   - [Player] plays a [Clip] and returns a [Playback] that signals
//     completion and can be stopped early.
//
// Platform adapters live in sub-packages (audio/portaudio for local devices,
// audio/mock for tests). Nothing above this package knows which adapter is in
// use.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned (possibly wrapped) by [Recorder.Start] and
// [Recorder.RequestPermission] when microphone access is permanently denied.
// Callers surface it instead of retrying.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// CaptureOptions configures a capture session.
type CaptureOptions struct {
	// Format is the requested PCM format of the recording.
	Format Format

	// Metering enables [Recording.Level]. Adapters may ignore it and always meter.
	Metering bool
}

// Recorder starts capture sessions on an input device.
//
// Implementations must be safe for concurrent use, but the turn controller
// never holds more than one [Recording] at a time.
type Recorder interface {
	// RequestPermission asks the platform for microphone access. It returns
	// nil when access is granted and an error wrapping [ErrPermissionDenied]
	// when it is permanently refused.
	RequestPermission(ctx context.Context) error

	// Start begins a new recording. The returned Recording owns the device
	// until Stop is called.
	Start(ctx context.Context, opts CaptureOptions) (Recording, error)
}

// Recording is an active capture session.
type Recording interface {
	// Level returns the most recent input level in dBFS (0 is full scale,
	// -160 is digital silence).
	Level() (float64, error)

	// Stop ends the recording, releases the device and returns everything
	// captured. Calling Stop more than once returns an empty Clip and nil.
	Stop() (Clip, error)
}

// Drainer is implemented by recordings that can hand out the PCM captured so
// far without stopping. Drain returns the bytes captured since the previous
// Drain (or since Start) and forgets them.
type Drainer interface {
	Drain() []byte
}

// Player plays clips on an output device.
type Player interface {
	// Play starts playback of clip and returns immediately.
	Play(ctx context.Context, clip Clip) (Playback, error)
}

// Playback is an in-progress clip playback.
type Playback interface {
	// Done is closed when playback finishes, fails or is stopped.
	Done() <-chan struct{}

	// Err returns the playback error after Done is closed, or nil.
	Err() error

	// Stop interrupts playback and releases the output resource. It is safe
	// to call after completion.
	Stop() error
}

// Device is a platform adapter that provides both capture and playback on one
// audio backend. Close releases the backend.
type Device interface {
	Recorder
	Player
	Close() error
}
