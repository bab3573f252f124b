// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider takes one finished recording and returns its transcript.
// Backends that answer with a non-2xx status return a *provider.APIError so
// callers can see the status code and body.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/types"
)

// Options carries per-request recognition hints.
type Options struct {
	// Language is an ISO-639-1 hint (e.g. "en", "ja"). Empty lets the backend
	// auto-detect.
	Language string

	// Prompt is optional context text that biases recognition toward
	// expected vocabulary.
	Prompt string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe submits clip and returns the recognised text. An empty
	// transcript with a nil error means the backend heard nothing.
	Transcribe(ctx context.Context, clip audio.Clip, opts Options) (types.Transcript, error)
}
