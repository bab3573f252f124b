// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply into one playable [audio.Clip]. Backends that
// answer with a non-2xx status return a *provider.APIError.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Default voice tuning for companion replies.
const (
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75
	DefaultStyle           = 0.0
)

// VoiceProfile selects a voice and its synthesis settings. Tuning fields are
// sent as set, so build profiles with [NewVoice] unless every field is
// chosen explicitly. Backends that do not support a setting ignore it.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which backend this voice belongs to.
	Provider string

	// Stability, SimilarityBoost and Style are in [0, 1].
	Stability       float64
	SimilarityBoost float64
	Style           float64

	// SpeakerBoost enhances similarity to the original speaker.
	SpeakerBoost bool

	// Metadata holds provider-specific attributes (gender, accent, ...).
	Metadata map[string]string
}

// NewVoice returns a profile for voice id on the named backend with the
// default tuning and speaker boost enabled.
func NewVoice(id, provider string) VoiceProfile {
	return VoiceProfile{
		ID:              id,
		Provider:        provider,
		Stability:       DefaultStability,
		SimilarityBoost: DefaultSimilarityBoost,
		Style:           DefaultStyle,
		SpeakerBoost:    true,
	}
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the complete clip.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.Clip, error)

	// ListVoices returns the voices available from this backend.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
