package resilience

import (
	"context"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

var _ stt.Provider = (*STTFallback)(nil)

// STTFallback is an [stt.Provider] that fails over across transcription
// backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// NewSTTFallback returns a fallback whose preferred backend is primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another transcription backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// Status reports the breaker state per backend.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (types.Transcript, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, clip, opts)
	})
}
