// Package mock provides a test double for stt.Provider.
//
// Results is consumed one entry per Transcribe call; once exhausted, Fallback
// is returned. Every call is recorded so tests can assert on the clips and
// options that were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/types"
)

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript types.Transcript
	Err        error
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Clip audio.Clip
	Opts stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is consumed one entry per call.
	Results []Result

	// Fallback is returned once Results is exhausted.
	Fallback Result

	// Block, when non-nil, makes Transcribe wait until it is closed or the
	// context is done.
	Block chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted Result.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip, opts stt.Options) (types.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Clip: clip, Opts: opts})
	res := p.Fallback
	if len(p.Results) > 0 {
		res = p.Results[0]
		p.Results = p.Results[1:]
	}
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		}
	}
	return res.Transcript, res.Err
}

// CallCount returns the number of Transcribe calls under the lock.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
