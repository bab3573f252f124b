// Package mock provides a scriptable engine.Responder for turn controller
// tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/pkg/audio"
)

var _ engine.Responder = (*Responder)(nil)

// Run is one scripted Run outcome.
type Run struct {
	Result engine.Result
	Err    error
}

// Responder returns scripted results. Runs is consumed one entry per call;
// Fallback is used once it is exhausted.
type Responder struct {
	mu sync.Mutex

	Runs     []Run
	Fallback Run

	// Block, when non-nil, makes Run wait until it is closed or ctx ends.
	Block chan struct{}

	GreetClip audio.Clip
	GreetErr  error

	Clips      []audio.Clip
	GreetCalls int
}

func (r *Responder) Run(ctx context.Context, clip audio.Clip) (engine.Result, error) {
	r.mu.Lock()
	r.Clips = append(r.Clips, clip)
	run := r.Fallback
	if len(r.Runs) > 0 {
		run = r.Runs[0]
		r.Runs = r.Runs[1:]
	}
	block := r.Block
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return engine.Result{Outcome: engine.OutcomeFailed}, ctx.Err()
		}
	}
	return run.Result, run.Err
}

func (r *Responder) Greet(context.Context) (audio.Clip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.GreetCalls++
	return r.GreetClip, r.GreetErr
}

// RunCount returns how many times Run was called.
func (r *Responder) RunCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Clips)
}
