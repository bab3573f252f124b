// Package mock provides a test double for the llm.Provider interface.
//
// Replies is consumed one entry per Complete or StreamCompletion call; once it
// is exhausted Fallback is used. Every request is recorded so tests can assert
// on the conversation window that was sent.
//
// Example:
//
//	p := &mock.Provider{Fallback: mock.Reply{Content: "Hello!"}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/types"
)

// Reply is one scripted completion outcome.
type Reply struct {
	Content string
	Usage   llm.Usage
	Err     error
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Replies is consumed one entry per call.
	Replies []Reply

	// Fallback is used once Replies is exhausted.
	Fallback Reply

	// StreamChunkSize splits streamed content into pieces of this many bytes.
	// Zero streams the whole content as one chunk.
	StreamChunkSize int

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities types.ModelCapabilities

	// Requests records every request passed to Complete or StreamCompletion.
	Requests []llm.CompletionRequest
}

func (p *Provider) next(req llm.CompletionRequest) Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Requests = append(p.Requests, req)
	if len(p.Replies) == 0 {
		return p.Fallback
	}
	r := p.Replies[0]
	p.Replies = p.Replies[1:]
	return r
}

// Complete records the call and returns the next scripted Reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := p.next(req)
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Content: r.Content, Usage: r.Usage}, nil
}

// StreamCompletion records the call and streams the next scripted Reply. A
// scripted error is returned immediately, before any channel is opened.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	r := p.next(req)
	if r.Err != nil {
		return nil, r.Err
	}
	p.mu.Lock()
	size := p.StreamChunkSize
	p.mu.Unlock()
	if size <= 0 {
		size = max(len(r.Content), 1)
	}

	var chunks []llm.Chunk
	for s := r.Content; len(s) > 0; {
		n := min(size, len(s))
		chunks = append(chunks, llm.Chunk{Text: s[:n]})
		s = s[n:]
	}
	chunks = append(chunks, llm.Chunk{FinishReason: "stop"})

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// CallCount returns the number of recorded requests.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent request, or the zero value.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return llm.CompletionRequest{}
	}
	return p.Requests[len(p.Requests)-1]
}

var _ llm.Provider = (*Provider)(nil)
