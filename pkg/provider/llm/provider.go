// Package llm defines the Provider interface for chat-completion backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes a uniform way to turn a conversation
// window into the assistant's next reply.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/murmur/pkg/types"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is the user turn
	// that drives the reply.
	Messages []types.Message

	// SystemPrompt is prepended as a "system"-role message when non-empty.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text of this chunk.
	Text string

	// FinishReason is set on the final chunk ("stop", "length", ...).
	FinishReason string

	// Err is set on the last chunk when the stream failed after it started.
	Err error
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion sends req and returns a channel of Chunk values. The
	// channel is closed when generation finishes or ctx is cancelled. The
	// initial error is non-nil only when the stream could not start.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}

// Collect drains ch and returns the concatenated text. It returns the first
// chunk error, or ctx.Err() if the context ends first.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var text []byte
	for {
		select {
		case <-ctx.Done():
			return string(text), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return string(text), nil
			}
			if c.Err != nil {
				return string(text), c.Err
			}
			text = append(text, c.Text...)
		}
	}
}
