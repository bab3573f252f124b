package engine

import (
	"sync"

	"github.com/MrWong99/murmur/pkg/types"
)

// DefaultHistoryWindow is the number of messages kept as chat context.
const DefaultHistoryWindow = 20

// History is a bounded, append-only window of the conversation. Only turns
// that produced a reply are recorded. It is safe for concurrent use.
type History struct {
	mu   sync.Mutex
	max  int
	msgs []types.Message
}

// NewHistory returns a window holding at most max messages. A non-positive
// max uses DefaultHistoryWindow.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistoryWindow
	}
	return &History{max: max}
}

// Append adds msgs and drops the oldest messages beyond the window. The
// window never starts with an assistant message.
func (h *History) Append(msgs ...types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msgs...)
	if over := len(h.msgs) - h.max; over > 0 {
		h.msgs = h.msgs[over:]
	}
	for len(h.msgs) > 0 && h.msgs[0].Role == types.RoleAssistant {
		h.msgs = h.msgs[1:]
	}
}

// Messages returns a copy of the window, oldest first.
func (h *History) Messages() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of messages in the window.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Reset empties the window.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}
