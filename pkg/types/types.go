// Package types defines the shared types used across murmur packages.
//
// Cross-cutting data structures live here to avoid circular imports between
// providers, the response pipeline and the conversation journal.
package types

import "time"

// Conversation roles used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a chat conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text content of the message.
	Content string
}

// Transcript is the result of submitting captured speech to a transcription
// backend.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language detected by the backend, if it reports one.
	Language string
}

// ModelCapabilities describes what a chat model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// TurnRecord is one completed conversational turn as written to the journal.
type TurnRecord struct {
	// SessionID groups turns belonging to the same companion session.
	SessionID string

	// Language is the session language code (e.g. "en", "ja").
	Language string

	// UserText is the accepted transcript, or the rejected one for filtered turns.
	UserText string

	// ReplyText is the assistant reply. Empty unless Outcome is "reply".
	ReplyText string

	// Outcome is "reply", "empty" or "failed".
	Outcome string

	// StartedAt is when speech was confirmed.
	StartedAt time.Time

	// FinishedAt is when the response pipeline returned.
	FinishedAt time.Time
}
