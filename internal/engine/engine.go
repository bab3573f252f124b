// Package engine runs one conversational turn: captured audio is transcribed,
// the transcript is screened by a [transcript.Filter], an accepted transcript
// is answered by the chat model with the recent conversation as context, and
// the reply is synthesised to a playable clip.
//
// The steps are strictly sequential because each one consumes the previous
// one's output. Any provider failure ends the run with [OutcomeFailed] and an
// error; the caller decides whether to retry. A filtered transcript is a
// normal [OutcomeEmpty] result, not an error.
package engine

import (
	"context"
	"errors"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
	"github.com/MrWong99/murmur/pkg/types"
)

// ErrNoAudio is returned when synthesis succeeds but yields an empty clip.
var ErrNoAudio = errors.New("engine: synthesis returned no audio")

// Outcome classifies a finished run.
type Outcome int

const (
	// OutcomeReply means a reply was produced and Result.Audio is playable.
	OutcomeReply Outcome = iota + 1
	// OutcomeEmpty means there was nothing worth answering.
	OutcomeEmpty
	// OutcomeFailed means a provider call failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReply:
		return "reply"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reasons reported in Result.Reason for empty runs that were not decided by
// the transcript filter.
const (
	ReasonNoAudio    = "no_audio"
	ReasonEmptyReply = "empty_reply"
)

// Result is the output of one run.
type Result struct {
	Outcome Outcome

	// Transcript is set once transcription succeeded.
	Transcript types.Transcript

	// Reason explains an OutcomeEmpty result: a transcript.Reason value or
	// one of the Reason constants above.
	Reason string

	// Reply is the assistant text for OutcomeReply.
	Reply string

	// Audio is the synthesised reply for OutcomeReply.
	Audio audio.Clip
}

// Persona is the per-language configuration a pipeline speaks with.
type Persona struct {
	// Language is the session language code, e.g. "en" or "ja".
	Language string

	// SystemPrompt is sent ahead of the conversation window.
	SystemPrompt string

	// Greeting is spoken once at session start when greeting is enabled.
	Greeting string

	// Voice selects the synthesis voice.
	Voice tts.VoiceProfile

	// STTLanguage is the language hint for transcription. Empty lets the
	// backend detect the language.
	STTLanguage string

	// STTPrompt biases transcription toward expected vocabulary.
	STTPrompt string
}

// Responder is what the turn controller needs from a pipeline.
type Responder interface {
	// Run processes one captured clip. The returned error is non-nil exactly
	// when the outcome is OutcomeFailed.
	Run(ctx context.Context, clip audio.Clip) (Result, error)

	// Greet synthesises the persona's greeting.
	Greet(ctx context.Context) (audio.Clip, error)
}
