package turn

import (
	"time"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// EventKind identifies what an [Event] reports.
type EventKind int

const (
	// EventState reports a state transition in From and To.
	EventState EventKind = iota + 1

	// EventLevel reports one VAD decision in Decision. Published on every
	// poll while capturing.
	EventLevel

	// EventTurn reports a finished pipeline run in Result.
	EventTurn

	// EventTranscript reports what the user said in Result.Transcript
	// before any reply exists. Result.Outcome is unset.
	EventTranscript

	// EventError reports a recoverable failure in Err. The loop keeps
	// running.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventLevel:
		return "level"
	case EventTurn:
		return "turn"
	case EventError:
		return "error"
	case EventTranscript:
		return "transcript"
	default:
		return "unknown"
	}
}

// Event is published on the controller's bus. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind
	At   time.Time

	From, To State

	Decision vad.Decision

	Result engine.Result

	Err error
}
