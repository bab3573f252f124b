package vad

// EventType enumerates VAD decisions for a single level reading.
type EventType int

const (
	// EventSilence means the frame did not count as confident speech.
	EventSilence EventType = iota

	// EventSpeechStart means the hysteresis counter just confirmed speech.
	EventSpeechStart

	// EventSpeechContinue means a confident speech frame while speech is
	// already confirmed.
	EventSpeechContinue

	// EventSpeechCandidate means a confident speech frame that has not yet
	// confirmed speech.
	EventSpeechCandidate
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventSilence:
		return "silence"
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechCandidate:
		return "speech_candidate"
	default:
		return "unknown"
	}
}

// Decision is the detection result for one level reading.
type Decision struct {
	// Type summarises the decision.
	Type EventType

	// Level is the reading that was processed, in dBFS.
	Level float64

	// NoiseFloor is the floor estimate after this reading.
	NoiseFloor float64

	// Threshold is the speech threshold the reading was compared against.
	Threshold float64

	// IsSpeechLevel reports whether the reading alone exceeded the threshold
	// and the absolute floor.
	IsSpeechLevel bool

	// RecentHigh is the number of history samples above the threshold and
	// the absolute floor, including this reading.
	RecentHigh int

	// Counter is the hysteresis counter after this reading. Never negative.
	Counter int
}

// Confident reports whether the reading counted as corroborated speech.
func (d Decision) Confident() bool {
	return d.Type == EventSpeechStart || d.Type == EventSpeechContinue || d.Type == EventSpeechCandidate
}
