package realtime

// EventType identifies a Session event.
type EventType int

const (
	// EventAudioDelta carries one decoded PCM16 chunk of the assistant reply.
	// Chunks arrive in order; reassembly is up to the subscriber.
	EventAudioDelta EventType = iota + 1
	// EventAudioDone marks the end of one assistant utterance.
	EventAudioDone
	// EventSpeechStarted is the server-side VAD noticing user speech.
	EventSpeechStarted
	// EventSpeechStopped is the server-side VAD noticing the user went quiet.
	EventSpeechStopped
	// EventTranscript carries the completed transcription of a user turn.
	EventTranscript
	// EventError carries a *ServerError or a *CloseError.
	EventError
	// EventClosed is published once when the socket is gone, whatever the cause.
	EventClosed
)

var eventTypeNames = map[EventType]string{
	EventAudioDelta:    "audio_delta",
	EventAudioDone:     "audio_done",
	EventSpeechStarted: "speech_started",
	EventSpeechStopped: "speech_stopped",
	EventTranscript:    "transcript",
	EventError:         "error",
	EventClosed:        "closed",
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// Event is one item delivered to Session subscribers.
type Event struct {
	Type EventType

	// Audio is set for EventAudioDelta (24 kHz mono PCM16 little-endian).
	Audio []byte

	// Transcript is set for EventTranscript.
	Transcript string

	// Err is set for EventError, and for EventClosed when the close was
	// not requested.
	Err error
}

// serverEvent is the inbound JSON envelope. Only the fields of the event
// types handled in dispatch are decoded.
type serverEvent struct {
	Type       string             `json:"type"`
	Delta      string             `json:"delta,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Error      *serverErrorDetail `json:"error,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Outbound frames ───────────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16
}

type typeOnlyMessage struct {
	Type string `json:"type"`
}
