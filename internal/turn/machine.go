// Package turn owns the conversational turn loop: arming microphone capture,
// confirming speech from VAD decisions, detecting the end of an utterance,
// handing the recording to the response pipeline and playing the reply.
//
// The loop is split in two. [Machine] is a plain value holding the turn state
// and a single transition function, [Machine.Apply], that consumes one
// [Input] and returns the [Action] values the runtime must perform. It never
// reads a clock or starts a timer: every input carries its own timestamp, so
// the full state space can be exercised with virtual time. [Controller] is the
// runtime that owns the timers, the capture device, the player and the
// pipeline, feeds inputs into the machine and executes the resulting actions.
package turn

import (
	"time"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// State is one of the five turn states.
type State int

const (
	// StateIdle is the state before Start and after Teardown or a fatal
	// capture failure.
	StateIdle State = iota

	// StateArmedListening means capture is running (or about to be retried)
	// and no speech has been confirmed yet.
	StateArmedListening

	// StateSpeechConfirmed means the VAD confirmed speech and the silence
	// deadline is being tracked.
	StateSpeechConfirmed

	// StateProcessing means the recording was handed to the response
	// pipeline.
	StateProcessing

	// StatePlaying means a reply (or the greeting) is being played.
	StatePlaying
)

// String returns the lower_snake name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmedListening:
		return "armed_listening"
	case StateSpeechConfirmed:
		return "speech_confirmed"
	case StateProcessing:
		return "processing"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Default timing values.
const (
	DefaultSilence         = 1500 * time.Millisecond
	DefaultCaptureRetry    = 2 * time.Second
	DefaultProcessingRetry = time.Second
	DefaultMaxTurn         = 60 * time.Second
)

// Timing configures the machine's deadlines.
type Timing struct {
	// Silence is how long after the last confident speech frame the
	// utterance is considered finished.
	Silence time.Duration

	// CaptureRetry is the backoff before capture is restarted after a
	// recoverable capture error.
	CaptureRetry time.Duration

	// ProcessingRetry is the backoff before capture is re-armed after the
	// response pipeline failed.
	ProcessingRetry time.Duration

	// MaxTurn caps a confirmed speech episode. Zero disables the cap.
	MaxTurn time.Duration
}

// DefaultTiming returns the production timing values.
func DefaultTiming() Timing {
	return Timing{
		Silence:         DefaultSilence,
		CaptureRetry:    DefaultCaptureRetry,
		ProcessingRetry: DefaultProcessingRetry,
		MaxTurn:         DefaultMaxTurn,
	}
}

// withDefaults fills zero durations except MaxTurn, where zero is meaningful.
func (t Timing) withDefaults() Timing {
	if t.Silence <= 0 {
		t.Silence = DefaultSilence
	}
	if t.CaptureRetry <= 0 {
		t.CaptureRetry = DefaultCaptureRetry
	}
	if t.ProcessingRetry <= 0 {
		t.ProcessingRetry = DefaultProcessingRetry
	}
	if t.MaxTurn < 0 {
		t.MaxTurn = 0
	}
	return t
}

// ─── Inputs ──────────────────────────────────────────────────────────────────

// Input is an event fed into [Machine.Apply].
type Input interface{ input() }

// Start begins the loop. With Greet set, a greeting is played before the
// first capture is armed.
type Start struct {
	At    time.Time
	Greet bool
}

// CaptureFailed reports that capture could not be started or a level read
// failed. Permanent failures (denied permission) stop the loop.
type CaptureFailed struct {
	Err       error
	Permanent bool
}

// Frame is one VAD decision for a level sample taken at At.
type Frame struct {
	At       time.Time
	Decision vad.Decision
}

// SilenceElapsed reports that the silence timer fired at At. It is ignored
// unless At has reached the current silence deadline.
type SilenceElapsed struct {
	At time.Time
}

// PipelineFinished reports the response pipeline's outcome.
type PipelineFinished struct {
	Outcome engine.Outcome
}

// PlaybackFinished reports that the reply or greeting finished playing. Err
// is informational only.
type PlaybackFinished struct {
	Err error
}

// RetryElapsed reports that a scheduled retry backoff expired.
type RetryElapsed struct {
	At time.Time
}

// Teardown stops the loop.
type Teardown struct{}

func (Start) input()            {}
func (CaptureFailed) input()    {}
func (Frame) input()            {}
func (SilenceElapsed) input()   {}
func (PipelineFinished) input() {}
func (PlaybackFinished) input() {}
func (RetryElapsed) input()     {}
func (Teardown) input()         {}

// ─── Actions ─────────────────────────────────────────────────────────────────

// Action is an effect the runtime performs on behalf of the machine.
type Action interface{ action() }

// StartCapture starts a new recording.
type StartCapture struct{}

// Greet synthesises and plays the greeting.
type Greet struct{}

// ArmSilence (re)arms the silence timer to fire at Deadline.
type ArmSilence struct {
	Deadline time.Time
}

// CancelSilence disarms the silence timer.
type CancelSilence struct{}

// Process stops the recording and runs the response pipeline on it.
type Process struct{}

// Play plays the reply produced by the last pipeline run.
type Play struct{}

// ScheduleRetry arms the retry timer. A [RetryElapsed] input is expected
// after Delay.
type ScheduleRetry struct {
	Delay time.Duration
}

// Fail ends the loop with Err.
type Fail struct {
	Err error
}

// Release stops any recording and playback and disarms all timers.
type Release struct{}

func (StartCapture) action()  {}
func (Greet) action()         {}
func (ArmSilence) action()    {}
func (CancelSilence) action() {}
func (Process) action()       {}
func (Play) action()          {}
func (ScheduleRetry) action() {}
func (Fail) action()          {}
func (Release) action()       {}

// ─── Machine ─────────────────────────────────────────────────────────────────

// Machine is the turn state machine. The zero value is not usable; create
// one with [NewMachine]. A Machine is not safe for concurrent use.
type Machine struct {
	timing Timing

	state     State
	inFlight  bool
	capturing bool
	retrying  bool
	stopped   bool

	confirmedAt time.Time
	deadline    time.Time
}

// NewMachine returns an idle machine using timing. Zero durations fall back
// to the defaults; a zero MaxTurn disables the turn cap.
func NewMachine(timing Timing) Machine {
	return Machine{timing: timing.withDefaults()}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// InFlight reports whether a pipeline run or its reply playback is
// outstanding.
func (m *Machine) InFlight() bool { return m.inFlight }

// Capturing reports whether the machine expects a recording to be running.
func (m *Machine) Capturing() bool { return m.capturing }

// Deadline returns the current silence deadline. It is the zero time unless
// the state is [StateSpeechConfirmed].
func (m *Machine) Deadline() time.Time { return m.deadline }

// Stopped reports whether Teardown or a fatal failure ended the loop.
func (m *Machine) Stopped() bool { return m.stopped }

// Timing returns the effective timing values.
func (m *Machine) Timing() Timing { return m.timing }

// Apply consumes one input and returns the actions to perform, in order.
// Inputs that do not apply to the current state are ignored and yield no
// actions.
func (m *Machine) Apply(in Input) []Action {
	if m.stopped {
		return nil
	}
	switch in := in.(type) {
	case Start:
		return m.start(in)
	case CaptureFailed:
		return m.captureFailed(in)
	case Frame:
		return m.frame(in)
	case SilenceElapsed:
		return m.silenceElapsed(in)
	case PipelineFinished:
		return m.pipelineFinished(in)
	case PlaybackFinished:
		return m.playbackFinished()
	case RetryElapsed:
		return m.retryElapsed()
	case Teardown:
		m.stop()
		return []Action{CancelSilence{}, Release{}}
	}
	return nil
}

func (m *Machine) start(in Start) []Action {
	if m.state != StateIdle {
		return nil
	}
	if in.Greet {
		m.state = StatePlaying
		return []Action{Greet{}}
	}
	return m.arm()
}

// arm enters ArmedListening with capture running.
func (m *Machine) arm() []Action {
	m.state = StateArmedListening
	m.capturing = true
	m.retrying = false
	m.clearSpeech()
	return []Action{StartCapture{}}
}

// backoff enters ArmedListening with capture paused until a retry elapses.
func (m *Machine) backoff(delay time.Duration) []Action {
	m.state = StateArmedListening
	m.capturing = false
	m.retrying = true
	m.clearSpeech()
	return []Action{ScheduleRetry{Delay: delay}}
}

func (m *Machine) clearSpeech() {
	m.confirmedAt = time.Time{}
	m.deadline = time.Time{}
}

func (m *Machine) captureFailed(in CaptureFailed) []Action {
	if !m.capturing {
		return nil
	}
	var acts []Action
	if m.state == StateSpeechConfirmed {
		acts = append(acts, CancelSilence{})
	}
	if in.Permanent {
		m.stop()
		return append(acts, Fail{Err: in.Err}, Release{})
	}
	return append(acts, m.backoff(m.timing.CaptureRetry)...)
}

func (m *Machine) frame(in Frame) []Action {
	if !m.capturing {
		return nil
	}
	switch m.state {
	case StateArmedListening:
		if in.Decision.Type != vad.EventSpeechStart {
			return nil
		}
		m.state = StateSpeechConfirmed
		m.confirmedAt = in.At
		m.deadline = in.At.Add(m.timing.Silence)
		return []Action{ArmSilence{Deadline: m.deadline}}

	case StateSpeechConfirmed:
		if m.timing.MaxTurn > 0 && in.At.Sub(m.confirmedAt) >= m.timing.MaxTurn {
			return m.process()
		}
		if !in.Decision.Confident() {
			return nil
		}
		m.deadline = in.At.Add(m.timing.Silence)
		return []Action{ArmSilence{Deadline: m.deadline}}
	}
	return nil
}

func (m *Machine) silenceElapsed(in SilenceElapsed) []Action {
	if m.state != StateSpeechConfirmed || in.At.Before(m.deadline) {
		return nil
	}
	return m.process()
}

// process enters Processing. It is the only path into that state and refuses
// to start a second pipeline run while one is outstanding.
func (m *Machine) process() []Action {
	if m.inFlight {
		return nil
	}
	m.state = StateProcessing
	m.inFlight = true
	m.capturing = false
	m.clearSpeech()
	return []Action{CancelSilence{}, Process{}}
}

func (m *Machine) pipelineFinished(in PipelineFinished) []Action {
	if m.state != StateProcessing {
		return nil
	}
	switch in.Outcome {
	case engine.OutcomeReply:
		m.state = StatePlaying
		return []Action{Play{}}
	case engine.OutcomeEmpty:
		m.inFlight = false
		return m.arm()
	default:
		m.inFlight = false
		return m.backoff(m.timing.ProcessingRetry)
	}
}

func (m *Machine) playbackFinished() []Action {
	if m.state != StatePlaying {
		return nil
	}
	m.inFlight = false
	return m.arm()
}

func (m *Machine) retryElapsed() []Action {
	if m.state != StateArmedListening || !m.retrying {
		return nil
	}
	return m.arm()
}

func (m *Machine) stop() {
	m.state = StateIdle
	m.stopped = true
	m.inFlight = false
	m.capturing = false
	m.retrying = false
	m.clearSpeech()
}
