// Package vad defines the Engine interface for level-based Voice Activity
// Detection.
//
// A VAD engine turns a stream of periodic input levels (dBFS meter readings)
// into speech decisions. Each session keeps its own detection state (level
// history, adaptive noise floor, hysteresis counter) so that independent
// capture streams never share mutable state.
//
// VAD is synchronous by design: ProcessLevel returns immediately with a
// decision, making it suitable for a fixed-period poll loop.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle is owned by one caller and must not be shared
// between goroutines.
package vad

// Config holds the detection parameters for a session. Zero values are
// replaced by the defaults listed on each field (see [Config.WithDefaults]),
// so 0 is never an effective setting: a 0 dBFS floor or threshold is full
// scale and a 0 margin would classify the floor itself as speech.
type Config struct {
	// HistorySize is the number of recent levels kept for analysis. Default 10.
	HistorySize int

	// MinSamples is the history length required before the noise floor adapts.
	// Default 8.
	MinSamples int

	// InitialNoiseFloor is the floor estimate used before any adaptation and
	// after a full Reset, in dBFS. Default -60.
	InitialNoiseFloor float64

	// MinNoiseFloor bounds the floor from below, in dBFS. Default -80.
	MinNoiseFloor float64

	// Smoothing is the weight kept from the previous floor on each update.
	// Default 0.98.
	Smoothing float64

	// Percentile selects the history sample blended into the floor. Default
	// 0.25 (lower quartile).
	Percentile float64

	// Margin is how far above the noise floor speech must be, in dB. Default 12.
	Margin float64

	// MinThreshold is the lowest allowed speech threshold, in dBFS. Default -50.
	MinThreshold float64

	// AbsoluteFloor is a level every speech sample must exceed regardless of
	// the adaptive threshold, in dBFS. Default -55.
	AbsoluteFloor float64

	// Corroboration is how many samples in history must be above the speech
	// threshold for a frame to count as confident speech. Default 2.
	Corroboration int

	// ConfirmCount is the hysteresis counter value at which speech is
	// confirmed. Default 2.
	ConfirmCount int
}

// DefaultConfig returns the detection parameters tuned for a 150ms poll.
func DefaultConfig() Config {
	return Config{
		HistorySize:       10,
		MinSamples:        8,
		InitialNoiseFloor: -60,
		MinNoiseFloor:     -80,
		Smoothing:         0.98,
		Percentile:        0.25,
		Margin:            12,
		MinThreshold:      -50,
		AbsoluteFloor:     -55,
		Corroboration:     2,
		ConfirmCount:      2,
	}
}

// WithDefaults returns c with every zero field replaced by its default.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.InitialNoiseFloor == 0 {
		c.InitialNoiseFloor = d.InitialNoiseFloor
	}
	if c.MinNoiseFloor == 0 {
		c.MinNoiseFloor = d.MinNoiseFloor
	}
	if c.Smoothing == 0 {
		c.Smoothing = d.Smoothing
	}
	if c.Percentile == 0 {
		c.Percentile = d.Percentile
	}
	if c.Margin == 0 {
		c.Margin = d.Margin
	}
	if c.MinThreshold == 0 {
		c.MinThreshold = d.MinThreshold
	}
	if c.AbsoluteFloor == 0 {
		c.AbsoluteFloor = d.AbsoluteFloor
	}
	if c.Corroboration <= 0 {
		c.Corroboration = d.Corroboration
	}
	if c.ConfirmCount <= 0 {
		c.ConfirmCount = d.ConfirmCount
	}
	return c
}

// SessionHandle represents an active VAD session for a single capture stream.
// It is an interface so that test code can supply mock implementations.
type SessionHandle interface {
	// ProcessLevel records one level reading and returns the detection
	// decision for it.
	ProcessLevel(level float64) (Decision, error)

	// EndSegment clears the level history, the hysteresis counter and the
	// speech-active flag, keeping the adapted noise floor. Call it when a
	// speech segment is handed off for processing.
	EndSegment()

	// Reset clears all detection state including the noise floor.
	Reset()

	// NoiseFloor returns the current noise floor estimate in dBFS.
	NoiseFloor() float64

	// Close releases the session. After Close, ProcessLevel returns an error.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// NewSession creates a new session with the given configuration.
	NewSession(cfg Config) (SessionHandle, error)
}
