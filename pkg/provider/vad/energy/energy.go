// Package energy implements [vad.Engine] with an adaptive noise floor and a
// two-gate level classifier.
//
// Each reading is pushed into a bounded history. Once enough readings are
// present the noise floor drifts toward the lower quartile of the history,
// which keeps it anchored to quiet background periods rather than to
// sustained speech. A reading is confident speech only when it clears the
// adaptive threshold and the absolute floor, and at least two readings in
// the history do too, which suppresses single-sample clicks. A small
// hysteresis counter turns confident readings into a speech-start decision.
package energy

import (
	"errors"
	"math"
	"slices"

	"github.com/MrWong99/murmur/pkg/provider/vad"
)

var errClosed = errors.New("energy: session is closed")

// Engine creates [Detector] sessions.
type Engine struct{}

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	return NewDetector(cfg), nil
}

// History is a fixed-capacity FIFO of level readings. The oldest reading is
// evicted when a push would exceed the capacity.
type History struct {
	levels []float64
	size   int
}

// NewHistory returns an empty history holding at most size readings.
func NewHistory(size int) *History {
	return &History{levels: make([]float64, 0, size), size: size}
}

// Push appends a reading, evicting the oldest one on overflow.
func (h *History) Push(level float64) {
	if len(h.levels) == h.size {
		copy(h.levels, h.levels[1:])
		h.levels = h.levels[:h.size-1]
	}
	h.levels = append(h.levels, level)
}

// Len returns the number of readings held.
func (h *History) Len() int { return len(h.levels) }

// Values returns the readings oldest first. The slice aliases internal
// storage and is only valid until the next Push or Reset.
func (h *History) Values() []float64 { return h.levels }

// Reset drops all readings.
func (h *History) Reset() { h.levels = h.levels[:0] }

// UpdateNoiseFloor blends the percentile sample of history into floor.
// Histories shorter than cfg.MinSamples leave floor unchanged. The result is
// never below cfg.MinNoiseFloor.
func UpdateNoiseFloor(floor float64, history []float64, cfg vad.Config) float64 {
	n := len(history)
	if n < cfg.MinSamples || n == 0 {
		return floor
	}
	sorted := slices.Clone(history)
	slices.Sort(sorted)
	idx := min(int(math.Floor(cfg.Percentile*float64(n))), n-1)
	blended := floor*cfg.Smoothing + sorted[idx]*(1-cfg.Smoothing)
	return max(blended, cfg.MinNoiseFloor)
}

// SpeechThreshold returns the level a reading must exceed to be speech.
func SpeechThreshold(floor float64, cfg vad.Config) float64 {
	return max(floor+cfg.Margin, cfg.MinThreshold)
}

// Classify applies the instantaneous gate to level and counts how many
// history readings also pass it.
func Classify(level, floor float64, history []float64, cfg vad.Config) (isSpeechLevel bool, recentHigh int) {
	threshold := SpeechThreshold(floor, cfg)
	isSpeechLevel = level > threshold && level > cfg.AbsoluteFloor
	for _, l := range history {
		if l > threshold && l > cfg.AbsoluteFloor {
			recentHigh++
		}
	}
	return isSpeechLevel, recentHigh
}

// Detector is a single-stream [vad.SessionHandle]. It is not safe for
// concurrent use.
type Detector struct {
	cfg     vad.Config
	history *History
	floor   float64
	counter int
	active  bool
	closed  bool
}

// NewDetector returns a detector with cfg (zero fields defaulted).
func NewDetector(cfg vad.Config) *Detector {
	cfg = cfg.WithDefaults()
	return &Detector{
		cfg:     cfg,
		history: NewHistory(cfg.HistorySize),
		floor:   cfg.InitialNoiseFloor,
	}
}

// ProcessLevel implements [vad.SessionHandle].
func (d *Detector) ProcessLevel(level float64) (vad.Decision, error) {
	if d.closed {
		return vad.Decision{}, errClosed
	}
	if math.IsNaN(level) {
		level = d.cfg.MinNoiseFloor
	}

	d.history.Push(level)
	d.floor = UpdateNoiseFloor(d.floor, d.history.Values(), d.cfg)
	isSpeech, recent := Classify(level, d.floor, d.history.Values(), d.cfg)

	dec := vad.Decision{
		Type:          vad.EventSilence,
		Level:         level,
		NoiseFloor:    d.floor,
		Threshold:     SpeechThreshold(d.floor, d.cfg),
		IsSpeechLevel: isSpeech,
		RecentHigh:    recent,
	}

	if isSpeech && recent >= d.cfg.Corroboration {
		d.counter++
		switch {
		case !d.active && d.counter >= d.cfg.ConfirmCount:
			d.active = true
			dec.Type = vad.EventSpeechStart
		case d.active:
			dec.Type = vad.EventSpeechContinue
		default:
			dec.Type = vad.EventSpeechCandidate
		}
	} else if !isSpeech && d.counter > 0 {
		d.counter--
	}
	dec.Counter = d.counter
	return dec, nil
}

// EndSegment implements [vad.SessionHandle].
func (d *Detector) EndSegment() {
	d.history.Reset()
	d.counter = 0
	d.active = false
}

// Reset implements [vad.SessionHandle].
func (d *Detector) Reset() {
	d.EndSegment()
	d.floor = d.cfg.InitialNoiseFloor
}

// NoiseFloor implements [vad.SessionHandle].
func (d *Detector) NoiseFloor() float64 { return d.floor }

// Close implements [vad.SessionHandle].
func (d *Detector) Close() error {
	d.closed = true
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Detector)(nil)
)
