// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script Decision responses and inspect the levels that were
// submitted for processing.
//
// Example:
//
//	sess := &mock.Session{
//	    Decisions: []vad.Decision{{Type: vad.EventSpeechStart}},
//	}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call in order.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Decisions is consumed one entry per ProcessLevel call. Once exhausted,
	// ProcessLevel returns a silence decision.
	Decisions []vad.Decision

	// ProcessErr, if non-nil, is returned by every ProcessLevel call.
	ProcessErr error

	// Floor is returned by NoiseFloor.
	Floor float64

	// Levels records every level passed to ProcessLevel.
	Levels []float64

	// CallCountEndSegment records how many times EndSegment was called.
	CallCountEndSegment int

	// CallCountReset records how many times Reset was called.
	CallCountReset int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// ProcessLevel records level and returns the next scripted Decision.
func (s *Session) ProcessLevel(level float64) (vad.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Levels = append(s.Levels, level)
	if s.ProcessErr != nil {
		return vad.Decision{}, s.ProcessErr
	}
	if len(s.Decisions) == 0 {
		return vad.Decision{Type: vad.EventSilence, Level: level, NoiseFloor: s.Floor}, nil
	}
	d := s.Decisions[0]
	s.Decisions = s.Decisions[1:]
	d.Level = level
	return d, nil
}

// EndSegment records the call.
func (s *Session) EndSegment() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountEndSegment++
}

// Reset records the call.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountReset++
}

// NoiseFloor returns Floor.
func (s *Session) NoiseFloor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Floor
}

// Close records the call and returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Resets returns CallCountReset under the lock.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountReset
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
