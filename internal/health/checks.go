package health

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/murmur/internal/resilience"
)

// stallFactor is how many poll intervals may pass without a tick before the
// turn loop counts as stalled.
const stallFactor = 5

// Loop is the part of the turn controller the loop probe needs.
type Loop interface {
	Running() bool
	LastPoll() time.Time
	PollInterval() time.Duration
}

// LoopCheck fails when the turn loop is not running or has not ticked for
// several poll intervals. now is usually time.Now.
func LoopCheck(l Loop, now func() time.Time) Checker {
	return Checker{Name: "turn_loop", Check: func(context.Context) error {
		if !l.Running() {
			return errors.New("not running")
		}
		last := l.LastPoll()
		if last.IsZero() {
			return errors.New("no poll yet")
		}
		if limit := stallFactor * l.PollInterval(); now().Sub(last) > limit {
			return fmt.Errorf("last poll %s ago", now().Sub(last).Round(time.Millisecond))
		}
		return nil
	}}
}

// Connection is the part of the realtime session the socket probe needs.
type Connection interface {
	Connected() bool
}

// RealtimeCheck fails while the realtime socket is not open.
func RealtimeCheck(c Connection) Checker {
	return Checker{Name: "realtime", Check: func(context.Context) error {
		if !c.Connected() {
			return errors.New("socket not open")
		}
		return nil
	}}
}

// BreakerCheck fails when every backend of a fallback group has an open
// circuit. status is usually a Status method of a resilience fallback.
func BreakerCheck(name string, status func() []resilience.EntryStatus) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		entries := status()
		open := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.State != resilience.StateOpen {
				return nil
			}
			open = append(open, e.Name)
		}
		if len(open) == 0 {
			return nil
		}
		return fmt.Errorf("circuit open: %s", strings.Join(open, ", "))
	}}
}
