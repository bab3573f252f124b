// Package journal records completed conversational turns.
//
// A [Journal] is an append-only log of [types.TurnRecord] values grouped by
// session. The turn controller appends one record per finished pipeline run;
// a failing journal never affects the turn itself. [Memory] keeps records in
// process and the postgres sub-package persists them in PostgreSQL.
package journal

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/murmur/pkg/types"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// Journal is the conversation log.
//
// Implementations must be safe for concurrent use.
type Journal interface {
	// Append stores rec.
	Append(ctx context.Context, rec types.TurnRecord) error

	// Recent returns up to limit records of sessionID, oldest first. A limit
	// of zero or less returns every record of the session.
	Recent(ctx context.Context, sessionID string, limit int) ([]types.TurnRecord, error)

	// Close releases resources held by the journal.
	Close() error
}

var _ Journal = (*Memory)(nil)

// Memory is an in-process [Journal]. Records are lost when the process exits.
type Memory struct {
	mu      sync.Mutex
	records map[string][]types.TurnRecord
	closed  bool
}

// NewMemory returns an empty in-process journal.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]types.TurnRecord)}
}

// Append implements [Journal].
func (m *Memory) Append(_ context.Context, rec types.TurnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[rec.SessionID] = append(m.records[rec.SessionID], rec)
	return nil
}

// Recent implements [Journal].
func (m *Memory) Recent(_ context.Context, sessionID string, limit int) ([]types.TurnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	recs := m.records[sessionID]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]types.TurnRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// Close implements [Journal]. Records are discarded.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}
