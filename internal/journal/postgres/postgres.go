// Package postgres provides a PostgreSQL-backed [journal.Journal].
//
// Usage:
//
//	j, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer j.Close()
//
//	_ = j.Append(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/murmur/internal/journal"
	"github.com/MrWong99/murmur/pkg/types"
)

var _ journal.Journal = (*Journal)(nil)

const ddlTurns = `
CREATE TABLE IF NOT EXISTS journal_turns (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    language     TEXT         NOT NULL DEFAULT '',
    user_text    TEXT         NOT NULL DEFAULT '',
    reply_text   TEXT         NOT NULL DEFAULT '',
    outcome      TEXT         NOT NULL,
    started_at   TIMESTAMPTZ  NOT NULL,
    finished_at  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_turns_session_started
    ON journal_turns (session_id, started_at);
`

// Migrate creates the journal table and its index if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Journal stores turns in the journal_turns table.
//
// All methods are safe for concurrent use.
type Journal struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Journal, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Journal{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller remains responsible for
// running [Migrate]. Close closes the pool.
func NewFromPool(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Append implements [journal.Journal].
func (j *Journal) Append(ctx context.Context, rec types.TurnRecord) error {
	const q = `
		INSERT INTO journal_turns
		    (session_id, language, user_text, reply_text, outcome, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := j.pool.Exec(ctx, q,
		rec.SessionID,
		rec.Language,
		rec.UserText,
		rec.ReplyText,
		rec.Outcome,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	return nil
}

// Recent implements [journal.Journal].
func (j *Journal) Recent(ctx context.Context, sessionID string, limit int) ([]types.TurnRecord, error) {
	// Newest rows are selected first so LIMIT keeps the tail, then the
	// outer query restores chronological order.
	q := `
		SELECT session_id, language, user_text, reply_text, outcome, started_at, finished_at
		FROM (
		    SELECT *
		    FROM   journal_turns
		    WHERE  session_id = $1
		    ORDER  BY started_at DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		args = append(args, limit)
		q += "\n\t\t    LIMIT $2"
	}
	q += `
		) t
		ORDER BY started_at, id`

	rows, err := j.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.TurnRecord, error) {
		var r types.TurnRecord
		err := row.Scan(&r.SessionID, &r.Language, &r.UserText, &r.ReplyText, &r.Outcome, &r.StartedAt, &r.FinishedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan rows: %w", err)
	}
	if recs == nil {
		recs = []types.TurnRecord{}
	}
	return recs, nil
}

// Close implements [journal.Journal].
func (j *Journal) Close() error {
	j.pool.Close()
	return nil
}
