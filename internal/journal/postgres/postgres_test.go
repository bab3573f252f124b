package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/murmur/internal/journal/postgres"
	"github.com/MrWong99/murmur/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if MURMUR_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("MURMUR_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MURMUR_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestJournal creates a journal on a freshly dropped table.
func newTestJournal(t *testing.T) *postgres.Journal {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS journal_turns"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	pool.Close()

	j, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_AppendRecent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := range 4 {
		rec := types.TurnRecord{
			SessionID:  "s1",
			Language:   "en",
			UserText:   fmt.Sprintf("question %d", i),
			ReplyText:  fmt.Sprintf("answer %d", i),
			Outcome:    "reply",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 2*time.Second),
		}
		if err := j.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := j.Append(ctx, types.TurnRecord{SessionID: "s2", Outcome: "empty", StartedAt: base, FinishedAt: base}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all, err := j.Recent(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("len = %d, want 4", len(all))
	}
	if all[0].UserText != "question 0" || all[3].ReplyText != "answer 3" {
		t.Errorf("unexpected order: first %q last %q", all[0].UserText, all[3].ReplyText)
	}
	if !all[1].StartedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("StartedAt = %v, want %v", all[1].StartedAt, base.Add(time.Minute))
	}

	tail, err := j.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent(limit 2): %v", err)
	}
	if len(tail) != 2 || tail[0].UserText != "question 2" || tail[1].UserText != "question 3" {
		t.Errorf("tail = %+v, want questions 2 and 3", tail)
	}

	none, err := j.Recent(ctx, "missing", 5)
	if err != nil {
		t.Fatalf("Recent(missing): %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("Recent(missing) = %#v, want empty non-nil slice", none)
	}
}

func TestNew_BadDSN(t *testing.T) {
	t.Parallel()

	if _, err := postgres.New(context.Background(), "::not a dsn::"); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}
