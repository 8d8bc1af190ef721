package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/db"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLog(t *testing.T) (*Log, *testClock) {
	t.Helper()
	gdb, err := db.OpenAndMigrate(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(gdb, WithClock(clock.Now)), clock
}

func intPtr(n int) *int { return &n }

func TestRecord(t *testing.T) {
	l, _ := newTestLog(t)
	row, err := l.Record(context.Background(), Entry{
		Service: "github", Command: "gh", ExitCode: intPtr(0), Duration: 1500 * time.Millisecond, ClientID: "laptop-1",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if row.ID == 0 {
		t.Error("expected id")
	}
	if row.DurationMs == nil || *row.DurationMs != 1500 {
		t.Errorf("DurationMs = %v, want 1500", row.DurationMs)
	}

	if _, err := l.Record(context.Background(), Entry{Command: "gh"}); err == nil {
		t.Error("expected error without service")
	}
}

func TestListAndTotals(t *testing.T) {
	l, clock := newTestLog(t)
	ctx := context.Background()

	l.Record(ctx, Entry{Service: "github", Command: "gh", ExitCode: intPtr(0), ClientID: "a"})
	clock.Advance(time.Minute)
	l.Record(ctx, Entry{Service: "github", Command: "gh", ExitCode: intPtr(1), ClientID: "b"})
	clock.Advance(time.Minute)
	l.Record(ctx, Entry{Service: "linear", Command: "linear-cc", ClientID: "a"})

	rows, err := l.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 3 || rows[0].Service != "linear" {
		t.Errorf("List newest first failed: %+v", rows)
	}

	rows, _ = l.List(ctx, Filter{ClientID: "a"})
	if len(rows) != 2 {
		t.Errorf("len(client a) = %d, want 2", len(rows))
	}
	rows, _ = l.List(ctx, Filter{Since: 90 * time.Second})
	if len(rows) != 2 {
		t.Errorf("len(since 90s) = %d, want 2", len(rows))
	}
	rows, _ = l.List(ctx, Filter{Limit: 1})
	if len(rows) != 1 {
		t.Errorf("len(limit 1) = %d, want 1", len(rows))
	}

	totals, err := l.Totals(ctx, Filter{})
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("len(totals) = %d, want 2", len(totals))
	}
	if totals[0].Service != "github" || totals[0].Calls != 2 || totals[0].Failed != 1 {
		t.Errorf("github totals = %+v, want 2 calls / 1 failed", totals[0])
	}
	if totals[1].Service != "linear" || totals[1].Calls != 1 || totals[1].Failed != 0 {
		t.Errorf("linear totals = %+v", totals[1])
	}
}
