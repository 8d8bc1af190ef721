package activity

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker(t *testing.T) (*Tracker, *testClock, *gorm.DB) {
	t.Helper()
	gdb, err := db.OpenAndMigrate(filepath.Join(t.TempDir(), "activity.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(gdb, WithClock(clock.Now)), clock, gdb
}

func logOp(t *testing.T, tr *Tracker, session, path, op string) uint {
	t.Helper()
	id, err := tr.Log(context.Background(), Input{SessionID: session, FilePath: path, Operation: op})
	if err != nil {
		t.Fatalf("Log(%s, %s): %v", session, path, err)
	}
	return id
}

func strPtr(s string) *string { return &s }

func TestLog(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	id, err := tr.Log(ctx, Input{
		SessionID: "s1",
		FilePath:  "src/app.ts",
		Operation: models.OpEdit,
		Branch:    strPtr("feature/x"),
		Intent:    strPtr("fix login redirect"),
	})
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	recs, _ := tr.SessionActivity(ctx, "s1", false)
	if len(recs) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(recs))
	}
	if recs[0].Committed {
		t.Error("new record should be uncommitted")
	}
	if recs[0].Intent == nil || *recs[0].Intent != "fix login redirect" {
		t.Errorf("Intent = %v, want %q", recs[0].Intent, "fix login redirect")
	}
}

func TestLog_Validation(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   Input
		want error
	}{
		{"bad op", Input{SessionID: "s", FilePath: "f", Operation: "rename"}, ErrInvalidOperation},
		{"missing session", Input{FilePath: "f", Operation: "edit"}, ErrMissingField},
		{"missing path", Input{SessionID: "s", Operation: "edit"}, ErrMissingField},
		{"missing op", Input{SessionID: "s", FilePath: "f"}, ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Log(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestQuery_Filters(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	ctx := context.Background()

	logOp(t, tr, "s1", "a.go", models.OpEdit)
	clock.Advance(10 * time.Minute)
	logOp(t, tr, "s2", "a.go", models.OpRead)
	clock.Advance(time.Minute)
	logOp(t, tr, "s1", "b.go", models.OpWrite)
	tr.MarkCommitted(ctx, "s1", "abc123")
	logOp(t, tr, "s1", "c.go", models.OpEdit)

	tests := []struct {
		name  string
		q     Query
		paths []string
	}{
		{"all newest first", Query{}, []string{"c.go", "b.go", "a.go", "a.go"}},
		{"by file", Query{FilePath: "a.go"}, []string{"a.go", "a.go"}},
		{"by session", Query{SessionID: "s2"}, []string{"a.go"}},
		{"exclude session", Query{ExcludeSession: "s1"}, []string{"a.go"}},
		{"since", Query{Since: 5 * time.Minute}, []string{"c.go", "b.go", "a.go"}},
		{"uncommitted", Query{UncommittedOnly: true}, []string{"c.go", "a.go"}},
		{"committed", Query{CommittedOnly: true, SessionID: "s1"}, []string{"b.go", "a.go"}},
		{"limit", Query{Limit: 2}, []string{"c.go", "b.go"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := tr.Query(ctx, tt.q)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			got := make([]string, len(recs))
			for i, r := range recs {
				got[i] = r.FilePath
			}
			if strings.Join(got, ",") != strings.Join(tt.paths, ",") {
				t.Errorf("paths = %v, want %v", got, tt.paths)
			}
		})
	}
}

func TestQuery_DefaultLimit(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	for i := 0; i < DefaultLimit+5; i++ {
		logOp(t, tr, "s1", "f.go", models.OpRead)
	}
	recs, _ := tr.Query(context.Background(), Query{})
	if len(recs) != DefaultLimit {
		t.Errorf("len = %d, want %d", len(recs), DefaultLimit)
	}
}

func TestFileActivity_OtherSessionsWithinWindow(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	ctx := context.Background()

	logOp(t, tr, "s2", "shared.go", models.OpEdit)
	clock.Advance(6 * time.Minute)
	logOp(t, tr, "s3", "shared.go", models.OpWrite)
	logOp(t, tr, "s1", "shared.go", models.OpEdit)

	recs, err := tr.FileActivity(ctx, "shared.go", "s1", 0)
	if err != nil {
		t.Fatalf("FileActivity: %v", err)
	}
	if len(recs) != 1 || recs[0].SessionID != "s3" {
		t.Errorf("records = %+v, want only s3's recent write", recs)
	}

	recs, _ = tr.FileActivity(ctx, "shared.go", "s1", time.Hour)
	if len(recs) != 2 {
		t.Errorf("len(records) with 1h window = %d, want 2", len(recs))
	}
}

func TestUncommittedFiles_DistinctMostRecentFirst(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	ctx := context.Background()

	logOp(t, tr, "s1", "a.go", models.OpEdit)
	clock.Advance(time.Second)
	logOp(t, tr, "s1", "b.go", models.OpEdit)
	clock.Advance(time.Second)
	logOp(t, tr, "s1", "a.go", models.OpWrite)
	logOp(t, tr, "s2", "z.go", models.OpEdit)

	files, err := tr.UncommittedFiles(ctx, "s1")
	if err != nil {
		t.Fatalf("UncommittedFiles: %v", err)
	}
	if strings.Join(files, ",") != "a.go,b.go" {
		t.Errorf("files = %v, want [a.go b.go]", files)
	}
}

func TestMarkCommitted_Idempotent(t *testing.T) {
	tr, _, gdb := newTestTracker(t)
	ctx := context.Background()

	logOp(t, tr, "s1", "a.go", models.OpEdit)
	logOp(t, tr, "s1", "b.go", models.OpEdit)
	logOp(t, tr, "s2", "c.go", models.OpEdit)

	n, err := tr.MarkCommitted(ctx, "s1", "deadbeef")
	if err != nil {
		t.Fatalf("MarkCommitted: %v", err)
	}
	if n != 2 {
		t.Errorf("first MarkCommitted = %d, want 2", n)
	}

	n, _ = tr.MarkCommitted(ctx, "s1", "cafebabe")
	if n != 0 {
		t.Errorf("second MarkCommitted = %d, want 0", n)
	}

	files, _ := tr.UncommittedFiles(ctx, "s1")
	if len(files) != 0 {
		t.Errorf("uncommitted files = %v, want none", files)
	}

	var recs []models.ActivityRecord
	gdb.Where("session_id = ?", "s1").Find(&recs)
	for _, r := range recs {
		if r.CommitHash == nil || *r.CommitHash != "deadbeef" {
			t.Errorf("record %d CommitHash = %v, want deadbeef", r.ID, r.CommitHash)
		}
	}

	if files, _ := tr.UncommittedFiles(ctx, "s2"); len(files) != 1 {
		t.Errorf("s2 uncommitted = %v, want [c.go]", files)
	}
}

func TestMarkCommitted_RejectsEmptyHash(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	logOp(t, tr, "s1", "a.go", models.OpEdit)

	_, err := tr.MarkCommitted(context.Background(), "s1", "")
	if !errors.Is(err, ErrEmptyCommitHash) {
		t.Errorf("err = %v, want ErrEmptyCommitHash", err)
	}
	if files, _ := tr.UncommittedFiles(context.Background(), "s1"); len(files) != 1 {
		t.Error("rows should stay uncommitted")
	}
}

func TestConflicts(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	ctx := context.Background()

	logOp(t, tr, "s1", "shared.go", models.OpEdit)
	logOp(t, tr, "s1", "mine.go", models.OpEdit)
	logOp(t, tr, "s2", "shared.go", models.OpWrite)
	logOp(t, tr, "s2", "other.go", models.OpWrite)

	conflicts, err := tr.Conflicts(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("Conflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("len(conflicts) = %d, want 1", len(conflicts))
	}
	if conflicts[0].SessionID != "s2" || conflicts[0].FilePath != "shared.go" {
		t.Errorf("conflict = %+v, want s2 on shared.go", conflicts[0])
	}

	clock.Advance(10 * time.Minute)
	conflicts, _ = tr.Conflicts(ctx, "s1", 0)
	if len(conflicts) != 0 {
		t.Errorf("conflicts outside window = %d, want 0", len(conflicts))
	}

	if c, _ := tr.Conflicts(ctx, "nobody", 0); c != nil {
		t.Errorf("conflicts for session with no files = %v, want nil", c)
	}
}

func TestCleanupOld(t *testing.T) {
	tr, clock, _ := newTestTracker(t)
	ctx := context.Background()

	logOp(t, tr, "s1", "old.go", models.OpEdit)
	clock.Advance(25 * time.Hour)
	logOp(t, tr, "s1", "new.go", models.OpEdit)

	n, err := tr.CleanupOld(ctx, 0)
	if err != nil {
		t.Fatalf("CleanupOld: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	files, _ := tr.UncommittedFiles(ctx, "s1")
	if strings.Join(files, ",") != "new.go" {
		t.Errorf("remaining = %v, want [new.go]", files)
	}
}

func createSession(t *testing.T, gdb *gorm.DB, id, status string, deactivatedAt *time.Time) {
	t.Helper()
	s := models.Session{
		ID:            id,
		User:          "u",
		Project:       "p",
		Cwd:           "/w",
		ClientID:      "c",
		Status:        status,
		DeactivatedAt: deactivatedAt,
	}
	if err := gdb.Create(&s).Error; err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
}

func TestCleanupOrphaned(t *testing.T) {
	tr, clock, gdb := newTestTracker(t)
	ctx := context.Background()

	longAgo := clock.Now().Add(-time.Hour)
	recently := clock.Now().Add(-5 * time.Minute)
	createSession(t, gdb, "abandoned", models.SessionInactive, &longAgo)
	createSession(t, gdb, "paused", models.SessionInactive, &recently)
	createSession(t, gdb, "live", models.SessionActive, nil)

	logOp(t, tr, "abandoned", "a.go", models.OpEdit)
	logOp(t, tr, "abandoned", "committed.go", models.OpEdit)
	tr.MarkCommitted(ctx, "abandoned", "abc")
	logOp(t, tr, "abandoned", "b.go", models.OpEdit)
	logOp(t, tr, "paused", "p.go", models.OpEdit)
	logOp(t, tr, "live", "l.go", models.OpEdit)

	n, err := tr.CleanupOrphaned(ctx)
	if err != nil {
		t.Fatalf("CleanupOrphaned: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	committed, _ := tr.Query(ctx, Query{SessionID: "abandoned", CommittedOnly: true})
	if len(committed) != 2 {
		t.Errorf("committed history = %d rows, want 2 kept", len(committed))
	}
	if files, _ := tr.UncommittedFiles(ctx, "paused"); len(files) != 1 {
		t.Error("recently paused session should keep its rows")
	}
	if files, _ := tr.UncommittedFiles(ctx, "live"); len(files) != 1 {
		t.Error("active session should keep its rows")
	}
}

func TestRunCleanup(t *testing.T) {
	tr, clock, gdb := newTestTracker(t)
	ctx := context.Background()

	logOp(t, tr, "s1", "ancient.go", models.OpEdit)
	clock.Advance(48 * time.Hour)

	gone := clock.Now().Add(-time.Hour)
	createSession(t, gdb, "s2", models.SessionInactive, &gone)
	logOp(t, tr, "s2", "orphan.go", models.OpEdit)

	res, err := tr.RunCleanup(ctx)
	if err != nil {
		t.Fatalf("RunCleanup: %v", err)
	}
	if res.OldRecords != 1 || res.OrphanedRecords != 1 {
		t.Errorf("RunCleanup = %+v, want 1 old and 1 orphaned", res)
	}
}
