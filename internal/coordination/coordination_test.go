package coordination

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/session"
	"gorm.io/gorm"
)

// testClock ticks one second per reading so acquisition order is stable.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	mgr      *Manager
	sessions *session.Registry
	db       *gorm.DB
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	gdb, err := db.OpenAndMigrate(filepath.Join(t.TempDir(), "coordination.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		mgr:      New(gdb, WithClock(clock.Now)),
		sessions: session.New(gdb),
		db:       gdb,
	}
	for _, id := range ids {
		f.addSession(t, id)
	}
	return f
}

func (f *fixture) addSession(t *testing.T, id string) {
	t.Helper()
	branch := "feature/" + id
	_, err := f.sessions.Create(context.Background(), session.CreateInput{
		ID: id, User: "user-" + id, Project: "app", Cwd: "/work/app", Branch: &branch, ClientID: "client-" + id,
	})
	if err != nil {
		t.Fatalf("create session %s: %v", id, err)
	}
}

func (f *fixture) mustAcquire(t *testing.T, sessionID, lockType, target, mode string) {
	t.Helper()
	res, err := f.mgr.Acquire(context.Background(), sessionID, lockType, target, mode)
	if err != nil {
		t.Fatalf("Acquire(%s, %s): %v", sessionID, target, err)
	}
	if !res.Allowed {
		t.Fatalf("Acquire(%s, %s) refused: %s", sessionID, target, res.Reason)
	}
}

func TestAcquire_Conflicts(t *testing.T) {
	tests := []struct {
		name      string
		heldMode  string
		wantMode  string
		allowed   bool
		wantCause string
	}{
		{"exclusive blocks exclusive", models.LockExclusive, models.LockExclusive, false, "Target locked by another session (exclusive)"},
		{"exclusive blocks shared", models.LockExclusive, models.LockShared, false, "Target has exclusive lock from another session"},
		{"shared blocks exclusive", models.LockShared, models.LockExclusive, false, "Target locked by another session (shared)"},
		{"shared admits shared", models.LockShared, models.LockShared, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "s1", "s2")
			f.mustAcquire(t, "s1", models.LockFile, "src/a.ts", tt.heldMode)

			res, err := f.mgr.Acquire(context.Background(), "s2", models.LockFile, "src/a.ts", tt.wantMode)
			if err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			if res.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v", res.Allowed, tt.allowed)
			}
			if tt.allowed {
				return
			}
			if res.BlockingSession != "s1" {
				t.Errorf("BlockingSession = %q, want %q", res.BlockingSession, "s1")
			}
			if res.Reason != tt.wantCause {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantCause)
			}
		})
	}
}

func TestAcquire_OwnLocksNeverConflict(t *testing.T) {
	f := newFixture(t, "s1")
	ctx := context.Background()
	f.mustAcquire(t, "s1", models.LockFile, "a.ts", models.LockShared)
	f.mustAcquire(t, "s1", models.LockFile, "a.ts", models.LockExclusive)

	locks, err := f.mgr.SessionLocks(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionLocks: %v", err)
	}
	if len(locks) != 1 {
		t.Fatalf("locks = %d, want 1 after re-acquire", len(locks))
	}
	if locks[0].Mode != models.LockExclusive {
		t.Errorf("Mode = %q, want upgraded to exclusive", locks[0].Mode)
	}
}

func TestAcquire_TargetsAreIndependent(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	f.mustAcquire(t, "s1", models.LockFile, "a.ts", models.LockExclusive)
	f.mustAcquire(t, "s2", models.LockFile, "b.ts", models.LockExclusive)
	// Same name, different lock type.
	f.mustAcquire(t, "s2", models.LockResource, "a.ts", models.LockExclusive)
}

func TestAcquire_DefaultsToExclusive(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	f.mustAcquire(t, "s1", models.LockBranch, "refs/heads/main", "")

	res, _ := f.mgr.Acquire(context.Background(), "s2", models.LockBranch, "refs/heads/main", models.LockShared)
	if res.Allowed {
		t.Error("shared request should be blocked by a default (exclusive) lock")
	}
}

func TestAcquire_Invalid(t *testing.T) {
	f := newFixture(t, "s1")
	ctx := context.Background()
	tests := []struct {
		name                            string
		sessionID, lockType, target, md string
		want                            error
	}{
		{"missing target", "s1", models.LockFile, "", "", ErrInvalid},
		{"missing session", "", models.LockFile, "a.ts", "", ErrInvalid},
		{"bad lock type", "s1", "dir", "a.ts", "", ErrInvalid},
		{"bad mode", "s1", models.LockFile, "a.ts", "readwrite", ErrInvalid},
		{"unknown session", "ghost", models.LockFile, "a.ts", "", ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Acquire(ctx, tt.sessionID, tt.lockType, tt.target, tt.md)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAcquire_ConcurrentExclusiveGrantsOne(t *testing.T) {
	ids := []string{"s1", "s2", "s3", "s4", "s5"}
	f := newFixture(t, ids...)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := f.mgr.Acquire(context.Background(), id, models.LockFile, "hot.ts", models.LockExclusive)
			if err != nil {
				t.Errorf("Acquire %s: %v", id, err)
				return
			}
			if res.Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	if granted != 1 {
		t.Errorf("granted = %d, want exactly 1", granted)
	}
}

func TestConflict(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	ctx := context.Background()
	f.mustAcquire(t, "s1", models.LockFile, "a.ts", models.LockShared)

	c, err := f.mgr.Conflict(ctx, "s2", models.LockFile, "a.ts", models.LockShared)
	if err != nil {
		t.Fatalf("Conflict: %v", err)
	}
	if c != nil {
		t.Errorf("shared vs shared conflict = %+v, want nil", c)
	}

	c, err = f.mgr.Conflict(ctx, "s2", models.LockFile, "a.ts", "")
	if err != nil {
		t.Fatalf("Conflict: %v", err)
	}
	if c == nil || c.SessionID != "s1" || c.Mode != models.LockShared {
		t.Errorf("exclusive vs shared conflict = %+v, want s1/shared", c)
	}

	if c, _ := f.mgr.Conflict(ctx, "s1", models.LockFile, "a.ts", ""); c != nil {
		t.Errorf("own lock reported as conflict: %+v", c)
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	ctx := context.Background()
	f.mustAcquire(t, "s1", models.LockFile, "a.ts", models.LockExclusive)
	f.mustAcquire(t, "s1", models.LockFile, "b.ts", models.LockExclusive)

	released, err := f.mgr.Release(ctx, "s1", models.LockFile, "a.ts")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !released {
		t.Error("Release should report the dropped lock")
	}
	if again, _ := f.mgr.Release(ctx, "s1", models.LockFile, "a.ts"); again {
		t.Error("second Release should be a no-op")
	}
	f.mustAcquire(t, "s2", models.LockFile, "a.ts", models.LockExclusive)

	n, err := f.mgr.ReleaseAll(ctx, "s1")
	if err != nil {
		t.Fatalf("ReleaseAll: %v", err)
	}
	if n != 1 {
		t.Errorf("ReleaseAll = %d, want 1", n)
	}
	if locks, _ := f.mgr.SessionLocks(ctx, "s1"); len(locks) != 0 {
		t.Errorf("s1 locks = %d, want 0", len(locks))
	}
	if locks, _ := f.mgr.TargetLocks(ctx, models.LockFile, "a.ts"); len(locks) != 1 || locks[0].SessionID != "s2" {
		t.Errorf("a.ts locks = %+v, want only s2", locks)
	}
}

func TestReleaseOrphaned(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	ctx := context.Background()
	f.mustAcquire(t, "s1", models.LockFile, "a.ts", models.LockExclusive)
	f.mustAcquire(t, "s2", models.LockFile, "b.ts", models.LockExclusive)

	if err := f.sessions.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := f.mgr.ReleaseOrphaned(ctx)
	if err != nil {
		t.Fatalf("ReleaseOrphaned: %v", err)
	}
	if n != 1 {
		t.Errorf("ReleaseOrphaned = %d, want 1", n)
	}
	if locks, _ := f.mgr.SessionLocks(ctx, "s2"); len(locks) != 1 {
		t.Errorf("s2 locks = %d, want 1 kept", len(locks))
	}
}

func TestLockTypeFor(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"src/a.ts", models.LockFile},
		{"refs/heads/main", models.LockBranch},
		{"origin/feature/x", models.LockBranch},
		{"resource:db-migrations", models.LockResource},
		{"/abs/path/refs/x", models.LockFile},
	}
	for _, tt := range tests {
		if got := LockTypeFor(tt.target); got != tt.want {
			t.Errorf("LockTypeFor(%q) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestRequiredMode(t *testing.T) {
	tests := []struct {
		op     string
		want   string
		wantOK bool
	}{
		{"Edit", models.LockExclusive, true},
		{"write", models.LockExclusive, true},
		{"Delete", models.LockExclusive, true},
		{"Read", models.LockShared, true},
		{"Bash", "", true},
		{"chmod", "", false},
	}
	for _, tt := range tests {
		got, ok := RequiredMode(tt.op)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("RequiredMode(%q) = (%q, %v), want (%q, %v)", tt.op, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestCheckOperation(t *testing.T) {
	f := newFixture(t, "s1", "s2")
	ctx := context.Background()
	f.mustAcquire(t, "s1", models.LockFile, "src/edit.ts", models.LockExclusive)
	f.mustAcquire(t, "s1", models.LockFile, "src/read.ts", models.LockShared)

	tests := []struct {
		name    string
		op      string
		target  string
		allowed bool
	}{
		{"edit on exclusive", "Edit", "src/edit.ts", false},
		{"read on exclusive", "Read", "src/edit.ts", false},
		{"read on shared", "Read", "src/read.ts", true},
		{"write on shared", "Write", "src/read.ts", false},
		{"bash ignores locks", "Bash", "src/edit.ts", true},
		{"free file", "Edit", "src/free.ts", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.mgr.CheckOperation(ctx, CheckRequest{SessionID: "s2", Operation: tt.op, Target: tt.target})
			if err != nil {
				t.Fatalf("CheckOperation: %v", err)
			}
			if res.Allowed != tt.allowed {
				t.Fatalf("Allowed = %v, want %v (%s)", res.Allowed, tt.allowed, res.Reason)
			}
			if tt.allowed {
				return
			}
			b := res.BlockingSession
			if b == nil || b.ID != "s1" || b.ClientID != "client-s1" || b.User != "user-s1" {
				t.Errorf("BlockingSession = %+v, want s1/client-s1/user-s1", b)
			}
			if b != nil && (b.Branch == nil || *b.Branch != "feature/s1") {
				t.Errorf("BlockingSession.Branch = %v, want feature/s1", b.Branch)
			}
		})
	}
}

func TestCheckOperation_Invalid(t *testing.T) {
	f := newFixture(t, "s1")
	ctx := context.Background()
	for _, req := range []CheckRequest{
		{SessionID: "s1", Operation: "Edit"},
		{SessionID: "s1", Operation: "chmod", Target: "a.ts"},
	} {
		if _, err := f.mgr.CheckOperation(ctx, req); !errors.Is(err, ErrInvalid) {
			t.Errorf("CheckOperation(%+v) err = %v, want ErrInvalid", req, err)
		}
	}
}
