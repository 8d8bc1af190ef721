package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/activity"
)

type fakeCommitter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCommitter) ProcessPending(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err == nil, f.err
}

func (f *fakeCommitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCleaner struct {
	result activity.CleanupResult
	err    error
	order  *[]string
}

func (f *fakeCleaner) RunCleanup(context.Context) (activity.CleanupResult, error) {
	*f.order = append(*f.order, "activity")
	return f.result, f.err
}

type fakeSweeper struct {
	idle, stale time.Duration
	order       *[]string
}

func (f *fakeSweeper) DeactivateIdle(_ context.Context, idle time.Duration) (int64, error) {
	f.idle = idle
	*f.order = append(*f.order, "deactivate")
	return 2, nil
}

func (f *fakeSweeper) CleanupStale(_ context.Context, maxAge time.Duration) (int64, error) {
	f.stale = maxAge
	*f.order = append(*f.order, "stale")
	return 1, nil
}

type fakeLocks struct {
	order *[]string
}

func (f *fakeLocks) ReleaseOrphaned(context.Context) (int64, error) {
	*f.order = append(*f.order, "locks")
	return 5, nil
}

func newTestScheduler(t *testing.T, opts Opts) (*Scheduler, *[]string) {
	t.Helper()
	order := &[]string{}
	if opts.AutoCommit == nil {
		opts.AutoCommit = &fakeCommitter{}
	}
	if opts.Activity == nil {
		opts.Activity = &fakeCleaner{result: activity.CleanupResult{OldRecords: 3, OrphanedRecords: 4}, order: order}
	}
	if opts.Sessions == nil {
		opts.Sessions = &fakeSweeper{order: order}
	}
	if opts.Locks == nil {
		opts.Locks = &fakeLocks{order: order}
	}
	if opts.Tick == 0 {
		opts.Tick = time.Second
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, order
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Opts
		want string
	}{
		{"tick too small", Opts{Tick: 10 * time.Millisecond}, "tick must be at least 1s"},
		{"missing deps", Opts{Tick: time.Second}, "dependencies are required"},
		{
			"bad schedule",
			Opts{Tick: time.Second, CleanupSchedule: "whenever", AutoCommit: &fakeCommitter{}, Activity: &fakeCleaner{}, Sessions: &fakeSweeper{}, Locks: &fakeLocks{}},
			"cleanup schedule",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestNew_RegistersJobs(t *testing.T) {
	s, _ := newTestScheduler(t, Opts{CleanupSchedule: "*/15 * * * *"})
	if s.Entries() != 2 {
		t.Errorf("Entries() = %d, want 2", s.Entries())
	}
	s, _ = newTestScheduler(t, Opts{})
	if s.Entries() != 1 {
		t.Errorf("Entries() without cleanup = %d, want 1", s.Entries())
	}
}

func TestCleanup_Order(t *testing.T) {
	s, order := newTestScheduler(t, Opts{IdleTimeout: 15 * time.Minute, StaleSessionAge: 24 * time.Hour})
	report, err := s.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if got := strings.Join(*order, ","); got != "deactivate,activity,stale,locks" {
		t.Errorf("order = %q, want %q", got, "deactivate,activity,stale,locks")
	}
	if report.DeactivatedSessions != 2 || report.DeletedSessions != 1 || report.ReleasedLocks != 5 {
		t.Errorf("report = %+v", report)
	}
	if report.Activity.OldRecords != 3 || report.Activity.OrphanedRecords != 4 {
		t.Errorf("activity = %+v", report.Activity)
	}
	sw := s.opts.Sessions.(*fakeSweeper)
	if sw.idle != 15*time.Minute || sw.stale != 24*time.Hour {
		t.Errorf("durations idle=%v stale=%v", sw.idle, sw.stale)
	}
}

func TestCleanup_SkipsUnsetSweeps(t *testing.T) {
	s, order := newTestScheduler(t, Opts{})
	if _, err := s.Cleanup(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(*order, ","); got != "activity,locks" {
		t.Errorf("order = %q, want %q", got, "activity,locks")
	}
}

func TestCleanup_StopsOnError(t *testing.T) {
	order := &[]string{}
	s, _ := newTestScheduler(t, Opts{
		StaleSessionAge: time.Hour,
		Activity:        &fakeCleaner{err: errors.New("db gone"), order: order},
		Sessions:        &fakeSweeper{order: order},
		Locks:           &fakeLocks{order: order},
	})
	if _, err := s.Cleanup(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	for _, step := range *order {
		if step == "stale" || step == "locks" {
			t.Errorf("%s sweep must not run after a failed activity cleanup", step)
		}
	}
}

func TestStart_RunsAutoCommitTick(t *testing.T) {
	c := &fakeCommitter{}
	s, _ := newTestScheduler(t, Opts{AutoCommit: c})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	deadline := time.Now().Add(3 * time.Second)
	for c.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)

	if c.count() == 0 {
		t.Error("auto-commit tick never ran")
	}
}
