// Package scheduler drives the periodic work of the gateway: draining due
// auto-commit jobs and sweeping stale sessions and activity.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchyard/internal/activity"
)

// AutoCommitter executes the oldest due auto-commit job.
type AutoCommitter interface {
	ProcessPending(ctx context.Context) (bool, error)
}

// ActivityCleaner prunes old and orphaned activity.
type ActivityCleaner interface {
	RunCleanup(ctx context.Context) (activity.CleanupResult, error)
}

// SessionSweeper retires idle and stale sessions.
type SessionSweeper interface {
	DeactivateIdle(ctx context.Context, idle time.Duration) (int64, error)
	CleanupStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// LockReleaser drops coordination locks whose session is gone.
type LockReleaser interface {
	ReleaseOrphaned(ctx context.Context) (int64, error)
}

// Opts configures a Scheduler.
type Opts struct {
	Tick            time.Duration
	CleanupSchedule string
	IdleTimeout     time.Duration
	StaleSessionAge time.Duration

	AutoCommit AutoCommitter
	Activity   ActivityCleaner
	Sessions   SessionSweeper
	Locks      LockReleaser
}

// CleanupReport counts what one cleanup pass removed or retired.
type CleanupReport struct {
	DeactivatedSessions int64                  `json:"deactivated_sessions"`
	DeletedSessions     int64                  `json:"deleted_sessions"`
	ReleasedLocks       int64                  `json:"released_locks"`
	Activity            activity.CleanupResult `json:"activity"`
}

// Scheduler runs the periodic jobs on a cron.
type Scheduler struct {
	opts Opts
	cron *cron.Cron
	ctx  context.Context
}

// New validates opts and registers the jobs. Nothing runs until Start.
func New(opts Opts) (*Scheduler, error) {
	if opts.Tick < time.Second {
		return nil, fmt.Errorf("scheduler: tick must be at least 1s, got %s", opts.Tick)
	}
	if opts.AutoCommit == nil || opts.Activity == nil || opts.Sessions == nil || opts.Locks == nil {
		return nil, fmt.Errorf("scheduler: auto-commit, activity, session and lock dependencies are required")
	}

	logger := cron.PrintfLogger(log.Default())
	s := &Scheduler{
		opts: opts,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: context.Background(),
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", opts.Tick), func() {
		if _, err := s.AutoCommitTick(s.ctx); err != nil {
			log.Printf("scheduler: auto-commit tick: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("scheduler: auto-commit tick: %w", err)
	}

	if opts.CleanupSchedule != "" {
		if _, err := s.cron.AddFunc(opts.CleanupSchedule, func() {
			report, err := s.Cleanup(s.ctx)
			if err != nil {
				log.Printf("scheduler: cleanup: %v", err)
				return
			}
			log.Printf("scheduler: cleanup deactivated=%d deleted=%d locks=%d activity_old=%d activity_orphaned=%d",
				report.DeactivatedSessions, report.DeletedSessions, report.ReleasedLocks,
				report.Activity.OldRecords, report.Activity.OrphanedRecords)
		}); err != nil {
			return nil, fmt.Errorf("scheduler: cleanup schedule %q: %w", opts.CleanupSchedule, err)
		}
	}
	return s, nil
}

// Start runs the cron in the background until Stop. Jobs use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop halts the cron and waits for running jobs or ctx, whichever ends
// first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Printf("scheduler: stop: %v", ctx.Err())
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// AutoCommitTick executes at most one due auto-commit job.
func (s *Scheduler) AutoCommitTick(ctx context.Context) (bool, error) {
	return s.opts.AutoCommit.ProcessPending(ctx)
}

// Cleanup deactivates idle sessions, prunes activity, deletes stale sessions,
// then releases the locks of every session that no longer exists.
// Deactivation runs first so their uncommitted activity can age into the
// orphan window.
func (s *Scheduler) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	if s.opts.IdleTimeout > 0 {
		n, err := s.opts.Sessions.DeactivateIdle(ctx, s.opts.IdleTimeout)
		if err != nil {
			return report, err
		}
		report.DeactivatedSessions = n
	}

	res, err := s.opts.Activity.RunCleanup(ctx)
	if err != nil {
		return report, err
	}
	report.Activity = res

	if s.opts.StaleSessionAge > 0 {
		n, err := s.opts.Sessions.CleanupStale(ctx, s.opts.StaleSessionAge)
		if err != nil {
			return report, err
		}
		report.DeletedSessions = n
	}

	n, err := s.opts.Locks.ReleaseOrphaned(ctx)
	if err != nil {
		return report, err
	}
	report.ReleasedLocks = n
	return report, nil
}
