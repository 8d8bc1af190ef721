package main

import (
	"fmt"

	"github.com/zulandar/switchyard/internal/activity"
	"github.com/zulandar/switchyard/internal/autocommit"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/coordination"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/gitexec"
	"github.com/zulandar/switchyard/internal/killswitch"
	"github.com/zulandar/switchyard/internal/notify"
	"github.com/zulandar/switchyard/internal/prwatch"
	"github.com/zulandar/switchyard/internal/ratelimit"
	"github.com/zulandar/switchyard/internal/scheduler"
	"github.com/zulandar/switchyard/internal/session"
	"github.com/zulandar/switchyard/internal/usage"
	"gorm.io/gorm"
)

const defaultConfigPath = "switchyard.yaml"

// connectFromConfig loads the config file and opens the migrated store.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Open(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// app holds every component built from one config.
type app struct {
	cfg          *config.Config
	db           *gorm.DB
	runner       gitexec.Runner
	notifier     *notify.Notifier
	sessions     *session.Registry
	activity     *activity.Tracker
	locks        *coordination.Manager
	autoCommit   *autocommit.Pipeline
	prWatch      *prwatch.Watcher
	killSwitches *killswitch.Registry
	limiter      *ratelimit.Limiter
	usage        *usage.Log
}

func newApp(cfg *config.Config, gormDB *gorm.DB) (*app, error) {
	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	runner := gitexec.ExecRunner{}

	sessions := session.New(gormDB)
	tracker := activity.New(gormDB, activity.WithRetention(cfg.Cleanup.ActivityRetention))

	acOpts := autocommit.OptionsFromConfig(cfg.AutoCommit)
	acOpts.Notifier = notifier
	pipeline := autocommit.New(gormDB, sessions, tracker, runner, acOpts)

	fetcher, err := prwatch.NewGitHubFetcher(cfg.PRWatch, runner)
	if err != nil {
		return nil, err
	}
	watcher := prwatch.NewWatcher(fetcher, tracker, sessions,
		prwatch.WithCache(prwatch.NewCache(cfg.PRWatch.CacheTTL, nil)),
		prwatch.WithBase(cfg.PRWatch.Base),
	)

	return &app{
		cfg:          cfg,
		db:           gormDB,
		runner:       runner,
		notifier:     notifier,
		sessions:     sessions,
		activity:     tracker,
		locks:        coordination.New(gormDB),
		autoCommit:   pipeline,
		prWatch:      watcher,
		killSwitches: killswitch.New(gormDB),
		limiter:      ratelimit.New(gormDB),
		usage:        usage.New(gormDB),
	}, nil
}

func loadApp(configPath string) (*app, error) {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, gormDB)
}

func (a *app) scheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Opts{
		Tick:            a.cfg.AutoCommit.Tick,
		CleanupSchedule: a.cfg.Cleanup.Schedule,
		IdleTimeout:     a.cfg.Cleanup.IdleTimeout,
		StaleSessionAge: a.cfg.Cleanup.StaleSessionAge,
		AutoCommit:      a.autoCommit,
		Activity:        a.activity,
		Sessions:        a.sessions,
		Locks:           a.locks,
	})
}
