// Package autocommit turns a session's uncommitted work into git commits.
// Requests are queued with a debounce; a scheduler tick executes the oldest
// due job through a fixed sequence of safety gates.
package autocommit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/switchyard/internal/activity"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/gitexec"
	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/notify"
	"github.com/zulandar/switchyard/internal/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultCooldown    = 2 * time.Minute
	DefaultDebounce    = 30 * time.Second
	DefaultStepTimeout = 5 * time.Minute
	DefaultTrailer     = "Committed-By: switchyard auto-commit"

	// recentCommitLimit caps the commits reported by Status.
	recentCommitLimit = 5
)

// Domain refusals reported in Result.Error.
const (
	ErrSessionNotFound = "Session not found"
	ErrDisabled        = "Auto-commit disabled for session"
	ErrNoFiles         = "No uncommitted files"
	ErrTrunkBranch     = "Cannot auto-commit on main/master branch"
	ErrNoGitChanges    = "No uncommitted git changes"

	// ErrHeadUnreadable prefixes the git error when the commit landed but
	// its hash could not be read back.
	ErrHeadUnreadable = "Committed but failed to read HEAD: "
)

// ErrInvalidDebounce is returned for a negative debounce.
var ErrInvalidDebounce = errors.New("autocommit: debounce must not be negative")

// Options tunes a Pipeline. Zero values take the package defaults.
type Options struct {
	Cooldown         time.Duration
	DefaultDebounce  time.Duration
	StepTimeout      time.Duration
	Trailer          string
	TypecheckCommand []string
	BuildCommand     []string
	TrunkBranches    []string
	PushDisabled     bool

	Notifier *notify.Notifier
	Now      func() time.Time
}

// OptionsFromConfig maps the auto_commit config section to Options.
func OptionsFromConfig(c config.AutoCommitConfig) Options {
	return Options{
		Cooldown:         c.Cooldown,
		DefaultDebounce:  c.DefaultDebounce,
		StepTimeout:      c.StepTimeout,
		Trailer:          c.Trailer,
		TypecheckCommand: c.TypecheckCommand,
		BuildCommand:     c.BuildCommand,
		TrunkBranches:    c.TrunkBranches,
		PushDisabled:     c.PushDisabled,
	}
}

// Result is the outcome of one pipeline execution. Refusals and tool
// failures set Success=false with a human-readable Error.
type Result struct {
	Success        bool     `json:"success"`
	CommitHash     string   `json:"commit_hash,omitempty"`
	Message        string   `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	FilesCommitted []string `json:"files_committed,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	PushError      string   `json:"push_error,omitempty"`
}

// ConfigUpdate is a partial config change; nil fields are left alone.
type ConfigUpdate struct {
	Enabled    *bool  `json:"enabled"`
	DebounceMs *int64 `json:"debounce_ms"`
}

// RecentCommit is one commit made by a completed job.
type RecentCommit struct {
	Hash string     `json:"hash"`
	At   *time.Time `json:"at"`
}

// Status summarizes a session's auto-commit state.
type Status struct {
	Config        *models.AutoCommitConfig `json:"config"`
	PendingJob    *models.AutoCommitJob    `json:"pending_job"`
	RecentCommits []RecentCommit           `json:"recent_commits"`
}

// Pipeline queues and executes auto-commits.
type Pipeline struct {
	db       *gorm.DB
	sessions *session.Registry
	tracker  *activity.Tracker
	runner   gitexec.Runner
	opts     Options

	// mu serializes executions so a manual run and a scheduled job never
	// commit the same working tree at once.
	mu sync.Mutex
}

// New creates a Pipeline.
func New(db *gorm.DB, sessions *session.Registry, tracker *activity.Tracker, runner gitexec.Runner, opts Options) *Pipeline {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.DefaultDebounce <= 0 {
		opts.DefaultDebounce = DefaultDebounce
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = DefaultStepTimeout
	}
	if opts.Trailer == "" {
		opts.Trailer = DefaultTrailer
	}
	if len(opts.TrunkBranches) == 0 {
		opts.TrunkBranches = []string{"main", "master"}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{
		db:       db,
		sessions: sessions,
		tracker:  tracker,
		runner:   runner,
		opts:     opts,
	}
}

// GetConfig returns the session's config, or nil if none was ever created.
func (p *Pipeline) GetConfig(ctx context.Context, sessionID string) (*models.AutoCommitConfig, error) {
	var cfg models.AutoCommitConfig
	result := p.db.WithContext(ctx).Where("session_id = ?", sessionID).Limit(1).Find(&cfg)
	if result.Error != nil {
		return nil, fmt.Errorf("autocommit: get config %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &cfg, nil
}

// ensureConfig creates the default config for a session if it is missing.
func (p *Pipeline) ensureConfig(tx *gorm.DB, sessionID string) (*models.AutoCommitConfig, error) {
	def := models.AutoCommitConfig{
		SessionID:  sessionID,
		Enabled:    true,
		DebounceMs: p.opts.DefaultDebounce.Milliseconds(),
		UpdatedAt:  p.opts.Now(),
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&def).Error; err != nil {
		return nil, fmt.Errorf("create config: %w", err)
	}
	var cfg models.AutoCommitConfig
	if err := tx.Where("session_id = ?", sessionID).First(&cfg).Error; err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

// UpdateConfig applies u to the session's config, creating it with
// defaults first if needed.
func (p *Pipeline) UpdateConfig(ctx context.Context, sessionID string, u ConfigUpdate) (*models.AutoCommitConfig, error) {
	if u.DebounceMs != nil && *u.DebounceMs < 0 {
		return nil, ErrInvalidDebounce
	}

	var cfg *models.AutoCommitConfig
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := p.ensureConfig(tx, sessionID); err != nil {
			return err
		}
		updates := map[string]interface{}{"updated_at": p.opts.Now()}
		if u.Enabled != nil {
			updates["enabled"] = *u.Enabled
		}
		if u.DebounceMs != nil {
			updates["debounce_ms"] = *u.DebounceMs
		}
		if err := tx.Model(&models.AutoCommitConfig{}).
			Where("session_id = ?", sessionID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("update config: %w", err)
		}

		var loaded models.AutoCommitConfig
		if err := tx.Where("session_id = ?", sessionID).First(&loaded).Error; err != nil {
			return fmt.Errorf("reload config: %w", err)
		}
		cfg = &loaded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("autocommit: update config %s: %w", sessionID, err)
	}
	return cfg, nil
}

// Queue schedules a commit for the session after the debounce, replacing
// any job still pending for it. debounceMs overrides the session's
// configured debounce when non-nil.
func (p *Pipeline) Queue(ctx context.Context, sessionID string, taskID *string, debounceMs *int64) (*models.AutoCommitJob, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("autocommit: session id is required")
	}
	if debounceMs != nil && *debounceMs < 0 {
		return nil, ErrInvalidDebounce
	}

	var job models.AutoCommitJob
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cfg, err := p.ensureConfig(tx, sessionID)
		if err != nil {
			return err
		}
		debounce := cfg.DebounceMs
		if debounceMs != nil {
			debounce = *debounceMs
		}
		now := p.opts.Now()

		if err := tx.Model(&models.AutoCommitJob{}).
			Where("session_id = ? AND status = ?", sessionID, models.JobPending).
			Updates(map[string]interface{}{
				"status":       models.JobCancelled,
				"completed_at": now,
			}).Error; err != nil {
			return fmt.Errorf("cancel pending: %w", err)
		}

		job = models.AutoCommitJob{
			SessionID:   sessionID,
			TaskID:      taskID,
			TriggeredAt: now,
			ExecuteAt:   now.Add(time.Duration(debounce) * time.Millisecond),
			Status:      models.JobPending,
		}
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("insert job: %w", err)
		}

		if err := tx.Model(&models.AutoCommitConfig{}).
			Where("session_id = ?", sessionID).
			Update("pending_since", now).Error; err != nil {
			return fmt.Errorf("stamp pending_since: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("autocommit: queue %s: %w", sessionID, err)
	}
	return &job, nil
}

// CanAutoCommit reports whether the session may commit now, and if not, why.
func (p *Pipeline) CanAutoCommit(ctx context.Context, sessionID string) (bool, string, error) {
	cfg, err := p.GetConfig(ctx, sessionID)
	if err != nil {
		return false, "", err
	}
	if cfg == nil {
		return true, "", nil
	}
	if !cfg.Enabled {
		return false, ErrDisabled, nil
	}
	if cfg.LastCommitAt != nil {
		elapsed := p.opts.Now().Sub(*cfg.LastCommitAt)
		if elapsed < p.opts.Cooldown {
			remaining := (p.opts.Cooldown - elapsed + time.Second - 1) / time.Second
			return false, fmt.Sprintf("Rate limited: %ds until next commit allowed", remaining), nil
		}
	}
	return true, "", nil
}

// Status reports the session's config, its pending job, and its most
// recent auto-commits.
func (p *Pipeline) Status(ctx context.Context, sessionID string) (*Status, error) {
	cfg, err := p.GetConfig(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st := &Status{Config: cfg, RecentCommits: []RecentCommit{}}

	var pending models.AutoCommitJob
	result := p.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, models.JobPending).
		Order("execute_at ASC").
		Limit(1).
		Find(&pending)
	if result.Error != nil {
		return nil, fmt.Errorf("autocommit: pending job for %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected > 0 {
		st.PendingJob = &pending
	}

	var completed []models.AutoCommitJob
	if err := p.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, models.JobCompleted).
		Order("completed_at DESC").Order("id DESC").
		Limit(recentCommitLimit).
		Find(&completed).Error; err != nil {
		return nil, fmt.Errorf("autocommit: recent jobs for %s: %w", sessionID, err)
	}
	for _, j := range completed {
		if j.Result == nil {
			continue
		}
		r, err := decodeResult(*j.Result)
		if err != nil || r.CommitHash == "" {
			continue
		}
		st.RecentCommits = append(st.RecentCommits, RecentCommit{Hash: r.CommitHash, At: j.CompletedAt})
	}
	return st, nil
}
