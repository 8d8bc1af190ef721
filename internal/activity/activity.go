// Package activity records which files each session touches and derives
// uncommitted file sets and cross-session conflicts from that log.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

const (
	// DefaultLimit caps Query results when no limit is given.
	DefaultLimit = 100

	// DefaultFileWindow is the recency window for FileActivity.
	DefaultFileWindow = 5 * time.Minute

	// DefaultRetention is how long activity rows are kept.
	DefaultRetention = 24 * time.Hour

	// OrphanAge is how long a session must have been inactive before its
	// uncommitted rows are reclaimed.
	OrphanAge = 30 * time.Minute
)

var (
	// ErrInvalidOperation is returned for an operation outside read, edit, write, delete.
	ErrInvalidOperation = errors.New("activity: invalid operation")

	// ErrMissingField is returned when a required input field is empty.
	ErrMissingField = errors.New("activity: missing required field")

	// ErrEmptyCommitHash is returned when marking work committed without a hash.
	ErrEmptyCommitHash = errors.New("activity: commit hash is required")
)

// ValidOperations lists the accepted operation names.
var ValidOperations = []string{models.OpRead, models.OpEdit, models.OpWrite, models.OpDelete}

// IsValidOperation reports whether op is one of ValidOperations.
func IsValidOperation(op string) bool {
	for _, v := range ValidOperations {
		if op == v {
			return true
		}
	}
	return false
}

// Input is one file operation to record.
type Input struct {
	SessionID string  `json:"session_id"`
	FilePath  string  `json:"file_path"`
	Operation string  `json:"operation"`
	Branch    *string `json:"branch"`
	Intent    *string `json:"intent"`
}

// Query filters activity records. Zero values match everything.
type Query struct {
	FilePath        string
	SessionID       string
	ExcludeSession  string
	Since           time.Duration // only rows newer than now-Since
	UncommittedOnly bool
	CommittedOnly   bool
	Limit           int
}

// CleanupResult counts rows removed by RunCleanup.
type CleanupResult struct {
	OldRecords      int64 `json:"old_records"`
	OrphanedRecords int64 `json:"orphaned_records"`
}

// Conflict is another session's recent operation on a file the caller has
// not yet committed.
type Conflict struct {
	FilePath  string    `json:"file_path"`
	SessionID string    `json:"session_id"`
	Operation string    `json:"operation"`
	CreatedAt time.Time `json:"created_at"`
}

// Tracker reads and writes the activity log.
type Tracker struct {
	db        *gorm.DB
	now       func() time.Time
	retention time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithRetention overrides DefaultRetention for RunCleanup.
func WithRetention(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

// New creates a Tracker backed by db.
func New(db *gorm.DB, opts ...Option) *Tracker {
	t := &Tracker{
		db:        db,
		now:       func() time.Time { return time.Now().UTC() },
		retention: DefaultRetention,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Log appends one operation and returns its id.
func (t *Tracker) Log(ctx context.Context, in Input) (uint, error) {
	if in.SessionID == "" || in.FilePath == "" || in.Operation == "" {
		return 0, fmt.Errorf("%w: session_id, file_path and operation are required", ErrMissingField)
	}
	if !IsValidOperation(in.Operation) {
		return 0, fmt.Errorf("%w %q", ErrInvalidOperation, in.Operation)
	}

	rec := models.ActivityRecord{
		SessionID: in.SessionID,
		FilePath:  in.FilePath,
		Operation: in.Operation,
		Branch:    in.Branch,
		Intent:    in.Intent,
		CreatedAt: t.now(),
	}
	if err := t.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("activity: log: %w", err)
	}
	return rec.ID, nil
}

// Query returns matching records, newest first.
func (t *Tracker) Query(ctx context.Context, q Query) ([]models.ActivityRecord, error) {
	tx := t.db.WithContext(ctx)
	if q.FilePath != "" {
		tx = tx.Where("file_path = ?", q.FilePath)
	}
	if q.SessionID != "" {
		tx = tx.Where("session_id = ?", q.SessionID)
	}
	if q.ExcludeSession != "" {
		tx = tx.Where("session_id <> ?", q.ExcludeSession)
	}
	if q.Since > 0 {
		tx = tx.Where("created_at > ?", t.now().Add(-q.Since))
	}
	if q.UncommittedOnly {
		tx = tx.Where("committed = ?", false)
	}
	if q.CommittedOnly {
		tx = tx.Where("committed = ?", true)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	var records []models.ActivityRecord
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("activity: query: %w", err)
	}
	return records, nil
}

// SessionActivity returns a session's records, newest first.
func (t *Tracker) SessionActivity(ctx context.Context, sessionID string, uncommittedOnly bool) ([]models.ActivityRecord, error) {
	return t.Query(ctx, Query{SessionID: sessionID, UncommittedOnly: uncommittedOnly})
}

// FileActivity returns other sessions' recent operations on path. A zero
// window means DefaultFileWindow.
func (t *Tracker) FileActivity(ctx context.Context, path, excludeSession string, since time.Duration) ([]models.ActivityRecord, error) {
	if since <= 0 {
		since = DefaultFileWindow
	}
	return t.Query(ctx, Query{FilePath: path, ExcludeSession: excludeSession, Since: since})
}

// UncommittedFiles returns the distinct paths a session has touched but not
// committed, most recently touched first.
func (t *Tracker) UncommittedFiles(ctx context.Context, sessionID string) ([]string, error) {
	var paths []string
	err := t.db.WithContext(ctx).Model(&models.ActivityRecord{}).
		Where("session_id = ? AND committed = ?", sessionID, false).
		Group("file_path").
		Order("MAX(id) DESC").
		Pluck("file_path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("activity: uncommitted files for %s: %w", sessionID, err)
	}
	return paths, nil
}

// Conflicts returns recent operations by other sessions on files this
// session has not committed yet.
func (t *Tracker) Conflicts(ctx context.Context, sessionID string, since time.Duration) ([]Conflict, error) {
	files, err := t.UncommittedFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	if since <= 0 {
		since = DefaultFileWindow
	}

	var records []models.ActivityRecord
	err = t.db.WithContext(ctx).
		Where("file_path IN ? AND session_id <> ? AND created_at > ?", files, sessionID, t.now().Add(-since)).
		Order("created_at DESC").Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("activity: conflicts for %s: %w", sessionID, err)
	}

	conflicts := make([]Conflict, 0, len(records))
	for _, r := range records {
		conflicts = append(conflicts, Conflict{
			FilePath:  r.FilePath,
			SessionID: r.SessionID,
			Operation: r.Operation,
			CreatedAt: r.CreatedAt,
		})
	}
	return conflicts, nil
}

// MarkCommitted flags every uncommitted row of the session as part of
// commitHash. Rows already committed are left alone, so a repeat call
// updates nothing.
func (t *Tracker) MarkCommitted(ctx context.Context, sessionID, commitHash string) (int64, error) {
	if commitHash == "" {
		return 0, ErrEmptyCommitHash
	}
	result := t.db.WithContext(ctx).Model(&models.ActivityRecord{}).
		Where("session_id = ? AND committed = ?", sessionID, false).
		Updates(map[string]interface{}{
			"committed":   true,
			"commit_hash": commitHash,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("activity: mark committed for %s: %w", sessionID, result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupOld deletes rows older than olderThan (DefaultRetention when zero).
func (t *Tracker) CleanupOld(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = DefaultRetention
	}
	result := t.db.WithContext(ctx).
		Where("created_at < ?", t.now().Add(-olderThan)).
		Delete(&models.ActivityRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("activity: cleanup old: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupOrphaned deletes uncommitted rows of sessions that have been
// inactive for longer than OrphanAge. Committed history is kept.
func (t *Tracker) CleanupOrphaned(ctx context.Context) (int64, error) {
	db := t.db.WithContext(ctx)
	abandoned := db.Model(&models.Session{}).
		Select("id").
		Where("status = ? AND deactivated_at < ?", models.SessionInactive, t.now().Add(-OrphanAge))

	result := db.Where("committed = ? AND session_id IN (?)", false, abandoned).
		Delete(&models.ActivityRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("activity: cleanup orphaned: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RunCleanup runs CleanupOld with the configured retention, then
// CleanupOrphaned.
func (t *Tracker) RunCleanup(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	old, err := t.CleanupOld(ctx, t.retention)
	if err != nil {
		return res, err
	}
	res.OldRecords = old

	orphaned, err := t.CleanupOrphaned(ctx)
	if err != nil {
		return res, err
	}
	res.OrphanedRecords = orphaned
	return res, nil
}
