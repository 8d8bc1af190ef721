// Package coordination arbitrates concurrent sessions through advisory locks
// on files, branches and named resources. Exclusive locks block everyone
// else; shared locks block only exclusive requests.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalid is returned for a missing field, unknown lock type, mode or
	// operation.
	ErrInvalid = errors.New("coordination: invalid input")

	// ErrSessionNotFound is returned when acquiring for an unknown session.
	ErrSessionNotFound = errors.New("coordination: session not found")
)

// AcquireResult is the outcome of a lock request. BlockingSession and Reason
// are set only when the request was refused.
type AcquireResult struct {
	Allowed         bool   `json:"allowed"`
	BlockingSession string `json:"blocking_session,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Conflict is another session's lock standing in the way of a request.
type Conflict struct {
	SessionID string `json:"session_id"`
	LockType  string `json:"lock_type"`
	Target    string `json:"target"`
	Mode      string `json:"mode"`
}

// Manager grants and releases locks in the shared store.
type Manager struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager backed by db.
func New(db *gorm.DB, opts ...Option) *Manager {
	m := &Manager{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ValidLockType reports whether t is file, branch or resource.
func ValidLockType(t string) bool {
	switch t {
	case models.LockFile, models.LockBranch, models.LockResource:
		return true
	}
	return false
}

// ValidMode reports whether m is exclusive or shared.
func ValidMode(m string) bool {
	return m == models.LockExclusive || m == models.LockShared
}

func validate(sessionID, lockType, target string) error {
	if sessionID == "" || target == "" {
		return fmt.Errorf("%w: session_id and target are required", ErrInvalid)
	}
	if !ValidLockType(lockType) {
		return fmt.Errorf("%w: lock_type %q must be file, branch or resource", ErrInvalid, lockType)
	}
	return nil
}

// Acquire grants sessionID a lock on target unless another session holds a
// conflicting one. Re-acquiring a held target updates its mode. The conflict
// check and the write share one transaction.
func (m *Manager) Acquire(ctx context.Context, sessionID, lockType, target, mode string) (AcquireResult, error) {
	if mode == "" {
		mode = models.LockExclusive
	}
	if err := validate(sessionID, lockType, target); err != nil {
		return AcquireResult{}, err
	}
	if !ValidMode(mode) {
		return AcquireResult{}, fmt.Errorf("%w: mode %q must be exclusive or shared", ErrInvalid, mode)
	}

	var res AcquireResult
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sessions int64
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Count(&sessions).Error; err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if sessions == 0 {
			return ErrSessionNotFound
		}

		conflict, err := findConflict(tx, sessionID, lockType, target, mode)
		if err != nil {
			return err
		}
		if conflict != nil {
			res = AcquireResult{
				Allowed:         false,
				BlockingSession: conflict.SessionID,
				Reason:          refusalReason(mode, conflict),
			}
			return nil
		}

		lock := models.CoordinationLock{
			SessionID:  sessionID,
			LockType:   lockType,
			Target:     target,
			Mode:       mode,
			AcquiredAt: m.now(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "lock_type"}, {Name: "target"}},
			DoUpdates: clause.AssignmentColumns([]string{"mode", "acquired_at"}),
		}).Create(&lock).Error; err != nil {
			return fmt.Errorf("save lock: %w", err)
		}
		res = AcquireResult{Allowed: true}
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		return AcquireResult{}, err
	}
	if err != nil {
		return AcquireResult{}, fmt.Errorf("coordination: acquire %s %s for %s: %w", lockType, target, sessionID, err)
	}
	return res, nil
}

func refusalReason(mode string, c *Conflict) string {
	if mode == models.LockExclusive {
		return fmt.Sprintf("Target locked by another session (%s)", c.Mode)
	}
	return "Target has exclusive lock from another session"
}

// findConflict returns the oldest lock held by another session that blocks
// a request in mode, or nil.
func findConflict(tx *gorm.DB, sessionID, lockType, target, mode string) (*Conflict, error) {
	q := tx.Where("lock_type = ? AND target = ? AND session_id <> ?", lockType, target, sessionID)
	if mode == models.LockShared {
		q = q.Where("mode = ?", models.LockExclusive)
	}
	var lock models.CoordinationLock
	result := q.Order("acquired_at").Order("id").Limit(1).Find(&lock)
	if result.Error != nil {
		return nil, fmt.Errorf("load locks: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &Conflict{
		SessionID: lock.SessionID,
		LockType:  lock.LockType,
		Target:    lock.Target,
		Mode:      lock.Mode,
	}, nil
}

// Conflict reports the lock that would block sessionID from taking target
// in mode, without acquiring anything. An empty mode means exclusive.
func (m *Manager) Conflict(ctx context.Context, sessionID, lockType, target, mode string) (*Conflict, error) {
	if mode == "" {
		mode = models.LockExclusive
	}
	if err := validate(sessionID, lockType, target); err != nil {
		return nil, err
	}
	if !ValidMode(mode) {
		return nil, fmt.Errorf("%w: mode %q must be exclusive or shared", ErrInvalid, mode)
	}
	c, err := findConflict(m.db.WithContext(ctx), sessionID, lockType, target, mode)
	if err != nil {
		return nil, fmt.Errorf("coordination: conflict %s %s: %w", lockType, target, err)
	}
	return c, nil
}

// Release drops one lock and reports whether it existed.
func (m *Manager) Release(ctx context.Context, sessionID, lockType, target string) (bool, error) {
	result := m.db.WithContext(ctx).
		Where("session_id = ? AND lock_type = ? AND target = ?", sessionID, lockType, target).
		Delete(&models.CoordinationLock{})
	if result.Error != nil {
		return false, fmt.Errorf("coordination: release %s %s for %s: %w", lockType, target, sessionID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ReleaseAll drops every lock held by sessionID.
func (m *Manager) ReleaseAll(ctx context.Context, sessionID string) (int64, error) {
	result := m.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.CoordinationLock{})
	if result.Error != nil {
		return 0, fmt.Errorf("coordination: release all for %s: %w", sessionID, result.Error)
	}
	return result.RowsAffected, nil
}

// ReleaseOrphaned drops locks whose session no longer exists.
func (m *Manager) ReleaseOrphaned(ctx context.Context) (int64, error) {
	result := m.db.WithContext(ctx).
		Where("session_id NOT IN (?)", m.db.Model(&models.Session{}).Select("id")).
		Delete(&models.CoordinationLock{})
	if result.Error != nil {
		return 0, fmt.Errorf("coordination: release orphaned: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SessionLocks lists the locks held by sessionID, oldest first.
func (m *Manager) SessionLocks(ctx context.Context, sessionID string) ([]models.CoordinationLock, error) {
	var locks []models.CoordinationLock
	if err := m.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("acquired_at").Order("id").Find(&locks).Error; err != nil {
		return nil, fmt.Errorf("coordination: locks for %s: %w", sessionID, err)
	}
	return locks, nil
}

// TargetLocks lists every lock on one target, oldest first.
func (m *Manager) TargetLocks(ctx context.Context, lockType, target string) ([]models.CoordinationLock, error) {
	var locks []models.CoordinationLock
	if err := m.db.WithContext(ctx).Where("lock_type = ? AND target = ?", lockType, target).
		Order("acquired_at").Order("id").Find(&locks).Error; err != nil {
		return nil, fmt.Errorf("coordination: locks on %s %s: %w", lockType, target, err)
	}
	return locks, nil
}

// LockTypeFor classifies a target: refs/ and origin/ names are branches,
// resource: names are resources, everything else is a file path.
func LockTypeFor(target string) string {
	switch {
	case strings.HasPrefix(target, "refs/"), strings.HasPrefix(target, "origin/"):
		return models.LockBranch
	case strings.HasPrefix(target, "resource:"):
		return models.LockResource
	default:
		return models.LockFile
	}
}
