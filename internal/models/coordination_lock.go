package models

import "time"

// Coordination lock types.
const (
	LockFile     = "file"
	LockBranch   = "branch"
	LockResource = "resource"
)

// Coordination lock modes.
const (
	LockExclusive = "exclusive"
	LockShared    = "shared"
)

// CoordinationLock is a session's claim on a file, branch or resource. A
// session holds at most one lock per target; re-acquiring changes its mode.
type CoordinationLock struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"size:64;not null;uniqueIndex:idx_coord_lock_owner,priority:1;index" json:"session_id"`
	LockType   string    `gorm:"size:16;not null;uniqueIndex:idx_coord_lock_owner,priority:2;index:idx_coord_lock_target,priority:1" json:"lock_type"` // file, branch, resource
	Target     string    `gorm:"size:512;not null;uniqueIndex:idx_coord_lock_owner,priority:3;index:idx_coord_lock_target,priority:2" json:"target"`
	Mode       string    `gorm:"size:16;not null;default:exclusive" json:"mode"` // exclusive, shared
	AcquiredAt time.Time `json:"acquired_at"`
}
