package models

import "time"

// Auto-commit job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// AutoCommitConfig is the per-session auto-commit policy and its last outcome.
type AutoCommitConfig struct {
	SessionID      string     `gorm:"primaryKey;size:64" json:"session_id"`
	Enabled        bool       `gorm:"not null" json:"enabled"`
	DebounceMs     int64      `gorm:"not null" json:"debounce_ms"`
	LastCommitHash *string    `gorm:"size:64" json:"last_commit_hash"`
	LastCommitAt   *time.Time `json:"last_commit_at"`
	PendingSince   *time.Time `json:"pending_since"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AutoCommitJob is one queued commit attempt for a session.
type AutoCommitJob struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string     `gorm:"size:64;not null;index" json:"session_id"`
	TaskID      *string    `gorm:"size:128" json:"task_id"`
	TriggeredAt time.Time  `gorm:"not null" json:"triggered_at"`
	ExecuteAt   time.Time  `gorm:"not null;index" json:"execute_at"`
	Status      string     `gorm:"size:16;default:pending;index" json:"status"` // pending, running, completed, failed, cancelled
	Result      *string    `gorm:"type:text" json:"result"`
	CompletedAt *time.Time `json:"completed_at"`
}
