package models

import "time"

// File operations recorded in the activity log.
const (
	OpRead   = "read"
	OpEdit   = "edit"
	OpWrite  = "write"
	OpDelete = "delete"
)

// ActivityRecord is one observed file operation by a session. Rows are
// append-only apart from the Committed/CommitHash pair.
type ActivityRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"size:64;not null;index" json:"session_id"`
	FilePath   string    `gorm:"size:512;not null;index" json:"file_path"`
	Operation  string    `gorm:"size:16;not null" json:"operation"` // read, edit, write, delete
	Branch     *string   `gorm:"size:128" json:"branch"`
	Intent     *string   `gorm:"type:text" json:"intent"`
	Committed  bool      `gorm:"default:false;index" json:"committed"`
	CommitHash *string   `gorm:"size:64" json:"commit_hash"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// TableName keeps the log in a singular table.
func (ActivityRecord) TableName() string { return "activity_log" }
