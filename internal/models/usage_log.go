package models

import "time"

// UsageLog records one tool execution through the gateway.
type UsageLog struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Service    string    `gorm:"size:64;not null;index" json:"service"`
	Command    string    `gorm:"size:128;not null" json:"command"`
	ExitCode   *int      `json:"exit_code"`
	DurationMs *int64    `json:"duration_ms"`
	ClientID   string    `gorm:"size:128;index" json:"client_id"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
