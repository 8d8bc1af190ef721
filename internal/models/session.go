package models

import "time"

// Session statuses.
const (
	SessionActive   = "active"
	SessionInactive = "inactive"
)

// Session is one active client connected to the gateway: an agent working in
// a directory on a branch.
type Session struct {
	ID             string     `gorm:"primaryKey;size:64" json:"id"`
	User           string     `gorm:"size:64;not null" json:"user"`
	Project        string     `gorm:"size:128;not null;index" json:"project"`
	Cwd            string     `gorm:"type:text;not null" json:"cwd"`
	Branch         *string    `gorm:"size:128" json:"branch"`
	ClientID       string     `gorm:"size:128;not null;index" json:"client_id"`
	Status         string     `gorm:"size:16;default:active;index" json:"status"` // active, inactive
	DeactivatedAt  *time.Time `json:"deactivated_at"`
	LastActivityAt time.Time  `gorm:"index" json:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at"`
}
