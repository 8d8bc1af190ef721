package models

import "time"

// GlobalKillSwitch is the service name of the switch that overrides every service.
const GlobalKillSwitch = "__global__"

// KillSwitch is an operator flag disabling one service, or all of them.
type KillSwitch struct {
	Service   string    `gorm:"primaryKey;size:64" json:"service"`
	Active    bool      `gorm:"not null;default:false" json:"active"`
	Reason    *string   `gorm:"type:text" json:"reason"`
	UpdatedAt time.Time `json:"updated_at"`
}
