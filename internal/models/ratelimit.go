package models

import "time"

// RateLimitBucket is the persisted token-bucket state for one service.
type RateLimitBucket struct {
	Service       string    `gorm:"primaryKey;size:64" json:"service"`
	Tokens        float64   `gorm:"not null" json:"tokens"`
	LastRefillAt  time.Time `gorm:"not null" json:"last_refill_at"`
	RatePerMinute int       `gorm:"not null" json:"rate_per_minute"`
}

// ConcurrencyLease marks one in-flight request against a service's
// concurrency limit. A lease is live until ExpiresAt; holders extend it by
// renewing.
type ConcurrencyLease struct {
	Token      string    `gorm:"primaryKey;size:36" json:"token"`
	Service    string    `gorm:"size:64;not null;index" json:"service"`
	Holder     string    `gorm:"size:128;not null;index" json:"holder"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
	RenewedAt  time.Time `gorm:"not null" json:"renewed_at"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
}
