// Package usage records tool executions made through the gateway.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

// DefaultLimit caps List results when no limit is given.
const DefaultLimit = 100

// Entry is one execution to record.
type Entry struct {
	Service  string
	Command  string
	ExitCode *int
	Duration time.Duration
	ClientID string
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Service  string
	ClientID string
	Since    time.Duration
	Limit    int
}

// ServiceTotal aggregates executions for one service.
type ServiceTotal struct {
	Service string `json:"service"`
	Calls   int64  `json:"calls"`
	Failed  int64  `json:"failed"`
}

// Log stores usage rows.
type Log struct {
	db  *gorm.DB
	now func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a Log backed by db.
func New(db *gorm.DB, opts ...Option) *Log {
	l := &Log{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Record appends one execution.
func (l *Log) Record(ctx context.Context, e Entry) (*models.UsageLog, error) {
	if e.Service == "" || e.Command == "" {
		return nil, fmt.Errorf("usage: service and command are required")
	}
	row := models.UsageLog{
		Service:   e.Service,
		Command:   e.Command,
		ExitCode:  e.ExitCode,
		ClientID:  e.ClientID,
		CreatedAt: l.now(),
	}
	if e.Duration > 0 {
		ms := e.Duration.Milliseconds()
		row.DurationMs = &ms
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("usage: record %s: %w", e.Service, err)
	}
	return &row, nil
}

// List returns matching rows, newest first.
func (l *Log) List(ctx context.Context, f Filter) ([]models.UsageLog, error) {
	tx := l.filtered(ctx, f)
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	var rows []models.UsageLog
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("usage: list: %w", err)
	}
	return rows, nil
}

// Totals counts calls and non-zero exits per service.
func (l *Log) Totals(ctx context.Context, f Filter) ([]ServiceTotal, error) {
	var totals []ServiceTotal
	err := l.filtered(ctx, f).
		Model(&models.UsageLog{}).
		Select("service, COUNT(*) AS calls, SUM(CASE WHEN exit_code IS NOT NULL AND exit_code <> 0 THEN 1 ELSE 0 END) AS failed").
		Group("service").
		Order("service").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("usage: totals: %w", err)
	}
	return totals, nil
}

func (l *Log) filtered(ctx context.Context, f Filter) *gorm.DB {
	tx := l.db.WithContext(ctx)
	if f.Service != "" {
		tx = tx.Where("service = ?", f.Service)
	}
	if f.ClientID != "" {
		tx = tx.Where("client_id = ?", f.ClientID)
	}
	if f.Since > 0 {
		tx = tx.Where("created_at > ?", l.now().Add(-f.Since))
	}
	return tx
}
