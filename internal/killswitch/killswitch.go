// Package killswitch holds operator flags that stop the gateway from running
// a service, or every service through the global switch.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Global is the switch that stops every service.
const Global = models.GlobalKillSwitch

// Registry reads and flips kill switches in the shared store.
type Registry struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Registry backed by db.
func New(db *gorm.DB) *Registry {
	return &Registry{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// IsKilled reports whether service is stopped, either by its own switch or
// by the global one. The service's own switch is consulted first; its
// reason wins when both are active.
func (r *Registry) IsKilled(ctx context.Context, service string) (bool, string, error) {
	for _, name := range []string{service, Global} {
		var ks models.KillSwitch
		err := r.db.WithContext(ctx).Where("service = ?", name).First(&ks).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("killswitch: check %s: %w", name, err)
		}
		if ks.Active {
			reason := ""
			if ks.Reason != nil {
				reason = *ks.Reason
			}
			return true, reason, nil
		}
	}
	return false, "", nil
}

// Activate turns the switch for service on, creating it if needed.
func (r *Registry) Activate(ctx context.Context, service, reason string) error {
	if service == "" {
		return fmt.Errorf("killswitch: service is required")
	}
	ks := models.KillSwitch{
		Service:   service,
		Active:    true,
		Reason:    &reason,
		UpdatedAt: r.now(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "reason", "updated_at"}),
	}).Create(&ks).Error
	if err != nil {
		return fmt.Errorf("killswitch: activate %s: %w", service, err)
	}
	return nil
}

// Deactivate turns the switch for service off and clears its reason.
// Deactivating a service that was never switched is a no-op.
func (r *Registry) Deactivate(ctx context.Context, service string) error {
	err := r.db.WithContext(ctx).Model(&models.KillSwitch{}).
		Where("service = ?", service).
		Updates(map[string]interface{}{
			"active":     false,
			"reason":     nil,
			"updated_at": r.now(),
		}).Error
	if err != nil {
		return fmt.Errorf("killswitch: deactivate %s: %w", service, err)
	}
	return nil
}

// List returns every known switch, active or not.
func (r *Registry) List(ctx context.Context) ([]models.KillSwitch, error) {
	var switches []models.KillSwitch
	if err := r.db.WithContext(ctx).Order("service").Find(&switches).Error; err != nil {
		return nil, fmt.Errorf("killswitch: list: %w", err)
	}
	return switches, nil
}
