package db

import (
	"fmt"

	"github.com/zulandar/switchyard/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model persisted by the control plane.
func AllModels() []interface{} {
	return []interface{}{
		&models.Session{},
		&models.ActivityRecord{},
		&models.RateLimitBucket{},
		&models.ConcurrencyLease{},
		&models.KillSwitch{},
		&models.AutoCommitConfig{},
		&models.AutoCommitJob{},
		&models.UsageLog{},
		&models.CoordinationLock{},
	}
}

// AutoMigrate creates missing tables, columns and indexes. It never drops
// anything, so running it on every start is safe.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// OpenAndMigrate opens a SQLite store at path and migrates it.
func OpenAndMigrate(path string) (*gorm.DB, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
