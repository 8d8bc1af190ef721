//go:build integration

package db

import (
	"os"
	"strconv"
	"testing"

	"github.com/zulandar/switchyard/internal/config"
)

// TestMySQL_Migrate runs against a live MySQL or Dolt sql-server given by
// SY_MYSQL_HOST / SY_MYSQL_PORT / SY_MYSQL_DATABASE.
func TestMySQL_Migrate(t *testing.T) {
	host := os.Getenv("SY_MYSQL_HOST")
	if host == "" {
		t.Skip("SY_MYSQL_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("SY_MYSQL_PORT"))
	if port == 0 {
		port = 3306
	}
	database := os.Getenv("SY_MYSQL_DATABASE")
	if database == "" {
		database = "switchyard_test"
	}

	gdb, err := Open(config.StoreConfig{Driver: "mysql", Host: host, Port: port, User: "root", Database: database})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T missing", m)
		}
	}
}
