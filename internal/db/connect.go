package db

import (
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/switchyard/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteParams makes write transactions take the database lock up front and
// wait for it, so concurrent read-modify-write sequences serialize instead of
// failing with SQLITE_BUSY.
const sqliteParams = "_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL&_foreign_keys=on"

// SQLiteDSN builds the DSN for a SQLite database file.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?%s", path, sqliteParams)
}

// MySQLDSN builds a MySQL-compatible DSN (MySQL or a Dolt sql-server).
func MySQLDSN(cfg config.StoreConfig) string {
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN()
}

// Open connects to the store described by cfg.
func Open(cfg config.StoreConfig) (*gorm.DB, error) {
	gcfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if cfg.Debug {
		gcfg.Logger = logger.Default.LogMode(logger.Info)
	}

	switch cfg.Driver {
	case "sqlite", "":
		db, err := gorm.Open(sqlite.Open(SQLiteDSN(cfg.Path)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", cfg.Path, err)
		}
		return db, nil
	case "mysql":
		db, err := gorm.Open(mysql.Open(MySQLDSN(cfg)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// OpenSQLite opens (creating if needed) a SQLite store at path.
func OpenSQLite(path string) (*gorm.DB, error) {
	return Open(config.StoreConfig{Driver: "sqlite", Path: path})
}
