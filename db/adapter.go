// Package db opens the configured SQL database through gorm.
package db

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ideahub/server/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode. Statements are
// logged through log; those slower than cfg.SlowQuery as warnings.
func Open(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	dial, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dial, &gorm.Config{
		Logger:         NewLogger(log, cfg.SlowQuery),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "db: open %s", cfg.Mode)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, errors.Wrap(err, "db: pool")
	}
	if cfg.Mode == ModeSQLite {
		// SQLite serialises writers; a single connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	sqlDB.SetConnMaxLifetime(cfg.MaxLife)
	return gdb, nil
}

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Mode {
	case ModeSQLite:
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		return sqlite.Open(cfg.SQLitePath), nil
	case ModeMySQL:
		if cfg.MySQLDSN == "" {
			return nil, errors.New("db: database.mysql_dsn is empty")
		}
		return mysql.Open(cfg.MySQLDSN), nil
	case ModePostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("db: database.postgres_dsn is empty")
		}
		return postgres.Open(cfg.PostgresDSN), nil
	default:
		return nil, errors.Errorf("db: unknown mode %q", cfg.Mode)
	}
}

// ensureDir creates the parent directory of a SQLite file. In-memory
// databases and file: URIs are passed through as-is.
func ensureDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return errors.Wrap(os.MkdirAll(dir, 0o755), "db: create sqlite directory")
}
