package db

import (
	"fmt"

	"github.com/inksuite/signet/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect returns the dialector for the master store.
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	return NamedDialect(cfg, cfg.DBName)
}

// NamedDialect returns a dialector for an arbitrary database on the
// configured server. Shards reuse the master credentials with their own
// database name.
func NamedDialect(cfg config.Config, name string) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
			name,
		)), nil
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.DBHost,
			cfg.DBUser,
			cfg.DBPassword,
			name,
			cfg.DBPort,
			cfg.DBSSLMode,
		)), nil
	case "sqlite":
		// In-memory, shared by name within the process. Used by tests and
		// single-node dev setups; each "database" is its own namespace.
		return sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}

// ServerDialect returns a dialector connected to the server without
// selecting a shard database, for CREATE DATABASE statements.
func ServerDialect(cfg config.Config) (gorm.Dialector, error) {
	switch cfg.DBType {
	case "mysql":
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBHost,
			cfg.DBPort,
		)), nil
	case "postgres":
		// Postgres has no "no database" connection; the master database
		// doubles as the administrative one.
		return NamedDialect(cfg, cfg.DBName)
	case "sqlite":
		return NamedDialect(cfg, cfg.DBName)
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.DBType)
	}
}
