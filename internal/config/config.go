package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	LogLevel   string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	// Shard databases share the server credentials above; each tenant's
	// database is named ShardDBPrefix + shard id.
	ShardDBPrefix         string
	ShardMaxOpenConn      int
	ShardMaxIdleConn      int
	ShardConnMaxLifetime  int
	ShardAcquireTimeoutMS int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionTTLSeconds   int
	SessionSweepSeconds int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:    getenv("APP_SERVICE", "signet"),
		AppVersion: getenv("APP_VERSION", "0.1.0"),
		LogLevel:   getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "mysql"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "3306"),
		DBName:            getenv("DATABASE_NAME", "signet_master"),
		DBUser:            getenv("DATABASE_USER", "root"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),

		ShardDBPrefix:         getenv("SHARD_DB_PREFIX", "signet_tenant_"),
		ShardMaxOpenConn:      getenvInt("SHARD_MAX_OPEN_CONN", 4),
		ShardMaxIdleConn:      getenvInt("SHARD_MAX_IDLE_CONN", 2),
		ShardConnMaxLifetime:  getenvInt("SHARD_CONN_MAX_LIFETIME", 1800),
		ShardAcquireTimeoutMS: getenvInt("SHARD_ACQUIRE_TIMEOUT_MS", 5000),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		SessionTTLSeconds:   getenvInt("SESSION_EXPIRE_SECONDS", 86400),
		SessionSweepSeconds: getenvInt("SESSION_SWEEP_SECONDS", 300),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
