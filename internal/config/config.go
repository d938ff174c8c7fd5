// Package config provides environment-based configuration management
// All config is loaded from environment variables, optionally seeded from a .env file
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr        string // Format: host:port
	Password    string
	DB          int
	SnapshotTTL time.Duration
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port          int
	LogLevel      slog.Level
	SyncInterval  time.Duration
	ValidationTTL time.Duration
	RateLimitQPS  float64
	EventsSecret  string // enables /ws/events when set
}

// PlatformConfig holds one platform's app credentials and webhook settings
type PlatformConfig struct {
	AppID       string
	AppSecret   string // For HMAC SHA256 signature validation
	VerifyToken string // For webhook verification handshake
	APIVersion  string
}

// WatchdogConfig controls webhook audit purging
type WatchdogConfig struct {
	DiskThreshold float64
	RetentionDays int
}

// Config aggregates all configuration sections
type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	App       AppConfig
	Facebook  PlatformConfig
	Instagram PlatformConfig
	Watchdog  WatchdogConfig
}

// LoadConfig reads configuration from environment variables.
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win.
// Returns error if critical variables are missing
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	// Database Configuration
	cfg.DB.Host = getEnv("DB_HOST", "inbox_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "social_inbox")

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "inbox_redis:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)
	cfg.Redis.SnapshotTTL = getEnvAsDuration("REDIS_SNAPSHOT_TTL", 24*time.Hour)

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.LogLevel = parseLogLevel(getEnv("LOG_LEVEL", "info"))
	cfg.App.SyncInterval = getEnvAsDuration("SYNC_INTERVAL", 5*time.Minute)
	cfg.App.ValidationTTL = getEnvAsDuration("CREDENTIAL_VALIDATION_TTL", 15*time.Minute)
	cfg.App.RateLimitQPS = getEnvAsFloat("GRAPH_RATE_LIMIT_QPS", 5)
	cfg.App.EventsSecret = getEnv("EVENTS_SECRET", "")

	// Platform Configuration
	cfg.Facebook = PlatformConfig{
		AppID:       getEnv("FB_APP_ID", ""),
		AppSecret:   getEnv("FB_APP_SECRET", ""),
		VerifyToken: getEnv("FB_VERIFY_TOKEN", ""),
		APIVersion:  getEnv("FB_API_VERSION", "v19.0"),
	}
	cfg.Instagram = PlatformConfig{
		AppID:       getEnv("IG_APP_ID", cfg.Facebook.AppID),
		AppSecret:   getEnv("IG_APP_SECRET", ""),
		VerifyToken: getEnv("IG_VERIFY_TOKEN", ""),
		APIVersion:  getEnv("IG_API_VERSION", "v19.0"),
	}

	// Watchdog Configuration
	cfg.Watchdog.DiskThreshold = getEnvAsFloat("WATCHDOG_DISK_THRESHOLD", 70)
	cfg.Watchdog.RetentionDays = getEnvAsInt("WATCHDOG_RETENTION_DAYS", 7)

	// Validate critical variables
	required := []struct {
		key   string
		value string
	}{
		{"DB_PASS", cfg.DB.Password},
		{"FB_APP_SECRET", cfg.Facebook.AppSecret},
		{"FB_VERIFY_TOKEN", cfg.Facebook.VerifyToken},
		{"IG_APP_SECRET", cfg.Instagram.AppSecret},
		{"IG_VERIFY_TOKEN", cfg.Instagram.VerifyToken},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("%s environment variable is required", r.key)
		}
	}

	return cfg, nil
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	dsn := mysql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	dsn.DBName = c.Database
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	return dsn.FormatDSN()
}

// Retention returns the webhook audit retention as a duration
func (c WatchdogConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s", "5m")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
