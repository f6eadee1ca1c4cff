package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the CartPulse application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Geo        GeoConfig
	Dedup      DedupConfig
	Publish    PublishConfig
	Retention  RetentionConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional analytical event archive.
type ClickHouseConfig struct {
	Enabled  bool
	Addr     string
	Database string
	Username string
	Password string
	// FlushSize and FlushInterval bound the archive write buffer.
	FlushSize     int
	FlushInterval time.Duration
}

type RateLimitConfig struct {
	Enabled    bool
	TrackRPS   float64
	TrackBurst int
	StatsRPS   float64
	StatsBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP lookup.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// DedupConfig holds the per-event-type deduplication windows.
type DedupConfig struct {
	CartWindow     time.Duration
	CheckoutWindow time.Duration
	CheckoutMarker time.Duration
}

// PublishConfig configures live notification fan-out.
type PublishConfig struct {
	Channel     string
	SiteID      string
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

// RetentionConfig controls raw event retention.
type RetentionConfig struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("CARTPULSE_HTTP_ADDR", ":8080"),
			Env:             getEnv("CARTPULSE_ENV", "development"),
			ShutdownTimeout: getDurationEnv("CARTPULSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("CARTPULSE_DB_HOST", "localhost"),
			Port:     getIntEnv("CARTPULSE_DB_PORT", 5432),
			User:     getEnv("CARTPULSE_DB_USER", "cartpulse"),
			Password: getEnv("CARTPULSE_DB_PASSWORD", "cartpulse_secret"),
			DBName:   getEnv("CARTPULSE_DB_NAME", "cartpulse"),
			SSLMode:  getEnv("CARTPULSE_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("CARTPULSE_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("CARTPULSE_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("CARTPULSE_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("CARTPULSE_REDIS_PASSWORD", ""),
			DB:       getIntEnv("CARTPULSE_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:       getBoolEnv("CARTPULSE_CLICKHOUSE_ENABLED", false),
			Addr:          getEnv("CARTPULSE_CLICKHOUSE_ADDR", "localhost:9000"),
			Database:      getEnv("CARTPULSE_CLICKHOUSE_DB", "cartpulse"),
			Username:      getEnv("CARTPULSE_CLICKHOUSE_USER", "default"),
			Password:      getEnv("CARTPULSE_CLICKHOUSE_PASSWORD", ""),
			FlushSize:     getIntEnv("CARTPULSE_CLICKHOUSE_FLUSH_SIZE", 500),
			FlushInterval: getDurationEnv("CARTPULSE_CLICKHOUSE_FLUSH_INTERVAL", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("CARTPULSE_RATE_LIMIT_ENABLED", true),
			TrackRPS:   getFloatEnv("CARTPULSE_RATE_LIMIT_TRACK_RPS", 1000),
			TrackBurst: getIntEnv("CARTPULSE_RATE_LIMIT_TRACK_BURST", 200),
			StatsRPS:   getFloatEnv("CARTPULSE_RATE_LIMIT_STATS_RPS", 50),
			StatsBurst: getIntEnv("CARTPULSE_RATE_LIMIT_STATS_BURST", 10),
		},
		Log: LogConfig{
			Level:  getEnv("CARTPULSE_LOG_LEVEL", "info"),
			Format: getEnv("CARTPULSE_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("CARTPULSE_METRICS_ENABLED", true),
			Path:    getEnv("CARTPULSE_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("CARTPULSE_GEO_ENABLED", false),
			DatabasePath: getEnv("CARTPULSE_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Dedup: DedupConfig{
			CartWindow:     getDurationEnv("CARTPULSE_DEDUP_CART_WINDOW", 30*time.Second),
			CheckoutWindow: getDurationEnv("CARTPULSE_DEDUP_CHECKOUT_WINDOW", 10*time.Minute),
			CheckoutMarker: getDurationEnv("CARTPULSE_DEDUP_CHECKOUT_MARKER", time.Hour),
		},
		Publish: PublishConfig{
			Channel:     getEnv("CARTPULSE_PUBLISH_CHANNEL", "cartpulse:events"),
			SiteID:      getEnv("CARTPULSE_SITE_ID", "default"),
			MaxAttempts: getIntEnv("CARTPULSE_PUBLISH_MAX_ATTEMPTS", 3),
			RetryDelay:  getDurationEnv("CARTPULSE_PUBLISH_RETRY_DELAY", time.Second),
			Timeout:     getDurationEnv("CARTPULSE_PUBLISH_TIMEOUT", 10*time.Second),
		},
		Retention: RetentionConfig{
			MaxAge:   getDurationEnv("CARTPULSE_RETENTION_MAX_AGE", 30*24*time.Hour),
			Interval: getDurationEnv("CARTPULSE_RETENTION_INTERVAL", 6*time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Publish.MaxAttempts < 1 {
		return fmt.Errorf("CARTPULSE_PUBLISH_MAX_ATTEMPTS must be at least 1")
	}
	if c.Retention.MaxAge <= 0 {
		return fmt.Errorf("CARTPULSE_RETENTION_MAX_AGE must be positive")
	}
	if c.Geo.Enabled && strings.TrimSpace(c.Geo.DatabasePath) == "" {
		return fmt.Errorf("CARTPULSE_GEO_DB_PATH is required when geo is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
